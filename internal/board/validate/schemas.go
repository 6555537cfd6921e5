package validate

const schemaBase = "https://launchboard.local/schema/"

const itemSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["id", "title", "icon", "folderId", "order"],
	"properties": {
		"id":       {"type": "string", "minLength": 1},
		"title":    {"type": "string", "minLength": 1},
		"icon":     {"type": "string", "minLength": 1},
		"folderId": {"type": ["string", "null"], "minLength": 1},
		"order":    {"type": "integer", "minimum": 0, "maximum": 2147483647}
	}
}`

const folderSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["id", "name", "isOpen", "order"],
	"properties": {
		"id":     {"type": "string", "minLength": 1},
		"name":   {"type": "string", "minLength": 1},
		"isOpen": {"type": "boolean"},
		"order":  {"type": "integer", "minimum": 0, "maximum": 2147483647}
	}
}`

const itemListSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "array",
	"items": {"$ref": "item.json"}
}`

const folderListSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "array",
	"items": {"$ref": "folder.json"}
}`

const envelopeSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type", "data"],
	"properties": {
		"type": {"enum": ["addItem", "addFolder", "updateItems", "updateFolders"]}
	}
}`
