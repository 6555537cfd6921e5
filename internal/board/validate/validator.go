// Package validate turns untyped live-channel payloads into typed,
// invariant-checked board values.
//
// Shape rules are expressed as JSON Schema documents and compiled once by
// New. Every violation is reported in a single schema.ValidationError whose
// Fields enumerate the offending paths, e.g. "title" or "2/order". The
// package is pure: nothing here touches the store.
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/steveyegge/launchboard/internal/board/schema"
)

// Validator holds the compiled payload schemas. It is safe for concurrent use.
type Validator struct {
	item     *jsonschema.Schema
	folder   *jsonschema.Schema
	items    *jsonschema.Schema
	folders  *jsonschema.Schema
	envelope *jsonschema.Schema
	printer  *message.Printer
}

// New compiles the payload schemas.
func New() (*Validator, error) {
	c := jsonschema.NewCompiler()
	resources := map[string]string{
		"item.json":     itemSchema,
		"folder.json":   folderSchema,
		"items.json":    itemListSchema,
		"folders.json":  folderListSchema,
		"envelope.json": envelopeSchema,
	}
	for name, doc := range resources {
		parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
		if err != nil {
			return nil, errors.Wrapf(err, "parsing schema %s", name)
		}
		if err := c.AddResource(schemaBase+name, parsed); err != nil {
			return nil, errors.Wrapf(err, "adding schema %s", name)
		}
	}

	v := &Validator{printer: message.NewPrinter(language.English)}
	for name, dst := range map[string]**jsonschema.Schema{
		"item.json":     &v.item,
		"folder.json":   &v.folder,
		"items.json":    &v.items,
		"folders.json":  &v.folders,
		"envelope.json": &v.envelope,
	} {
		compiled, err := c.Compile(schemaBase + name)
		if err != nil {
			return nil, errors.Wrapf(err, "compiling schema %s", name)
		}
		*dst = compiled
	}
	return v, nil
}

// MustNew is New for callers that cannot recover from a schema bug.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// wireItem and wireFolder read order as a number so that integral values
// such as 3.0, which the schema accepts, decode cleanly.
type wireItem struct {
	schema.Item
	Order float64 `json:"order"`
}

func (w wireItem) typed() schema.Item {
	item := w.Item
	item.Order = int(w.Order)
	item.IconURL = ""
	return item
}

type wireFolder struct {
	schema.Folder
	Order float64 `json:"order"`
}

func (w wireFolder) typed() schema.Folder {
	folder := w.Folder
	folder.Order = int(w.Order)
	folder.Items = nil
	return folder
}

// Item validates and decodes a single item payload.
func (v *Validator) Item(raw json.RawMessage) (schema.Item, error) {
	if err := v.check(v.item, raw); err != nil {
		return schema.Item{}, err
	}
	var w wireItem
	if err := json.Unmarshal(raw, &w); err != nil {
		return schema.Item{}, schema.NewValidationError("", "malformed item: %v", err)
	}
	return w.typed(), nil
}

// Folder validates and decodes a single folder payload.
func (v *Validator) Folder(raw json.RawMessage) (schema.Folder, error) {
	if err := v.check(v.folder, raw); err != nil {
		return schema.Folder{}, err
	}
	var w wireFolder
	if err := json.Unmarshal(raw, &w); err != nil {
		return schema.Folder{}, schema.NewValidationError("", "malformed folder: %v", err)
	}
	return w.typed(), nil
}

// Items validates and decodes a list of items. The whole list is rejected
// if any entry is invalid or if an id appears twice.
func (v *Validator) Items(raw json.RawMessage) ([]schema.Item, error) {
	if err := v.check(v.items, raw); err != nil {
		return nil, err
	}
	var ws []wireItem
	if err := json.Unmarshal(raw, &ws); err != nil {
		return nil, schema.NewValidationError("", "malformed item list: %v", err)
	}
	items := make([]schema.Item, len(ws))
	ids := make([]string, len(ws))
	for i, w := range ws {
		items[i] = w.typed()
		ids[i] = items[i].ID
	}
	if err := uniqueIDs(ids); err != nil {
		return nil, err
	}
	return items, nil
}

// Folders validates and decodes a list of folders.
func (v *Validator) Folders(raw json.RawMessage) ([]schema.Folder, error) {
	if err := v.check(v.folders, raw); err != nil {
		return nil, err
	}
	var ws []wireFolder
	if err := json.Unmarshal(raw, &ws); err != nil {
		return nil, schema.NewValidationError("", "malformed folder list: %v", err)
	}
	folders := make([]schema.Folder, len(ws))
	ids := make([]string, len(ws))
	for i, w := range ws {
		folders[i] = w.typed()
		ids[i] = folders[i].ID
	}
	if err := uniqueIDs(ids); err != nil {
		return nil, err
	}
	return folders, nil
}

// CheckItem validates an item built server-side, e.g. from an upload form.
func (v *Validator) CheckItem(item schema.Item) error {
	item.IconURL = ""
	raw, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "encoding item")
	}
	return v.check(v.item, raw)
}

// CheckFolder validates a folder built server-side.
func (v *Validator) CheckFolder(folder schema.Folder) error {
	folder.Items = nil
	raw, err := json.Marshal(folder)
	if err != nil {
		return errors.Wrap(err, "encoding folder")
	}
	return v.check(v.folder, raw)
}

// Envelope decodes and validates a raw live-channel frame.
func (v *Validator) Envelope(frame []byte) (schema.Envelope, error) {
	if err := v.check(v.envelope, frame); err != nil {
		return schema.Envelope{}, err
	}
	var env schema.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return schema.Envelope{}, schema.NewValidationError("", "malformed frame: %v", err)
	}
	return env, nil
}

func (v *Validator) check(sch *jsonschema.Schema, raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return schema.NewValidationError("", "payload is required")
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return schema.NewValidationError("", "payload is not valid JSON: %v", err)
	}
	err = sch.Validate(inst)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return errors.Wrap(err, "validating payload")
	}
	out := &schema.ValidationError{}
	v.collect(verr, &out.Fields)
	if len(out.Fields) == 0 {
		out.Fields = append(out.Fields, schema.FieldError{Message: verr.Error()})
	}
	return out
}

// collect flattens the leaves of a validation error tree into field errors.
func (v *Validator) collect(verr *jsonschema.ValidationError, into *[]schema.FieldError) {
	if len(verr.Causes) > 0 {
		for _, cause := range verr.Causes {
			v.collect(cause, into)
		}
		return
	}
	location := strings.Join(verr.InstanceLocation, "/")
	if required, ok := verr.ErrorKind.(*kind.Required); ok {
		for _, missing := range required.Missing {
			*into = append(*into, schema.FieldError{Field: joinField(location, missing), Message: "is required"})
		}
		return
	}
	*into = append(*into, schema.FieldError{
		Field:   location,
		Message: verr.ErrorKind.LocalizedString(v.printer),
	})
}

func joinField(location, name string) string {
	if location == "" {
		return name
	}
	return location + "/" + name
}

func uniqueIDs(ids []string) error {
	seen := make(map[string]int, len(ids))
	var fields []schema.FieldError
	for i, id := range ids {
		if first, dup := seen[id]; dup {
			fields = append(fields, schema.FieldError{
				Field:   fmt.Sprintf("%d/id", i),
				Message: fmt.Sprintf("duplicate id %q (first at %d)", id, first),
			})
			continue
		}
		seen[id] = i
	}
	if len(fields) > 0 {
		return &schema.ValidationError{Fields: fields}
	}
	return nil
}
