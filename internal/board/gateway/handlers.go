package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/dustin/go-humanize"
	formschema "github.com/gorilla/schema"
	log "github.com/sirupsen/logrus"

	"github.com/steveyegge/launchboard/internal/board/assets"
	"github.com/steveyegge/launchboard/internal/board/metrics"
	"github.com/steveyegge/launchboard/internal/board/schema"
)

// uploadForm holds the text fields of an icon upload.
type uploadForm struct {
	ID    string `schema:"id,required"`
	Title string `schema:"title,required"`
	Order int    `schema:"order"`
}

var tooLargeMessage = "Icon file too large (max " + humanize.IBytes(assets.MaxIconBytes) + ")"

var formDecoder = func() *formschema.Decoder {
	d := formschema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

// handleUpload stores an icon and creates the item that references it. The
// item is not broadcast here; the uploading client announces it with
// addItem(<id>).
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	status, body := s.upload(w, r)
	outcome := metrics.Ok
	if status >= http.StatusBadRequest {
		outcome = metrics.Fail
	}
	metrics.UploadsTotal.WithLabelValues(outcome).Inc()
	writeJSON(w, status, body)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) (int, interface{}) {
	// Leave headroom for the text fields and multipart framing.
	r.Body = http.MaxBytesReader(w, r.Body, assets.MaxIconBytes+(1<<20))
	if err := r.ParseMultipartForm(assets.MaxIconBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return http.StatusBadRequest, errorBody(tooLargeMessage)
		}
		return http.StatusBadRequest, errorBody("Icon file is required")
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("icon")
	if err != nil {
		return http.StatusBadRequest, errorBody("Icon file is required")
	}
	defer file.Close()

	if header.Size > assets.MaxIconBytes {
		return http.StatusBadRequest, errorBody(tooLargeMessage)
	}
	contentType := header.Header.Get("Content-Type")
	if !assets.AllowedContentTypes[contentType] {
		return http.StatusBadRequest, errorBody("Invalid file type")
	}

	var form uploadForm
	if err := formDecoder.Decode(&form, r.MultipartForm.Value); err != nil {
		return http.StatusBadRequest, errorBody(schema.PublicMessage("create item",
			schema.NewValidationError("", "%v", err)))
	}

	ctx := r.Context()
	key := assets.IconKey(header.Filename, time.Now())
	entry := s.log.WithFields(log.Fields{
		"item": form.ID,
		"key":  key,
		"size": humanize.IBytes(uint64(header.Size)),
	})
	if err := s.cfg.Assets.Put(ctx, key, file, contentType); err != nil {
		entry.WithError(err).Error("failed to store icon")
		return http.StatusInternalServerError, errorBody("Failed to create item")
	}
	metrics.UploadBytesTotal.Add(float64(header.Size))

	item, err := s.engine.CreateUploaded(ctx, schema.Item{
		ID:    form.ID,
		Title: form.Title,
		Icon:  schema.AssetRef(key),
		Order: form.Order,
	})
	switch schema.CategoryOf(err) {
	case "":
		entry.Info("created item from upload")
		return http.StatusOK, item
	case schema.CategoryValidation:
		return http.StatusBadRequest, errorBody(schema.PublicMessage("create item", err))
	case schema.CategoryConflict:
		return http.StatusConflict, errorBody(schema.PublicMessage("create item", err))
	default:
		entry.WithError(err).Error("failed to create item")
		return http.StatusInternalServerError, errorBody("Failed to create item")
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody(msg))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env schema.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
