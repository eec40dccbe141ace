package presigned

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// Writer stores an uploaded object.
type Writer interface {
	UploadWithParams(ctx context.Context, reader io.Reader, params simplemedia.UploadParams) error
}

// UploadHandler serves PUT requests to signed upload URLs. Mount it under the
// signer's path prefix, e.g. r.Put("/blobs/*", handler.ServeHTTP).
type UploadHandler struct {
	signer *Signer
	writer Writer
	logger *slog.Logger
}

// NewUploadHandler creates an upload handler.
func NewUploadHandler(signer *Signer, writer Writer, logger *slog.Logger) *UploadHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadHandler{signer: signer, writer: writer, logger: logger}
}

func (h *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	key, err := h.signer.ValidateUpload(r)
	if err != nil {
		h.logger.Warn("rejected signed upload", "path", r.URL.Path, "err", err)
		status := http.StatusForbidden
		if err == ErrNoSecretKey {
			status = http.StatusInternalServerError
		}
		render.Status(r, status)
		render.JSON(w, r, map[string]string{"error": err.Error()})
		return
	}

	body := io.LimitReader(r.Body, r.ContentLength)
	err = h.writer.UploadWithParams(r.Context(), body, simplemedia.UploadParams{
		ObjectKey: key,
		MimeType:  r.Header.Get("Content-Type"),
		Size:      r.ContentLength,
	})
	if err != nil {
		h.logger.Error("signed upload failed", "key", key, "err", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "upload failed"})
		return
	}

	h.logger.Info("signed upload stored", "key", key, "size", r.ContentLength)
	w.WriteHeader(http.StatusOK)
}
