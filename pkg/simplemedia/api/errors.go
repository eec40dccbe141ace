package api

import (
	"errors"
	"net/http"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// statusFor maps a failure kind to an HTTP status.
func statusFor(kind simplemedia.Kind) int {
	switch kind {
	case simplemedia.KindValidation, simplemedia.KindTooLarge, simplemedia.KindUnreadableImage:
		return http.StatusBadRequest
	case simplemedia.KindForbidden:
		return http.StatusForbidden
	case simplemedia.KindNotFound, simplemedia.KindSourceNotFound:
		return http.StatusNotFound
	case simplemedia.KindBusy, simplemedia.KindConflict:
		return http.StatusConflict
	case simplemedia.KindUnavailable, simplemedia.KindUploadFailed, simplemedia.KindSourceUnreadable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeServiceError renders err from the service layer. Messages of server
// side failures are not exposed.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := simplemedia.KindOf(err)
	status := statusFor(kind)
	message := err.Error()
	var se *simplemedia.Error
	if errors.As(err, &se) && se.Err != nil {
		message = se.Err.Error()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "request_id", RequestIDFrom(r.Context()), "kind", kind, "err", err)
		message = http.StatusText(status)
	}
	writeError(w, r, status, string(kind), message)
}
