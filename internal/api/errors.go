package api

import (
	"log"
	"net/http"

	"cloudshare-backend/internal/apperr"
)

var kindStatus = map[apperr.Kind]int{
	apperr.KindInvalidPath:  http.StatusBadRequest,
	apperr.KindDuplicate:    http.StatusConflict,
	apperr.KindNotFound:     http.StatusNotFound,
	apperr.KindForbidden:    http.StatusForbidden,
	apperr.KindUnauthorized: http.StatusUnauthorized,
	apperr.KindGone:         http.StatusGone,
	apperr.KindConflict:     http.StatusConflict,
	apperr.KindValidation:   http.StatusUnprocessableEntity,
	apperr.KindStore:        http.StatusInternalServerError,
	apperr.KindBlob:         http.StatusBadGateway,
}

// statusFor maps an error kind to its HTTP status
func statusFor(kind apperr.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// errorBody renders the error envelope shared by every failure response
func errorBody(status int, message string, kind apperr.Kind) map[string]interface{} {
	body := map[string]interface{}{
		"code":    status,
		"message": message,
	}
	if kind != "" {
		body["kind"] = kind
	}
	return map[string]interface{}{"error": body}
}

// respondWithAppError writes err using its kind. Infrastructure failures are
// logged and their cause is not exposed.
func (h *Handler) respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s failed: %v", r.Method, r.URL.Path, err)
	}
	h.respondWithJSON(w, status, errorBody(status, apperr.MessageOf(err), kind))
}
