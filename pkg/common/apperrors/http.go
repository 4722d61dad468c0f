package apperrors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vectorwatch/platform/pkg/common/logger"
)

func HTTPStatus(err error) int {
	switch {
	case IsValidation(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case IsUnauthenticated(err):
		return http.StatusUnauthorized
	case IsAuthorization(err):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func code(err error) string {
	var failed *ConflictResolutionFailedError
	switch {
	case IsValidation(err):
		return "VALIDATION_ERROR"
	case IsNotFound(err):
		return "NOT_FOUND"
	case IsUnauthenticated(err):
		return "UNAUTHORIZED"
	case IsAuthorization(err):
		return "FORBIDDEN"
	case IsDataIntegrity(err):
		return "DATA_INTEGRITY_ERROR"
	case errors.As(err, &failed):
		return "CONFLICT_RESOLUTION_FAILED"
	default:
		return "INTERNAL_ERROR"
	}
}

// WriteError renders err as a JSON error envelope. Server-side failures are
// logged and their message is not echoed to the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	requestID := r.Header.Get("X-Request-ID")

	body := map[string]interface{}{
		"code":       code(err),
		"message":    err.Error(),
		"request_id": requestID,
	}
	var nf *NotFoundError
	if errors.As(err, &nf) && len(nf.IDs) > 0 {
		body["details"] = map[string]interface{}{"missingIds": nf.IDs}
	}

	if status >= http.StatusInternalServerError {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"path":       r.URL.Path,
			"request_id": requestID,
		}).Error("request failed")
		body["message"] = http.StatusText(status)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": body})
}
