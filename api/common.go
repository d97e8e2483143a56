package api

import (
	"encoding/json"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 envelope wrapping data.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteError logs and writes an error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string, logger *zap.Logger, cause error) {
	if logger != nil {
		logger.Error("API error",
			zap.String("code", code),
			zap.String("message", message),
			zap.Int("status", status),
			zap.Error(cause),
		)
	}
	WriteJSON(w, status, Response{
		Success:   false,
		Error:     &ErrorInfo{Code: code, Message: message},
		Timestamp: time.Now(),
	})
}

// DecodeJSONBody decodes r's body into dst, rejecting unknown fields and
// bodies over 1 MiB.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "request body is empty", logger, nil)
		return errEmptyBody
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", logger, err)
		return err
	}
	return nil
}

// ValidateContentType requires an application/json request body.
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Content-Type must be application/json", logger, err)
		return false
	}
	return true
}

var errEmptyBody = &bodyError{"request body is empty"}

type bodyError struct{ msg string }

func (e *bodyError) Error() string { return e.msg }
