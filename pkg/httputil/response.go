package httputil

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the shape of every error response generated by the gateway.
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(body)
	return err
}

// WriteError writes {"code": status, "message": message}. An empty message is replaced
// by the canonical status text.
func WriteError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	WriteJSON(w, status, ErrorBody{Code: status, Message: message})
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter) {
	WriteError(w, http.StatusUnauthorized, "")
}

// WriteTooManyRequests writes a rate limit error (429)
func WriteTooManyRequests(w http.ResponseWriter) {
	WriteError(w, http.StatusTooManyRequests, "")
}

// WriteInternalError writes a generic 500. Error detail never reaches the caller.
func WriteInternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, "")
}

// NotFoundHandler is the fallback for unmatched routes.
func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, "")
	})
}

// MethodNotAllowedHandler answers routes that exist for other methods.
func MethodNotAllowedHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "")
	})
}
