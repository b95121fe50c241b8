package errs

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
)

// Application error codes. These are mapped to HTTP status codes at the
// route boundary but are not HTTP-specific themselves.
const (
	ECONFLICT     = "conflict"
	EINTERNAL     = "internal"
	EINVALID      = "invalid"
	ENOTFOUND     = "not_found"
	EUNAUTHORIZED = "unauthorized"
)

// Error is an application error. Code is machine-readable, Message is
// human-readable and safe to show to an end user.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("error: code=%s message=%s", e.Code, e.Message)
}

// Errorf constructs an Error with the given code and formatted message.
func Errorf(code string, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// ErrorCode extracts the code of an error. Non-application errors count
// as internal, a nil error has no code.
func ErrorCode(err error) string {
	var e *Error
	if err == nil {
		return ""
	} else if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage extracts the user-safe message of an error. Non-application
// errors get a generic message so that internals never leak to the client.
func ErrorMessage(err error) string {
	var e *Error
	if err == nil {
		return ""
	} else if errors.As(err, &e) {
		return e.Message
	}
	return "An internal error has occurred."
}

// statusCodes maps application error codes to HTTP status codes.
var statusCodes = map[string]int{
	ECONFLICT:     http.StatusConflict,
	EINTERNAL:     http.StatusInternalServerError,
	EINVALID:      http.StatusBadRequest,
	ENOTFOUND:     http.StatusNotFound,
	EUNAUTHORIZED: http.StatusUnauthorized,
}

// ErrorStatusCode returns the HTTP status code for an application error code.
func ErrorStatusCode(code string) int {
	if status, ok := statusCodes[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ErrorResponse is the JSON shape of every error returned to a client.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ReturnError writes an error to the response as JSON. Internal errors are
// logged with request correlation and reduced to a generic message.
func ReturnError(w http.ResponseWriter, r *http.Request, err error) {
	code, message := ErrorCode(err), ErrorMessage(err)
	if code == EINTERNAL {
		LogError(r, err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ErrorStatusCode(code))
	json.NewEncoder(w).Encode(&ErrorResponse{Error: message})
}

// LogError logs an error together with the method and path of the request
// it occurred on.
func LogError(r *http.Request, err error) {
	log.Printf("[http] error: %s %s: %s", r.Method, r.URL.Path, err)
}
