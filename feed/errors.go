package feed

import (
	"errors"
	"net/http"
)

// ErrDataDirMissing indicates the configured data directory does not exist
// or is not a directory.
var ErrDataDirMissing = errors.New("data directory does not exist")

// ErrFileNotFound indicates the requested geometry file is not in the
// data directory.
var ErrFileNotFound = errors.New("file not found")

// ErrMissingPathInfo indicates the request carried no path info after the
// mount prefix.
var ErrMissingPathInfo = errors.New("missing path info")

// ErrMissingHost indicates links could not be built: no base URL is
// configured and the request has no Host.
var ErrMissingHost = errors.New("missing host")

// ErrUnsupportedKind indicates the path info suffix is not a known kind.
var ErrUnsupportedKind = errors.New("unsupported type")

// ErrInvalidName indicates a file name that could escape the data directory
// or is not a geometry file name.
var ErrInvalidName = errors.New("invalid file name")

// Error is a configuration or construction error with a stable code.
// StatusCode reports it as 500 unless it wraps a request sentinel, and
// ErrorCode reports its Code.
type Error struct {
	// Message is a human-readable description.
	Message string

	// Code is a machine-readable identifier such as "INVALID_CONFIG".
	Code string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode maps a request error to the HTTP status it is reported with.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMissingPathInfo),
		errors.Is(err, ErrMissingHost),
		errors.Is(err, ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedKind),
		errors.Is(err, ErrFileNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode maps a request error to a stable code for logs and metrics.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDataDirMissing):
		return "DATA_DIR_MISSING"
	case errors.Is(err, ErrFileNotFound):
		return "FILE_NOT_FOUND"
	case errors.Is(err, ErrMissingPathInfo):
		return "MISSING_PATH_INFO"
	case errors.Is(err, ErrMissingHost):
		return "MISSING_HOST"
	case errors.Is(err, ErrUnsupportedKind):
		return "UNSUPPORTED_KIND"
	case errors.Is(err, ErrInvalidName):
		return "INVALID_NAME"
	}
	var fe *Error
	if errors.As(err, &fe) && fe.Code != "" {
		return fe.Code
	}
	return "INTERNAL"
}
