package prediction

import (
	"errors"
	"fmt"
	"path/filepath"
)

// ErrNoFile is returned when the request carries no image part.
var ErrNoFile = errors.New("no image uploaded")

// UpstreamError reports a failed exchange with the prediction service:
// transport failure, timeout, non-2xx status or an unusable body.
// StatusCode is zero when no response was received.
type UpstreamError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("prediction service returned %d: %s", e.StatusCode, e.Message)
	}
	return "prediction service: " + e.Message
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// StorageError reports a failure staging or removing the uploaded file.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, filepath.Base(e.Path), e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
