package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/neuroscan/neuroscan/internal/platform/events"
	"github.com/neuroscan/neuroscan/internal/platform/httpclient"
)

const (
	// upstreamField is the multipart field the prediction service reads.
	upstreamField    = "file"
	maxResponseBytes = 1 << 20
	defaultTimeout   = 30 * time.Second
)

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type RelayConfig struct {
	Dir      string
	Endpoint string
	Client   Doer
	Events   events.Publisher
}

// Relay stages uploaded images on disk, forwards them to the prediction
// service and hands back its JSON verdict.
type Relay struct {
	dir      string
	endpoint string
	client   Doer
	events   events.Publisher
	now      func() time.Time
}

func NewRelay(cfg RelayConfig) (*Relay, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("prediction endpoint is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("upload directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, &StorageError{Op: "create upload dir", Path: cfg.Dir, Err: err}
	}
	if cfg.Client == nil {
		cfg.Client = httpclient.New(defaultTimeout)
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	return &Relay{
		dir:      cfg.Dir,
		endpoint: cfg.Endpoint,
		client:   cfg.Client,
		events:   cfg.Events,
		now:      time.Now,
	}, nil
}

// Dir returns the staging directory.
func (r *Relay) Dir() string { return r.dir }

// Relay stages src, posts it to the prediction service and returns the
// response body unchanged. The staged file is removed before Relay returns,
// whatever the outcome; a removal failure is joined to any other error.
func (r *Relay) Relay(ctx context.Context, fileName string, src io.Reader) (payload json.RawMessage, err error) {
	start := r.now()
	defer func() { r.publish(ctx, start, err) }()

	staged, err := r.stage(fileName, src)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rmErr := discard(staged); rmErr != nil {
			payload = nil
			err = errors.Join(err, rmErr)
		}
	}()

	return r.forward(ctx, staged, sanitizeName(fileName))
}

func (r *Relay) forward(ctx context.Context, staged, fileName string) (json.RawMessage, error) {
	f, err := os.Open(staged)
	if err != nil {
		return nil, &StorageError{Op: "open staged file", Path: staged, Err: err}
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	contentType := mw.FormDataContentType()

	done := make(chan struct{})
	go func() {
		defer close(done)
		pw.CloseWithError(writeFilePart(mw, fileName, f))
	}()
	// Unblock the writer if the request never drains the pipe, and wait for
	// it before the deferred file close runs.
	defer func() {
		pr.Close()
		<-done
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, pr)
	if err != nil {
		return nil, &UpstreamError{Message: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: "read response: " + err.Error(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: upstreamMessage(body, resp.Status)}
	}
	if len(body) > maxResponseBytes {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: "response exceeds 1 MiB"}
	}
	if !json.Valid(body) {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: "response is not valid JSON"}
	}
	return json.RawMessage(body), nil
}

func writeFilePart(mw *multipart.Writer, fileName string, src io.Reader) error {
	part, err := mw.CreateFormFile(upstreamField, fileName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return mw.Close()
}

// upstreamMessage extracts a readable reason from an error response,
// preferring an {"error": "..."} body.
func upstreamMessage(body []byte, status string) string {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	text := strings.TrimSpace(string(bytes.ToValidUTF8(body, nil)))
	if text == "" {
		return status
	}
	if len(text) > 256 {
		text = text[:256]
	}
	return text
}

func (r *Relay) publish(ctx context.Context, start time.Time, err error) {
	data := map[string]interface{}{
		"outcome":     "ok",
		"duration_ms": r.now().Sub(start).Milliseconds(),
	}
	var ue *UpstreamError
	var se *StorageError
	switch {
	case errors.As(err, &ue):
		data["outcome"] = "upstream_error"
		if ue.StatusCode != 0 {
			data["status"] = strconv.Itoa(ue.StatusCode)
		}
	case errors.As(err, &se):
		data["outcome"] = "storage_error"
	case err != nil:
		data["outcome"] = "error"
	}
	r.events.Publish(ctx, events.TypePredictionRelayed, "", data)
}
