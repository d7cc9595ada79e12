package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
)

// UserAgent identifies checkpoint writes to the collector.
const UserAgent = "checkpoint-go/0.1.0"

// WriteRequest is one encoded checkpoint ready to send.
type WriteRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// WriteResponse is the collector's reply. Body is already decompressed.
type WriteResponse struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r *WriteResponse) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Transport delivers checkpoint writes to the collector. The manager
// uses this interface so tests can substitute an in-memory collector.
type Transport interface {
	Write(ctx context.Context, req *WriteRequest) (*WriteResponse, error)
}

// HTTPTransport sends writes with net/http.
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport returns a transport using client, or a client with a
// 30 second timeout when client is nil.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTransport{Client: client}
}

func (t *HTTPTransport) Write(ctx context.Context, req *WriteRequest) (*WriteResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: build request: %w", err)
	}
	httpReq.Header = req.Header.Clone()

	resp, err := t.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	// Setting Accept-Encoding ourselves disables net/http's transparent
	// decompression.
	var body io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: read response: %w", err)
		}
		defer zr.Close()
		body = zr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read response: %w", err)
	}
	return &WriteResponse{StatusCode: resp.StatusCode, Body: data}, nil
}

func writeHeaders(apiKey string) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Content-Encoding", "gzip")
	h.Set("Accept-Encoding", "gzip")
	h.Set("Authorization", "Bearer "+apiKey)
	h.Set("User-Agent", UserAgent)
	return h
}
