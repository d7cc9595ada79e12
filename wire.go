package checkpoint

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
)

// SchemaVersion is the payload schema understood by the collector.
const SchemaVersion = 2

// Payload is the body of one checkpoint write.
type Payload struct {
	ExecutionID    string `json:"executionId"`
	Version        int    `json:"version"`
	SchemaVersion  int    `json:"schemaVersion"`
	WorkflowName   string `json:"workflowName"`
	StartedAt      int64  `json:"startedAt"`
	CompletedAt    *int64 `json:"completedAt,omitempty"`
	RawExecution   string `json:"rawExecution"`
	Steps          int    `json:"steps"`
	Runtime        string `json:"runtime,omitempty"`
	RuntimeVersion string `json:"runtimeVersion,omitempty"`
	ExecutionRunID string `json:"executionRunId,omitempty"`
}

// ExecutionNode is one node of a redacted execution tree. Times are
// epoch milliseconds.
type ExecutionNode struct {
	ID            string           `json:"id"`
	ComponentName string           `json:"componentName"`
	StartTime     int64            `json:"startTime"`
	EndTime       *int64           `json:"endTime"`
	Props         Value            `json:"props"`
	Output        Value            `json:"output"`
	Children      []*ExecutionNode `json:"children"`
	Metadata      map[string]Value `json:"metadata"`
	ParentID      *string          `json:"parentId"`
}

// Count returns the number of nodes in the subtree rooted at n.
func (n *ExecutionNode) Count() int {
	total := 1
	for _, child := range n.Children {
		total += child.Count()
	}
	return total
}

// Execution is the document carried, compressed, in rawExecution.
type Execution struct {
	ExecutionNode
	UpdatedAt int64 `json:"updatedAt"`
}

// EncodeExecution returns base64(gzip(JSON(root + updatedAt))).
func EncodeExecution(root *ExecutionNode, updatedAt time.Time) (string, error) {
	doc := Execution{ExecutionNode: *root, UpdatedAt: updatedAt.UnixMilli()}
	data, err := sonic.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("checkpoint: marshal execution: %w", err)
	}
	compressed, err := Gzip(data)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(compressed), nil
}

// DecodeExecution reverses EncodeExecution.
func DecodeExecution(raw string) (*Execution, error) {
	compressed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: decode execution: %w", err)
	}
	data, err := Gunzip(compressed)
	if err != nil {
		return nil, err
	}
	var doc Execution
	if err := sonic.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal execution: %w", err)
	}
	return &doc, nil
}

// EncodePayload returns the gzip-compressed JSON body of a write.
func EncodePayload(p *Payload) ([]byte, error) {
	data, err := sonic.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: marshal payload: %w", err)
	}
	return Gzip(data)
}

// DecodePayload parses a write body. Bodies that are not gzip are read
// as plain JSON.
func DecodePayload(body []byte) (*Payload, error) {
	data := body
	if isGzip(body) {
		var err error
		if data, err = Gunzip(body); err != nil {
			return nil, err
		}
	}
	var p Payload
	if err := sonic.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal payload: %w", err)
	}
	return &p, nil
}

// Gzip compresses data with klauspost gzip.
func Gzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("checkpoint: gzip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("checkpoint: gzip: %w", err)
	}
	return buf.Bytes(), nil
}

// Gunzip reverses Gzip.
func Gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: gunzip: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: gunzip: %w", err)
	}
	return out, nil
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

func epochMillis(t time.Time) int64 { return t.UnixMilli() }

func optionalMillis(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
