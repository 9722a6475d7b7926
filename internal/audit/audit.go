// Package audit records the daemon's state-changing operations — deploy,
// spindown, and optimize — as structured, append-only entries.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action identifies which state-changing operation an entry describes.
type Action string

const (
	ActionDeploy   Action = "DEPLOY"
	ActionSpindown Action = "SPINDOWN"
	ActionOptimize Action = "OPTIMIZE"
)

// Outcome is the result of an audited action.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// Entry is a single audit record.
type Entry struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Action     Action         `json:"action"`
	Outcome    Outcome        `json:"outcome"`
	ModelID    string         `json:"model_id,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	ErrorMsg   string         `json:"error_message,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Logger is the interface audit backends implement.
type Logger interface {
	Log(ctx context.Context, entry *Entry) error
	Close() error
}

// Config controls the audit backend.
type Config struct {
	Enabled  bool   `koanf:"audit_enabled"`
	Backend  string `koanf:"audit_backend"` // stdout, file
	FilePath string `koanf:"audit_file_path"`
}

// DefaultConfig returns sensible defaults: enabled, writing to stdout.
func DefaultConfig() *Config {
	return &Config{Enabled: true, Backend: "stdout"}
}

// Builder provides a fluent API for constructing an Entry.
type Builder struct {
	entry *Entry
}

// NewEntry starts building an entry stamped with the current time.
func NewEntry(action Action) *Builder {
	return &Builder{entry: &Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Action:    action,
		Metadata:  make(map[string]any),
	}}
}

func (b *Builder) Model(modelID string) *Builder {
	b.entry.ModelID = modelID
	return b
}

func (b *Builder) Outcome(o Outcome) *Builder {
	b.entry.Outcome = o
	return b
}

func (b *Builder) Duration(d time.Duration) *Builder {
	b.entry.DurationMs = d.Milliseconds()
	return b
}

func (b *Builder) Err(err error) *Builder {
	if err != nil {
		b.entry.Outcome = OutcomeFailure
		b.entry.ErrorMsg = err.Error()
	}
	return b
}

func (b *Builder) Meta(key string, value any) *Builder {
	b.entry.Metadata[key] = value
	return b
}

func (b *Builder) Build() *Entry {
	return b.entry
}

// MarshalJSON gives Entry a stable JSON shape regardless of method set growth.
func (e *Entry) MarshalJSON() ([]byte, error) {
	type Alias Entry
	return json.Marshal((*Alias)(e))
}
