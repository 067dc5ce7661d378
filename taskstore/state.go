// Package taskstore persists task state keyed by task id.
package taskstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/martinemde/codeloop/history"
	"github.com/martinemde/codeloop/unifiedllm"
)

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrCorruptState  = errors.New("task state is corrupt")
	ErrStaleRevision = errors.New("task state was saved by a newer revision")
	ErrInvalidID     = errors.New("invalid task id")
)

// Status is the persisted lifecycle status of a task.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the task has finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted || s == StatusFailed
}

// State is everything needed to resume a task.
type State struct {
	ID            string `json:"id"`
	ParentID      string `json:"parent_id,omitempty"`
	WorkspaceRoot string `json:"workspace_root"`
	Mode          string `json:"mode"`
	Status        Status `json:"status"`
	Provider      string `json:"provider,omitempty"`
	Model         string `json:"model,omitempty"`
	Prompt        string `json:"prompt"`

	History             []history.Message `json:"history"`
	Temperature         float64           `json:"temperature"`
	TemperatureAttempts int               `json:"temperature_attempts"`
	ConsecutiveMistakes int               `json:"consecutive_mistakes"`
	LoadedMemory        []string          `json:"loaded_memory,omitempty"`

	Usage     unifiedllm.Usage `json:"usage"`
	TotalCost float64          `json:"total_cost,omitempty"`
	Result    string           `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`

	// Revision increases on every save. Checksum covers History.
	Revision  int64     `json:"revision"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary is the listing view of a task.
type Summary struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Mode      string    `json:"mode"`
	Status    Status    `json:"status"`
	Model     string    `json:"model,omitempty"`
	Prompt    string    `json:"prompt"`
	Messages  int       `json:"messages"`
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary returns the listing view of s.
func (s *State) Summary() Summary {
	prompt := s.Prompt
	if r := []rune(prompt); len(r) > 80 {
		prompt = string(r[:80]) + "..."
	}
	return Summary{
		ID:        s.ID,
		ParentID:  s.ParentID,
		Mode:      s.Mode,
		Status:    s.Status,
		Model:     s.Model,
		Prompt:    prompt,
		Messages:  len(s.History),
		Revision:  s.Revision,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// Store persists task state.
type Store interface {
	// Save increments the revision, refreshes the checksum, and writes s.
	Save(ctx context.Context, s *State) error
	Load(ctx context.Context, id string) (*State, error)
	// List returns summaries, most recently updated first.
	List(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

func checksum(h []history.Message) (string, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("marshal history: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// prepare stamps the next revision onto s and returns its encoding. restore
// undoes the stamp when the write fails.
func prepare(s *State, now time.Time) (data []byte, restore func(), err error) {
	prevRev, prevSum, prevUpdated, prevCreated := s.Revision, s.Checksum, s.UpdatedAt, s.CreatedAt
	restore = func() {
		s.Revision, s.Checksum, s.UpdatedAt, s.CreatedAt = prevRev, prevSum, prevUpdated, prevCreated
	}

	sum, err := checksum(s.History)
	if err != nil {
		return nil, nil, err
	}
	s.Revision++
	s.Checksum = sum
	s.UpdatedAt = now.UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.UpdatedAt
	}

	data, err = json.MarshalIndent(s, "", "  ")
	if err != nil {
		restore()
		return nil, nil, fmt.Errorf("marshal state: %w", err)
	}
	return data, restore, nil
}

// decode parses and verifies a persisted state.
func decode(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if s.ID == "" || s.Revision < 1 {
		return nil, fmt.Errorf("%w: missing id or revision", ErrCorruptState)
	}
	sum, err := checksum(s.History)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if sum != s.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch at revision %d", ErrCorruptState, s.Revision)
	}
	return &s, nil
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
