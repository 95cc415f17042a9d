package taskstatus

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

// Status is the closed set of lifecycle states a processing job can be in.
type Status string

const (
	Queued    Status = "queued"
	Running   Status = "running"
	Completed Status = "completed"
	Failed    Status = "failed"
)

// ErrUnknownStatus is returned for status strings missing from the synonym table.
var ErrUnknownStatus = errors.New("unknown task status")

// All lists the states in lifecycle order.
func All() []Status {
	return []Status{Queued, Running, Completed, Failed}
}

// Valid reports whether s is one of the four known states.
func (s Status) Valid() bool {
	switch s {
	case Queued, Running, Completed, Failed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the job will never change state again.
func (s Status) IsTerminal() bool {
	return s == Completed || s == Failed
}

// IsActive reports whether the job still needs polling.
func (s Status) IsActive() bool {
	return s == Queued || s == Running
}

func (s Status) String() string {
	return string(s)
}

// Table maps raw backend status strings onto a Status, ignoring case.
type Table struct {
	synonyms map[string]Status
}

// DefaultSynonyms returns the built-in table covering plain, upper-case,
// namespaced (pyodm "TaskStatus.X") and numeric NodeODM codes.
func DefaultSynonyms() map[Status][]string {
	return map[Status][]string{
		Queued:    {"queued", "pending", "uploaded", "taskstatus.queued", "10"},
		Running:   {"running", "processing", "in_progress", "taskstatus.running", "20"},
		Completed: {"completed", "success", "done", "taskstatus.completed", "40"},
		Failed:    {"failed", "error", "canceled", "cancelled", "taskstatus.failed", "taskstatus.canceled", "30", "50"},
	}
}

// NewTable builds a table from a state -> synonyms mapping. A synonym claimed
// by two different states is an error.
func NewTable(synonyms map[Status][]string) (*Table, error) {
	t := &Table{synonyms: make(map[string]Status)}
	for status, words := range synonyms {
		if !status.Valid() {
			return nil, fmt.Errorf("synonym table: unknown target state %q", status)
		}
		// the canonical name always maps to itself
		words = append(words, string(status))
		for _, w := range words {
			key := normalizeKey(w)
			if key == "" {
				continue
			}
			if prev, ok := t.synonyms[key]; ok && prev != status {
				return nil, fmt.Errorf("synonym table: %q maps to both %s and %s", w, prev, status)
			}
			t.synonyms[key] = status
		}
	}
	return t, nil
}

// DefaultTable returns a table built from DefaultSynonyms.
func DefaultTable() *Table {
	t, err := NewTable(DefaultSynonyms())
	if err != nil {
		panic(err)
	}
	return t
}

// ParseTable decodes a YAML document of the form
//
//	running: [processing, TaskStatus.RUNNING]
//	failed: [error]
//
// States missing from the document keep their default synonyms.
func ParseTable(data []byte) (*Table, error) {
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse synonym table: %w", err)
	}

	merged := DefaultSynonyms()
	for name, words := range raw {
		status := Status(strings.ToLower(strings.TrimSpace(name)))
		if !status.Valid() {
			return nil, fmt.Errorf("synonym table: unknown target state %q", name)
		}
		merged[status] = words
	}
	return NewTable(merged)
}

// LoadTable reads a YAML synonym table from disk.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read synonym table: %w", err)
	}
	return ParseTable(data)
}

// Parse normalizes a raw status string. Unrecognized input yields ErrUnknownStatus.
func (t *Table) Parse(raw string) (Status, error) {
	if s, ok := t.synonyms[normalizeKey(raw)]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
}

// Synonyms returns the sorted raw strings mapped to status.
func (t *Table) Synonyms(status Status) []string {
	var out []string
	for k, v := range t.synonyms {
		if v == status {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func normalizeKey(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
