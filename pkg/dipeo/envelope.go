package dipeo

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// ErrorKind classifies an error envelope.
type ErrorKind string

const (
	ErrKindValidation ErrorKind = "validation"
	ErrKindExecution  ErrorKind = "execution"
	ErrKindTimeout    ErrorKind = "timeout"
	ErrKindCancelled  ErrorKind = "cancelled"
	ErrKindPanic      ErrorKind = "panic"
)

// Representation names for alternate envelope forms.
const (
	RepText     = "text"
	RepObject   = "object"
	RepMarkdown = "markdown"
)

// Envelope is the typed wrapper every node invocation produces.
// It carries the body, optional alternate representations of the same
// value, provenance, and error metadata. Envelopes are treated as
// immutable once recorded by the scheduler.
type Envelope struct {
	Body            any            `json:"body"`
	Representations map[string]any `json:"representations,omitempty"`
	ProducedBy      string         `json:"produced_by"`
	Iteration       int            `json:"iteration"`
	TraceID         string         `json:"trace_id,omitempty"`
	Branch          string         `json:"branch,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`

	IsError   bool      `json:"is_error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	ErrorText string    `json:"error,omitempty"`
}

// EnvelopeOption configures envelope creation.
type EnvelopeOption func(*Envelope)

// WithRepresentation attaches an alternate representation of the body.
func WithRepresentation(name string, v any) EnvelopeOption {
	return func(e *Envelope) {
		if e.Representations == nil {
			e.Representations = make(map[string]any)
		}
		e.Representations[name] = v
	}
}

// WithTraceID sets the trace identifier.
func WithTraceID(id string) EnvelopeOption {
	return func(e *Envelope) { e.TraceID = id }
}

// WithBranch tags the envelope with the branch a condition node took.
func WithBranch(branch string) EnvelopeOption {
	return func(e *Envelope) { e.Branch = branch }
}

// NewEnvelope creates an output envelope for the given node.
func NewEnvelope(producedBy string, body any, opts ...EnvelopeOption) *Envelope {
	e := &Envelope{
		Body:       body,
		ProducedBy: producedBy,
		Timestamp:  time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ErrorEnvelope creates an error envelope of the given kind.
// The body carries the error message so downstream readers that ignore
// error metadata still see something sensible.
func ErrorEnvelope(producedBy string, kind ErrorKind, err error) *Envelope {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Envelope{
		Body:       msg,
		ProducedBy: producedBy,
		Timestamp:  time.Now().UTC(),
		IsError:    true,
		ErrorKind:  kind,
		ErrorText:  msg,
	}
}

// Text returns the best-effort text form of the envelope: the "text"
// representation if present, the body when it is a string, and a JSON
// rendering otherwise.
func (e *Envelope) Text() string {
	if e == nil {
		return ""
	}
	if t, ok := e.Representations[RepText]; ok {
		if s, ok := t.(string); ok {
			return s
		}
	}
	switch b := e.Body.(type) {
	case string:
		return b
	case nil:
		return ""
	default:
		if data, err := json.Marshal(b); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", b)
	}
}

// Object returns the structured form of the envelope: the "object"
// representation if present, otherwise the body.
func (e *Envelope) Object() any {
	if e == nil {
		return nil
	}
	if o, ok := e.Representations[RepObject]; ok {
		return o
	}
	return e.Body
}

// Summary returns a short description for progress events, truncated to
// keep event records bounded.
func (e *Envelope) Summary() string {
	if e == nil {
		return ""
	}
	if e.IsError {
		return fmt.Sprintf("error(%s): %s", e.ErrorKind, truncate(e.ErrorText, 120))
	}
	return truncate(e.Text(), 120)
}

// Err reconstructs an error from an error envelope, nil otherwise.
func (e *Envelope) Err() error {
	if e == nil || !e.IsError {
		return nil
	}
	return fmt.Errorf("%s: %s", e.ErrorKind, e.ErrorText)
}

// truncate cuts s to at most n bytes, backing up to a rune boundary so
// the result stays valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
