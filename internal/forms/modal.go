// Package forms coordinates the lifecycle of modal forms: opening, submitting
// to the backend and closing or reopening with an error.
package forms

import (
	"context"
	"errors"
	"sync"

	"litrank-web/internal/api"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Phase is the lifecycle state of a modal.
type Phase int

const (
	Closed Phase = iota
	Open
	Submitting
)

func (p Phase) String() string {
	switch p {
	case Open:
		return "open"
	case Submitting:
		return "submitting"
	}
	return "closed"
}

// Modal names.
const (
	Login   = "login"
	Signup  = "signup"
	AddBook = "add-book"
	Update  = "update"
	Delete  = "delete"
)

// ErrInFlight is returned when a form is submitted while an earlier
// submission of the same form is still running.
var ErrInFlight = errors.New("submission already in progress")

// ErrNotOpen is returned when submitting a closed modal.
var ErrNotOpen = errors.New("form is not open")

// Modal is one dialog and the values typed into it.
type Modal struct {
	Name string
	// Error is the message shown after a failed submission.
	Error string

	phase  Phase
	values map[string]string
}

// NewModal returns a closed modal.
func NewModal(name string) *Modal {
	return &Modal{Name: name}
}

// Open shows the modal with a snapshot of prefill. Later edits to the modal
// never reach prefill's owner.
func (m *Modal) Open(prefill map[string]string) {
	m.values = make(map[string]string, len(prefill))
	for k, v := range prefill {
		m.values[k] = v
	}
	m.Error = ""
	m.phase = Open
}

// Dismiss closes the modal without submitting and discards its values.
func (m *Modal) Dismiss() {
	m.phase = Closed
	m.values = nil
	m.Error = ""
}

// IsOpen reports whether the modal is visible.
func (m *Modal) IsOpen() bool { return m.phase != Closed }

// Value returns a field value, "" when unset.
func (m *Modal) Value(key string) string { return m.values[key] }

// Values returns a copy of the field values.
func (m *Modal) Values() map[string]string {
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// SubmitFunc performs the backend call for a submission.
type SubmitFunc func(ctx context.Context, values map[string]string) error

// Coordinator runs submissions and allows one in-flight submission per key.
type Coordinator struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{inflight: make(map[string]struct{})}
}

// Submit moves m to Submitting and runs fn. On success m is closed and
// cleared. On failure m stays open with its values and Error set to the
// failure message, or fallback when the failure carries none. A second
// submission under a key that is still running returns ErrInFlight without
// calling fn.
func (c *Coordinator) Submit(ctx context.Context, key string, m *Modal, fallback string, fn SubmitFunc) error {
	if m.phase != Open {
		return ErrNotOpen
	}
	release, ok := c.acquire(key)
	if !ok {
		m.Error = "Please wait, your previous submission is still being processed."
		return ErrInFlight
	}
	defer release()

	m.phase = Submitting
	m.Error = ""
	if err := fn(ctx, m.Values()); err != nil {
		m.phase = Open
		m.Error = Message(err, fallback)
		return err
	}
	m.Dismiss()
	return nil
}

// Confirm submits m with fn only when confirmed is true. Declining closes
// the modal without calling fn. It reports whether fn ran.
func (c *Coordinator) Confirm(ctx context.Context, key string, m *Modal, confirmed bool, fallback string, fn SubmitFunc) (bool, error) {
	if !confirmed {
		m.Dismiss()
		return false, nil
	}
	return true, c.Submit(ctx, key, m, fallback, fn)
}

func (c *Coordinator) acquire(key string) (func(), bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[key]; busy {
		return nil, false
	}
	c.inflight[key] = struct{}{}
	return func() {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
	}, true
}

// Message maps a submission error to the text shown to the user:
// validation messages and backend details verbatim, fallback otherwise.
func Message(err error, fallback string) string {
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		return verrs.Error()
	}
	if errors.Is(err, api.ErrNotAuthenticated) {
		return "You must be logged in."
	}
	return api.DetailOr(err, fallback)
}
