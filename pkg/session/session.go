// Package session tracks live session state: one entry per session_id,
// holding the discovered tool catalog and per-turn cancellation. Discovery
// runs at most once per session lifetime.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acpkit/acp-go/pkg/catalog"
)

// NewSessionID issues a fresh, previously-unissued session id.
func NewSessionID() string {
	return "sess_" + uuid.NewString()
}

// State is one live session. The catalog is fixed at creation; later turns
// never re-run discovery even if capabilities could change.
type State struct {
	ID        string
	Cwd       string
	OwnerID   string
	Catalog   *catalog.Catalog
	CreatedAt time.Time

	mu         sync.Mutex
	mode       string
	model      string
	options    map[string]json.RawMessage
	cancelTurn context.CancelFunc
	turnActive bool
}

// SetMode switches the session's operating mode.
func (s *State) SetMode(mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// Mode returns the current operating mode.
func (s *State) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetModel switches the session's configured model.
func (s *State) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = model
}

// Model returns the configured model.
func (s *State) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// SetOption stores one named configuration value. Unrecognized keys are
// kept as-is for forward compatibility.
func (s *State) SetOption(key string, value json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.options == nil {
		s.options = make(map[string]json.RawMessage)
	}
	s.options[key] = value
}

// Option returns one stored configuration value.
func (s *State) Option(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.options[key]
	return v, ok
}

// BeginTurn derives the cancellable context for one prompt turn. The
// returned done func must be called when the turn ends.
func (s *State) BeginTurn(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancelTurn = cancel
	s.turnActive = true
	s.mu.Unlock()
	return ctx, func() {
		s.mu.Lock()
		s.cancelTurn = nil
		s.turnActive = false
		s.mu.Unlock()
		cancel()
	}
}

// CancelTurn signals the in-flight turn to stop at its next cooperative
// checkpoint. Advisory: back-channel calls already awaiting a reply are
// not aborted. No-op when no turn is active.
func (s *State) CancelTurn() {
	s.mu.Lock()
	cancel := s.cancelTurn
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// TurnActive reports whether a prompt turn is currently running.
func (s *State) TurnActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnActive
}
