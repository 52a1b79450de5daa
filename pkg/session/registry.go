package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/acpkit/acp-go/pkg/bridge"
	"github.com/acpkit/acp-go/pkg/catalog"
	acperrors "github.com/acpkit/acp-go/pkg/errors"
	"github.com/acpkit/acp-go/pkg/logging"
)

// Registry is the process-wide session table. It is partitioned by
// session_id: discovery for one session never blocks another, and the
// mutex only guards map shape, never a discovery call.
type Registry struct {
	resolver *catalog.Resolver
	logger   logging.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// entry pins discovery to at most one run per session id, even under
// concurrent lazy lookups.
type entry struct {
	once  sync.Once
	state *State
}

// NewRegistry creates an empty registry.
func NewRegistry(resolver *catalog.Resolver, logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{
		resolver: resolver,
		logger:   logger,
		entries:  make(map[string]*entry),
	}
}

// Register inserts a fresh session. An existing id is an error; fork and
// resume paths use Reregister instead.
func (r *Registry) Register(state *State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[state.ID]; exists {
		return acperrors.Newf(acperrors.CodeInvalidRequest,
			acperrors.CategoryValidation, acperrors.SeverityError,
			"Session already registered: %s", state.ID)
	}
	e := &entry{state: state}
	e.once.Do(func() {}) // discovery already done by the caller
	r.entries[state.ID] = e
	return nil
}

// Reregister replaces any existing entry for the id. Only the explicit
// fork and resume paths call this.
func (r *Registry) Reregister(state *State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &entry{state: state}
	e.once.Do(func() {})
	r.entries[state.ID] = e
}

// Create resolves a catalog for a brand-new session id and registers it.
func (r *Registry) Create(ctx context.Context, sessionID, ownerID, cwd string, client bridge.Client) (*State, error) {
	cat := r.resolver.Resolve(ctx, sessionID, client)
	state := &State{
		ID:        sessionID,
		Cwd:       cwd,
		OwnerID:   ownerID,
		Catalog:   cat,
		CreatedAt: time.Now(),
	}
	if err := r.Register(state); err != nil {
		return nil, err
	}
	r.logger.Info("session created",
		logging.String("session_id", sessionID),
		logging.String("tier", cat.Tier().String()))
	return state, nil
}

// Lookup returns the cached state for an id, if any.
func (r *Registry) Lookup(sessionID string) (*State, bool) {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	r.mu.Unlock()
	if !ok || e.state == nil {
		return nil, false
	}
	return e.state, true
}

// LookupOrCreate returns the cached entry, or runs full discovery
// synchronously and caches the result. This is the lazy fallback for a
// prompt naming a session id this process never saw a new-session call
// for, such as a session resumed from another process. Discovery runs
// exactly once per id no matter how many callers race here.
func (r *Registry) LookupOrCreate(ctx context.Context, sessionID, ownerID string, client bridge.Client) *State {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	if !ok {
		e = &entry{}
		r.entries[sessionID] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		cat := r.resolver.Resolve(ctx, sessionID, client)
		e.state = &State{
			ID:        sessionID,
			OwnerID:   ownerID,
			Catalog:   cat,
			CreatedAt: time.Now(),
		}
		r.logger.Info("session created lazily",
			logging.String("session_id", sessionID),
			logging.String("tier", cat.Tier().String()))
	})
	return e.state
}

// Release removes the entry for an id. Idempotent.
func (r *Registry) Release(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, sessionID)
}

// ReleaseOwnedBy removes every session owned by a client id and returns
// the released ids. Called on owning-connection disconnect.
func (r *Registry) ReleaseOwnedBy(ownerID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var released []string
	for id, e := range r.entries {
		if e.state != nil && e.state.OwnerID == ownerID {
			delete(r.entries, id)
			released = append(released, id)
		}
	}
	sort.Strings(released)
	return released
}

// List returns every live session state, ordered by id.
func (r *Registry) List() []*State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*State, 0, len(r.entries))
	for _, e := range r.entries {
		if e.state != nil {
			out = append(out, e.state)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
