package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Set map[string]struct{}

// Registry is the single source of truth for live connections and presence.
// A user may own several entries, one per open session.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*contract.Entry // handle -> entry
	byUser   map[string]Set             // userID -> handles
	snapshot []contract.Entry           // nil when stale
	clock    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*contract.Entry),
		byUser:  make(map[string]Set),
		clock:   time.Now,
	}
}

// Add registers a newly accepted connection and returns its entry handle.
// The identity may be nil and bound later with BindIdentity.
func (r *Registry) Add(conn contract.Connection, identity *domain.Identity) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	handle := uuid.NewString()
	entry := &contract.Entry{
		Handle:      handle,
		Conn:        conn,
		ConnectedAt: r.clock(),
	}
	r.entries[handle] = entry
	if identity != nil {
		r.bindLocked(entry, *identity)
	}
	r.snapshot = nil
	return handle
}

// Remove drops the entry. It reports false when the entry was already gone,
// which happens when eviction and socket closure race.
func (r *Registry) Remove(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[handle]
	if !ok {
		return false
	}
	delete(r.entries, handle)

	if entry.Identity != nil {
		if handles, ok := r.byUser[entry.Identity.UserID]; ok {
			delete(handles, handle)
			// No empty sets left behind
			if len(handles) == 0 {
				delete(r.byUser, entry.Identity.UserID)
			}
		}
	}
	r.snapshot = nil
	return true
}

// BindIdentity attaches an identity to an anonymous entry.
// Rebinding an already bound entry is refused.
func (r *Registry) BindIdentity(handle string, identity domain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[handle]
	if !ok {
		return errors.ErrEntryNotFound
	}
	if entry.Identity != nil {
		return errors.ErrIdentityAlreadyBound
	}
	r.bindLocked(entry, identity)
	r.snapshot = nil
	return nil
}

func (r *Registry) bindLocked(entry *contract.Entry, identity domain.Identity) {
	entry.Identity = &identity
	if _, ok := r.byUser[identity.UserID]; !ok {
		r.byUser[identity.UserID] = make(Set)
	}
	r.byUser[identity.UserID][entry.Handle] = struct{}{}
}

func (r *Registry) Get(handle string) (contract.Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[handle]
	if !ok {
		return contract.Entry{}, false
	}
	return *entry, true
}

// Snapshot returns every entry ordered by connection time.
// The result is cached until the next mutation; callers get their own copy.
func (r *Registry) Snapshot() []contract.Entry {
	r.mu.RLock()
	cached := r.snapshot
	r.mu.RUnlock()
	if cached == nil {
		r.mu.Lock()
		if r.snapshot == nil {
			r.snapshot = r.buildSnapshotLocked()
		}
		cached = r.snapshot
		r.mu.Unlock()
	}
	out := make([]contract.Entry, len(cached))
	copy(out, cached)
	return out
}

func (r *Registry) buildSnapshotLocked() []contract.Entry {
	out := make([]contract.Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].Handle < out[j].Handle
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// FindByUser returns the entries currently bound to userID.
// Returns nil if the user has no live session.
func (r *Registry) FindByUser(userID string) []contract.Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	out := make([]contract.Entry, 0, len(handles))
	for handle := range handles {
		if entry, exists := r.entries[handle]; exists {
			out = append(out, *entry)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
