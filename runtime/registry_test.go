package runtime

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistry_Add_And_Remove(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	conn := newFakeConn()

	handle := registry.Add(conn, nil)
	req.Equal(1, registry.Len())

	entry, ok := registry.Get(handle)
	req.True(ok)
	req.Nil(entry.Identity)
	req.Equal(conn, entry.Conn)

	req.True(registry.Remove(handle))
	req.False(registry.Remove(handle))
	req.Zero(registry.Len())
	_, ok = registry.Get(handle)
	req.False(ok)
}

func TestRegistry_Same_User_Multiple_Sessions(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	alice := &domain.Identity{UserID: "u1", Username: "alice"}

	first := registry.Add(newFakeConn(), alice)
	second := registry.Add(newFakeConn(), alice)
	registry.Add(newFakeConn(), &domain.Identity{UserID: "u2", Username: "bob"})

	req.Len(registry.FindByUser("u1"), 2)
	req.True(registry.Remove(first))
	entries := registry.FindByUser("u1")
	req.Len(entries, 1)
	req.Equal(second, entries[0].Handle)

	req.True(registry.Remove(second))
	req.Nil(registry.FindByUser("u1"))
	_, tracked := registry.byUser["u1"]
	req.False(tracked)
}

func TestRegistry_BindIdentity(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	handle := registry.Add(newFakeConn(), nil)
	req.Nil(registry.FindByUser("u1"))

	req.NoError(registry.BindIdentity(handle, domain.Identity{UserID: "u1", Username: "alice"}))
	entry, _ := registry.Get(handle)
	req.Equal("alice", entry.Identity.Username)
	req.Len(registry.FindByUser("u1"), 1)

	err := registry.BindIdentity(handle, domain.Identity{UserID: "u2", Username: "bob"})
	req.ErrorIs(err, errors.ErrIdentityAlreadyBound)
	err = registry.BindIdentity("unknown", domain.Identity{UserID: "u2"})
	req.ErrorIs(err, errors.ErrEntryNotFound)
}

func TestRegistry_Snapshot_Ordered_And_Fresh(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	now := time.Now()
	tick := 0
	registry.clock = func() time.Time {
		tick++
		return now.Add(time.Duration(tick) * time.Second)
	}

	first := registry.Add(newFakeConn(), nil)
	second := registry.Add(newFakeConn(), nil)

	snapshot := registry.Snapshot()
	req.Len(snapshot, 2)
	req.Equal(first, snapshot[0].Handle)
	req.Equal(second, snapshot[1].Handle)

	// A mutation of the returned slice never leaks into the registry
	snapshot[0].Handle = "tampered"
	req.Equal(first, registry.Snapshot()[0].Handle)

	req.NoError(registry.BindIdentity(second, domain.Identity{UserID: "u2"}))
	req.NotNil(registry.Snapshot()[1].Identity)

	registry.Remove(first)
	snapshot = registry.Snapshot()
	req.Len(snapshot, 1)
	req.Equal(second, snapshot[0].Handle)
}

func TestRegistry_Concurrent_Access(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			identity := &domain.Identity{UserID: fmt.Sprintf("u%d", i%5)}
			handle := registry.Add(newFakeConn(), identity)
			_ = registry.Snapshot()
			_ = registry.FindByUser(identity.UserID)
			if i%2 == 0 {
				registry.Remove(handle)
			}
		}(i)
	}
	wg.Wait()

	req.Equal(25, registry.Len())
	total := 0
	for i := 0; i < 5; i++ {
		total += len(registry.FindByUser(fmt.Sprintf("u%d", i)))
	}
	req.Equal(25, total)
}
