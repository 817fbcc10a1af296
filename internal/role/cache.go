package role

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/developingchet/regionsync/internal/metrics"
	"github.com/developingchet/regionsync/internal/storage"
	"github.com/rs/zerolog"
)

// Lookup reads a user's raw role from the remote store. ok is false when the
// user has no role recorded.
type Lookup interface {
	UserRole(ctx context.Context, uid string) (role string, ok bool, err error)
}

// ChangeFunc is called after the cached role changes.
type ChangeFunc func(State)

// Cache mirrors the last known role in memory and in local storage. Reads
// never block on the network.
type Cache struct {
	store  storage.Store
	remote Lookup
	log    zerolog.Logger

	// writeMu serialises changes with their notifications so observers see
	// them in order. Observers must not change the role themselves.
	writeMu sync.Mutex

	mu        sync.RWMutex
	state     State
	userID    string
	observers []ChangeFunc
}

// NewCache loads the persisted role, falling back to DefaultState when none
// is stored or the read fails.
func NewCache(store storage.Store, remote Lookup, log zerolog.Logger) *Cache {
	c := &Cache{store: store, remote: remote, log: log, state: DefaultState}

	rec, err := store.GetRole()
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("could not read persisted role; using default")
	case rec != nil:
		c.state = State{Role: ParseRole(rec.Role), Source: Cached}
		c.userID = rec.UserID
		log.Debug().Str("role", c.state.Role.String()).Str("user", rec.UserID).Msg("loaded persisted role")
	}
	return c
}

// OnChange registers fn to be called after every role change.
func (c *Cache) OnChange(fn ChangeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// CachedRole returns the last known role.
func (c *Cache) CachedRole() Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Role
}

// State returns the last known role and where it came from.
func (c *Cache) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// UserID returns the user the cached role belongs to, if known.
func (c *Cache) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// FetchRemoteRole reads the user's role from the remote store and caches it.
// A user without a role is User. On failure the cached role is returned if it
// belongs to uid; otherwise the cache resets to User for uid.
func (c *Cache) FetchRemoteRole(ctx context.Context, uid string) Role {
	raw, ok, err := c.remote.UserRole(ctx, uid)
	if err != nil {
		ferr := &FetchError{UserID: uid, Err: err}
		metrics.RoleFetches.WithLabelValues("fallback").Inc()
		if owner := c.UserID(); owner != uid {
			c.log.Warn().Err(ferr).Str("cached_user", owner).Msg("role fetch failed; cached role belongs to another user")
			if err := c.reset(uid); err != nil {
				c.log.Warn().Err(err).Msg("could not clear persisted role")
			}
			return DefaultState.Role
		}
		current := c.CachedRole()
		c.log.Warn().Err(ferr).Str("role", current.String()).Msg("role fetch failed; using cached role")
		return current
	}

	r := User
	if ok {
		r = ParseRole(raw)
	}
	metrics.RoleFetches.WithLabelValues("success").Inc()

	if err := c.set(State{Role: r, Source: Remote}, uid); err != nil {
		c.log.Warn().Err(err).Msg("could not persist fetched role")
	}
	c.log.Info().Str("user", uid).Str("role", r.String()).Msg("role fetched")
	return r
}

// SetRole overrides the cached role. The in-memory value is updated even if
// persisting fails; the persistence error is returned.
func (c *Cache) SetRole(r Role) error {
	return c.set(State{Role: r, Source: Cached}, c.UserID())
}

// Clear forgets the role, reverting to DefaultState.
func (c *Cache) Clear() error {
	return c.reset("")
}

// reset reverts to DefaultState bound to uid and drops the persisted record.
func (c *Cache) reset(uid string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	c.state = DefaultState
	c.userID = uid
	err := c.store.ClearRole()
	observers := c.snapshotObservers()
	c.mu.Unlock()

	c.notify(observers, DefaultState)
	if err != nil {
		return fmt.Errorf("clear persisted role: %w", err)
	}
	return nil
}

func (c *Cache) set(s State, uid string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	c.state = s
	c.userID = uid
	err := c.store.SetRole(storage.RoleRecord{
		Role:      s.Role.String(),
		UserID:    uid,
		UpdatedAt: time.Now().UTC(),
	})
	observers := c.snapshotObservers()
	c.mu.Unlock()

	c.notify(observers, s)
	if err != nil {
		return fmt.Errorf("persist role: %w", err)
	}
	return nil
}

func (c *Cache) snapshotObservers() []ChangeFunc {
	out := make([]ChangeFunc, len(c.observers))
	copy(out, c.observers)
	return out
}

func (c *Cache) notify(observers []ChangeFunc, s State) {
	for _, fn := range observers {
		fn(s)
	}
}
