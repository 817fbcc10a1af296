package role

// Decision is the outcome of an authorization check.
type Decision int

const (
	Denied Decision = iota
	Allowed
)

func (d Decision) String() string {
	if d == Allowed {
		return "allowed"
	}
	return "denied"
}

// Gate allows mutations only while the cached role is Admin.
type Gate struct {
	cache *Cache
}

// NewGate returns a Gate reading from cache.
func NewGate(cache *Cache) *Gate {
	return &Gate{cache: cache}
}

// Authorize checks the cached role. It has no side effects.
func (g *Gate) Authorize() Decision {
	if g.cache.CachedRole() == Admin {
		return Allowed
	}
	return Denied
}

// Require returns ErrPermissionDenied unless Authorize allows.
func (g *Gate) Require() error {
	if g.Authorize() != Allowed {
		return ErrPermissionDenied
	}
	return nil
}
