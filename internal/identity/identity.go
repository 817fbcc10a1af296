// Package identity exposes the signed-in user as seen by this process.
// Credential verification happens elsewhere; this is only the seam.
package identity

import "sync"

// Provider reports the current user and starts or ends their session.
type Provider interface {
	// CurrentUserID returns "" when nobody is signed in.
	CurrentUserID() string
	SignIn(uid string) error
	SignOut() error
}

// Static is a Provider bound to a configured user id.
type Static struct {
	mu  sync.RWMutex
	uid string
}

// NewStatic returns a Provider signed in as uid. An empty uid means signed out.
func NewStatic(uid string) *Static {
	return &Static{uid: uid}
}

func (s *Static) CurrentUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uid
}

// SignIn switches the current user. It never fails.
func (s *Static) SignIn(uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uid = uid
	return nil
}

func (s *Static) SignOut() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uid = ""
	return nil
}
