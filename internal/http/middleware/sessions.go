package middleware

import (
	"crypto/subtle"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Credentials holds the single admin account from configuration. The
// password is kept only as a bcrypt hash.
type Credentials struct {
	username string
	hash     []byte
}

func NewCredentials(username, password string, cost int) (*Credentials, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, err
	}
	return &Credentials{username: username, hash: hash}, nil
}

func (c *Credentials) Username() string { return c.username }

// Check reports whether username and password match the admin account.
func (c *Credentials) Check(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.username)) == 1
	passOK := bcrypt.CompareHashAndPassword(c.hash, []byte(password)) == nil
	return userOK && passOK
}

type session struct {
	username string
	expires  time.Time
}

// Sessions is an in-memory table of admin sessions keyed by random ids.
// Sessions do not survive a restart.
type Sessions struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]session
}

func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Sessions{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]session),
	}
}

func (s *Sessions) TTL() time.Duration { return s.ttl }

// Create starts a session for username and returns its id.
func (s *Sessions) Create(username string) string {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	s.items[id] = session{username: username, expires: s.now().Add(s.ttl)}
	return id
}

// Lookup returns the username for a live session id.
func (s *Sessions) Lookup(id string) (string, bool) {
	if id == "" {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.items[id]
	if !ok {
		return "", false
	}
	if !s.now().Before(sess.expires) {
		delete(s.items, id)
		return "", false
	}
	return sess.username, true
}

func (s *Sessions) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
}

func (s *Sessions) sweepLocked() {
	now := s.now()
	for id, sess := range s.items {
		if !now.Before(sess.expires) {
			delete(s.items, id)
		}
	}
}
