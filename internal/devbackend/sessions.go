package devbackend

import (
	"sync"
	"time"

	"github.com/aelexs/session-gateway/internal/domain"
)

// sessionRecord is the server-side state of one login. Only refresh token
// hashes are kept; PrevTokenHash lets a replayed refresh token be detected.
type sessionRecord struct {
	ID               string
	UserID           string
	RefreshTokenHash string
	PrevTokenHash    string
	TokenGeneration  int
	ExpiresAt        time.Time
	Revoked          bool
}

// sessionTable is an in-memory session store indexed by id and by refresh
// token hash.
type sessionTable struct {
	mu     sync.Mutex
	byID   map[string]*sessionRecord
	byHash map[string]string // current or previous refresh hash -> session id
}

func newSessionTable() *sessionTable {
	return &sessionTable{
		byID:   make(map[string]*sessionRecord),
		byHash: make(map[string]string),
	}
}

func (t *sessionTable) put(rec sessionRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := rec
	t.byID[rec.ID] = &r
	t.byHash[rec.RefreshTokenHash] = rec.ID
}

func (t *sessionTable) get(id string) (sessionRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byID[id]
	if !ok {
		return sessionRecord{}, false
	}
	return *r, true
}

// refreshOutcome says how a presented refresh token matched.
type refreshOutcome int

const (
	refreshUnknown refreshOutcome = iota
	refreshRotated
	refreshReused
	refreshRevoked
	refreshExpired
)

// rotate checks hash against the session it belongs to and, when it is the
// current token of a live session, replaces it with newHash. The check and
// swap happen under one lock so two concurrent refreshes with the same token
// cannot both win.
func (t *sessionTable) rotate(hash, newHash string, now, newExpiry time.Time) (sessionRecord, refreshOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.byHash[hash]
	if !ok {
		return sessionRecord{}, refreshUnknown
	}
	r, ok := t.byID[id]
	if !ok {
		return sessionRecord{}, refreshUnknown
	}

	if r.Revoked {
		return *r, refreshRevoked
	}

	switch hash {
	case r.RefreshTokenHash:
		if !now.Before(r.ExpiresAt) {
			return *r, refreshExpired
		}
		delete(t.byHash, r.PrevTokenHash)
		r.PrevTokenHash = r.RefreshTokenHash
		r.RefreshTokenHash = newHash
		r.TokenGeneration++
		r.ExpiresAt = newExpiry
		t.byHash[newHash] = r.ID
		return *r, refreshRotated
	case r.PrevTokenHash:
		r.Revoked = true
		return *r, refreshReused
	default:
		return sessionRecord{}, refreshUnknown
	}
}

func (t *sessionTable) revoke(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.Revoked = true
	return nil
}

// revokeUser revokes every session of userID and returns how many there were.
func (t *sessionTable) revokeUser(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, r := range t.byID {
		if r.UserID == userID && !r.Revoked {
			r.Revoked = true
			n++
		}
	}
	return n
}
