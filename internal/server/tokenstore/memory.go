package tokenstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
)

var errDuplicateHash = errors.New("duplicate token hash")

// Memory keeps tokens in process memory. A single mutex serialises all
// writes, which gives first-committer-wins rotation for free.
type Memory struct {
	mu     sync.Mutex
	byHash map[string]*models.RefreshToken
	byID   map[string]*models.RefreshToken
}

func NewMemory() *Memory {
	return &Memory{
		byHash: make(map[string]*models.RefreshToken),
		byID:   make(map[string]*models.RefreshToken),
	}
}

func (m *Memory) Create(_ context.Context, token *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insert(token)
}

func (m *Memory) FindByHash(_ context.Context, hash string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byHash[hash]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return clone(t), nil
}

func (m *Memory) Rotate(_ context.Context, predecessorID string, successor *models.RefreshToken, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pred, ok := m.byID[predecessorID]
	if !ok || !pred.IsLive(now) {
		return common.ErrTokenConflict
	}
	if err := m.insert(successor); err != nil {
		return err
	}

	revokedAt := now
	nextID := successor.ID
	pred.RevokedAt = &revokedAt
	pred.ReplacedByTokenID = &nextID
	return nil
}

func (m *Memory) RevokeByHash(_ context.Context, hash string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byHash[hash]
	if !ok || t.IsRevoked() {
		return false, nil
	}
	revokedAt := now
	t.RevokedAt = &revokedAt
	return true, nil
}

// Len returns the number of stored rows.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

func (m *Memory) insert(token *models.RefreshToken) error {
	if _, dup := m.byHash[token.TokenHash]; dup {
		return errDuplicateHash
	}
	t := clone(token)
	m.byHash[t.TokenHash] = t
	m.byID[t.ID] = t
	return nil
}

func clone(t *models.RefreshToken) *models.RefreshToken {
	c := *t
	if t.RevokedAt != nil {
		v := *t.RevokedAt
		c.RevokedAt = &v
	}
	if t.ReplacedByTokenID != nil {
		v := *t.ReplacedByTokenID
		c.ReplacedByTokenID = &v
	}
	return &c
}
