package users

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/google/uuid"
)

// MemoryRepository keeps users in process memory. It backs the server when
// tokens are stored in memory too.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*models.User
	byEmail map[string]*models.User
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]*models.User),
		byEmail: make(map[string]*models.User),
	}
}

func (r *MemoryRepository) Create(_ context.Context, user *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[user.Email]; ok {
		return nil, fmt.Errorf("user %q: %w", user.Email, common.ErrUserExists)
	}
	u := *user
	u.ID = uuid.NewString()
	u.CreatedAt = time.Now()
	r.byID[u.ID] = &u
	r.byEmail[u.Email] = &u

	out := u
	return &out, nil
}

func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyOf(r.byEmail[email])
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyOf(r.byID[id])
}

func copyOf(u *models.User) (*models.User, error) {
	if u == nil {
		return nil, common.ErrorNotFound
	}
	c := *u
	return &c, nil
}
