package credentials

import (
	"context"
	"sync"
	"time"
)

// Memory keeps credentials for the lifetime of the process only.
type Memory struct {
	mu sync.Mutex
	c  Credentials
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(context.Context) (Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.c, nil
}

func (m *Memory) Save(_ context.Context, c Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c = c
	return nil
}

func (m *Memory) SetTokens(_ context.Context, accessToken, refreshToken string, refreshExpiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c.AccessToken = accessToken
	m.c.RefreshToken = refreshToken
	m.c.RefreshExpiresAt = refreshExpiresAt
	return nil
}

func (m *Memory) RefreshToken(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.c.RefreshToken, nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c = Credentials{}
	return nil
}
