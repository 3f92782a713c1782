package server

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/server/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	var c config.Config
	c.LoadDefaults()
	c.StoreBackend = config.StoreMemory
	c.EndpointAddrGRPC = "127.0.0.1:0"
	c.EndpointAddrHTTP = "127.0.0.1:0"
	c.LogLevel = "error"
	c.SeedEmail = "Admin@Example.com"
	c.SeedPassword = "admin-pass"
	return &c
}

func TestNewApp_MemorySeedsUser(t *testing.T) {
	ctx := context.Background()
	app, err := NewApp(ctx, memoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	pair, user, err := app.auth.Login(ctx, "admin@example.com", []byte("admin-pass"))
	require.NoError(t, err)
	assert.Equal(t, "admin", user.Role)
	assert.NotEmpty(t, pair.RefreshToken)

	assert.NotNil(t, app.login)
	assert.NotNil(t, app.refresh)
}

func TestNewApp_SeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	app, err := NewApp(ctx, memoryConfig())
	require.NoError(t, err)

	u, err := app.auth.Me(ctx, mustLogin(t, app))
	require.NoError(t, err)

	// a second seed pass finds the user and leaves it alone
	require.NoError(t, app.seedUser(ctx))
	again, err := app.users.GetByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)
}

func mustLogin(t *testing.T, app *App) string {
	t.Helper()
	_, user, err := app.auth.Login(context.Background(), "admin@example.com", []byte("admin-pass"))
	require.NoError(t, err)
	return user.ID
}

func TestNewApp_RateLimitDisabled(t *testing.T) {
	c := memoryConfig()
	c.RateLimitEnabled = false

	app, err := NewApp(context.Background(), c)
	require.NoError(t, err)
	assert.Nil(t, app.login)
	assert.Nil(t, app.refresh)
}

func TestApp_RunStopsOnContextCancel(t *testing.T) {
	app, err := NewApp(context.Background(), memoryConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.Run(ctx)
		close(done)
	}()

	time.Sleep(150 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop after context cancel")
	}
}

func TestApp_RunStopsWhenServerFails(t *testing.T) {
	c := memoryConfig()
	c.EndpointAddrGRPC = "127.0.0.1:99999"

	app, err := NewApp(context.Background(), c)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		app.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("app kept running after gRPC listen failure")
	}
}
