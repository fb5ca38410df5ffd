package main

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/hsschat/pkg/server"
)

func TestRandomNameIsUniquePerID(t *testing.T) {
	a := randomName(1)
	b := randomName(2)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^[a-z]+1$`, a)
}

func TestRunLoadAgainstServer(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.AvatarDir = t.TempDir()
	srv, err := server.NewServer(cfg, zerolog.Nop())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := runLoad(ctx, Options{
		Server:        ts.URL,
		Clients:       3,
		Duration:      800 * time.Millisecond,
		MinDelay:      20 * time.Millisecond,
		MaxDelay:      50 * time.Millisecond,
		PrivateChance: 0.5,
	}, zerolog.Nop())
	require.NoError(t, err)

	posted, failed, echoes, _ := stats.snapshot()
	assert.Equal(t, int64(3), stats.successfulClients.Load())
	assert.Zero(t, stats.connectionErrors.Load())
	assert.Positive(t, posted)
	assert.Zero(t, failed)
	assert.Positive(t, echoes)
}

func TestRunLoadRejectsZeroClients(t *testing.T) {
	_, err := runLoad(context.Background(), Options{}, zerolog.Nop())
	assert.Error(t, err)
}
