package wallet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shizukutanaka/Banto/internal/common"
)

func TestWatcher_StubModeWithoutEndpoint(t *testing.T) {
	w := NewWatcher(zaptest.NewLogger(t), "", time.Second)

	// No endpoint means no loop and permanent connectivity
	require.NoError(t, w.Start())
	assert.True(t, w.Connected())
	require.NoError(t, w.Reconnect(context.Background()))
	require.NoError(t, w.Stop())
}

func TestWatcher_ProbeTracksEndpoint(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	w := NewWatcher(zaptest.NewLogger(t), server.URL, time.Second)

	assert.True(t, w.probe(context.Background()))
	assert.True(t, w.Connected())

	healthy.Store(false)
	assert.False(t, w.probe(context.Background()))
	assert.False(t, w.Connected())

	healthy.Store(true)
	require.NoError(t, w.Reconnect(context.Background()))
	assert.True(t, w.Connected())

	stats := w.GetStats()
	assert.Equal(t, uint64(3), stats["checks"])
	assert.Equal(t, uint64(1), stats["failures"])
	assert.Equal(t, uint64(1), stats["reconnects"])
}

func TestWatcher_ReconnectFailsAgainstDeadEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	w := NewWatcher(zaptest.NewLogger(t), server.URL, time.Second)

	err := w.Reconnect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConnectionFailed)
	assert.False(t, w.Connected())
}

func TestWatcher_StartStopLifecycle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	w := NewWatcher(zaptest.NewLogger(t), server.URL, time.Hour)

	require.NoError(t, w.Start())
	assert.ErrorIs(t, w.Start(), common.ErrAlreadyStarted)

	require.NoError(t, w.Stop())
	assert.ErrorIs(t, w.Stop(), common.ErrAlreadyStopped)
}

func TestWatcher_SetConnectedOverrides(t *testing.T) {
	w := NewWatcher(zaptest.NewLogger(t), "", time.Second)

	w.SetConnected(false)
	assert.False(t, w.Connected())
	w.SetConnected(true)
	assert.True(t, w.Connected())
}
