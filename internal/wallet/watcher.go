// Package wallet watches connectivity to the wallet RPC endpoint. The
// decision engines only consume the boundary: a connected flag for health
// snapshots and a reconnect hook for the recovery manager.
package wallet

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shizukutanaka/Banto/internal/common"
)

// Watcher probes the configured RPC endpoint on an interval. Without an
// endpoint it degrades to an always-connected stub, which keeps the binary
// self-contained.
type Watcher struct {
	logger        *zap.Logger
	rpcURL        string
	checkInterval time.Duration
	client        *http.Client

	connected  atomic.Bool
	checks     atomic.Uint64
	failures   atomic.Uint64
	reconnects atomic.Uint64

	mu      sync.Mutex
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher. rpcURL may be empty.
func NewWatcher(logger *zap.Logger, rpcURL string, checkInterval time.Duration) *Watcher {
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}

	w := &Watcher{
		logger:        logger,
		rpcURL:        rpcURL,
		checkInterval: checkInterval,
		client:        &http.Client{Timeout: 5 * time.Second},
	}
	w.connected.Store(true)
	return w
}

// Start launches the probe loop when an endpoint is configured
func (w *Watcher) Start() error {
	if w.rpcURL == "" {
		return nil
	}
	if !w.running.CompareAndSwap(false, true) {
		return fmt.Errorf("wallet watcher: %w", common.ErrAlreadyStarted)
	}

	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.wg.Add(1)
	go w.run()

	w.logger.Info("Wallet watcher started",
		zap.String("rpc_url", w.rpcURL),
		zap.Duration("interval", w.checkInterval),
	)
	return nil
}

// Stop halts the probe loop
func (w *Watcher) Stop() error {
	if w.rpcURL == "" {
		return nil
	}
	if !w.running.CompareAndSwap(true, false) {
		return fmt.Errorf("wallet watcher: %w", common.ErrAlreadyStopped)
	}
	w.cancel()
	w.wg.Wait()
	return nil
}

// Connected reports the last observed connectivity
func (w *Watcher) Connected() bool {
	return w.connected.Load()
}

// SetConnected overrides the flag. Used by tests and fault injection.
func (w *Watcher) SetConnected(connected bool) {
	w.connected.Store(connected)
}

// Reconnect re-probes the endpoint immediately. Wired as the
// reconnect-wallet recovery action.
func (w *Watcher) Reconnect(ctx context.Context) error {
	w.reconnects.Add(1)

	if w.rpcURL == "" {
		w.connected.Store(true)
		return nil
	}

	if ok := w.probe(ctx); !ok {
		return fmt.Errorf("wallet %s: %w", w.rpcURL, common.ErrConnectionFailed)
	}
	return nil
}

// GetStats returns watcher counters
func (w *Watcher) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"connected":  w.connected.Load(),
		"rpc_url":    w.rpcURL,
		"checks":     w.checks.Load(),
		"failures":   w.failures.Load(),
		"reconnects": w.reconnects.Load(),
	}
}

func (w *Watcher) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	w.probe(w.ctx)
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.probe(w.ctx)
		}
	}
}

func (w *Watcher) probe(ctx context.Context) bool {
	w.checks.Add(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.rpcURL, nil)
	if err != nil {
		w.markDown(err)
		return false
	}

	resp, err := w.client.Do(req)
	if err != nil {
		w.markDown(err)
		return false
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		w.markDown(fmt.Errorf("wallet rpc status %d", resp.StatusCode))
		return false
	}

	if !w.connected.Swap(true) {
		w.logger.Info("Wallet connection restored", zap.String("rpc_url", w.rpcURL))
	}
	return true
}

func (w *Watcher) markDown(err error) {
	w.failures.Add(1)
	if w.connected.Swap(false) {
		w.logger.Warn("Wallet connection lost",
			zap.String("rpc_url", w.rpcURL),
			zap.Error(err),
		)
	}
}
