// Package pool probes reachability of the upstream mining pool endpoint.
package pool

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shizukutanaka/Banto/internal/common"
)

// Prober dials the stratum endpoint on an interval and tracks the result.
// With no endpoint configured it reports connected, so a standalone setup
// never raises pool alerts.
type Prober struct {
	logger      *zap.Logger
	addr        string
	interval    time.Duration
	dialTimeout time.Duration

	connected atomic.Bool
	checks    atomic.Uint64
	failures  atomic.Uint64

	running atomic.Bool
	mu      sync.Mutex
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewProber creates a prober for addr (host:port). addr may be empty.
func NewProber(logger *zap.Logger, addr string, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	p := &Prober{
		logger:      logger,
		addr:        addr,
		interval:    interval,
		dialTimeout: 5 * time.Second,
	}
	p.connected.Store(true)
	return p
}

// Start launches the dial loop when an endpoint is configured
func (p *Prober) Start() error {
	if p.addr == "" {
		return nil
	}
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("pool prober: %w", common.ErrAlreadyStarted)
	}

	p.mu.Lock()
	p.done = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run()

	p.logger.Info("Pool prober started",
		zap.String("addr", p.addr),
		zap.Duration("interval", p.interval),
	)
	return nil
}

// Stop halts the dial loop
func (p *Prober) Stop() error {
	if p.addr == "" {
		return nil
	}
	if !p.running.CompareAndSwap(true, false) {
		return fmt.Errorf("pool prober: %w", common.ErrAlreadyStopped)
	}
	close(p.done)
	p.wg.Wait()
	return nil
}

// Connected reports the last observed reachability
func (p *Prober) Connected() bool {
	return p.connected.Load()
}

// SetConnected overrides the flag. Used by tests and fault injection.
func (p *Prober) SetConnected(connected bool) {
	p.connected.Store(connected)
}

// Check dials the endpoint once and updates the flag
func (p *Prober) Check() bool {
	p.checks.Add(1)

	conn, err := net.DialTimeout("tcp", p.addr, p.dialTimeout)
	if err != nil {
		p.failures.Add(1)
		if p.connected.Swap(false) {
			p.logger.Warn("Pool connection lost",
				zap.String("addr", p.addr),
				zap.Error(err),
			)
		}
		return false
	}
	conn.Close()

	if !p.connected.Swap(true) {
		p.logger.Info("Pool connection restored", zap.String("addr", p.addr))
	}
	return true
}

// GetStats returns prober counters
func (p *Prober) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"connected": p.connected.Load(),
		"addr":      p.addr,
		"checks":    p.checks.Load(),
		"failures":  p.failures.Load(),
	}
}

func (p *Prober) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Check()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.Check()
		}
	}
}
