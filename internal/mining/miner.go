package mining

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shizukutanaka/Banto/internal/common"
)

// AlgorithmSource supplies the algorithm the workers should run. The profit
// switcher is the only writer of that pointer; workers poll it every batch.
type AlgorithmSource interface {
	CurrentAlgorithm() string
}

const hashBatchSize = 256

// Miner drives a fixed pool of worker goroutines. The pool is sized to the
// configured maximum; workers above the live thread count idle, so scaling
// decisions apply without respawning goroutines.
type Miner struct {
	logger     *zap.Logger
	config     *Config
	source     AlgorithmSource
	maxWorkers int
	algorithms map[string]*Algorithm

	mu      sync.Mutex
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	hashes   atomic.Uint64
	hashrate atomic.Uint64 // float64 bits
	restarts atomic.Uint64
	started  time.Time
}

// NewMiner creates the worker pool. maxWorkers caps how far the scaler can
// ever raise the thread count back up.
func NewMiner(logger *zap.Logger, config *Config, source AlgorithmSource, maxWorkers int) (*Miner, error) {
	if config == nil || source == nil {
		return nil, common.ErrNilInput
	}
	if maxWorkers < config.Threads() {
		maxWorkers = config.Threads()
	}

	return &Miner{
		logger:     logger,
		config:     config,
		source:     source,
		maxWorkers: maxWorkers,
		algorithms: DefaultAlgorithms(),
	}, nil
}

// Start launches the workers and the hashrate meter
func (m *Miner) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked()
}

func (m *Miner) startLocked() error {
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("miner: %w", common.ErrAlreadyStarted)
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.started = time.Now()

	for i := 0; i < m.maxWorkers; i++ {
		m.wg.Add(1)
		go m.worker(m.ctx, i)
	}
	m.wg.Add(1)
	go m.meter(m.ctx)

	m.logger.Info("Miner started",
		zap.Int("max_workers", m.maxWorkers),
		zap.Int("threads", m.config.Threads()),
		zap.String("algorithm", m.source.CurrentAlgorithm()),
	)
	return nil
}

// Stop halts the workers
func (m *Miner) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked()
}

func (m *Miner) stopLocked() error {
	if !m.running.CompareAndSwap(true, false) {
		return fmt.Errorf("miner: %w", common.ErrAlreadyStopped)
	}

	m.cancel()
	m.wg.Wait()
	m.hashrate.Store(0)

	m.logger.Info("Miner stopped")
	return nil
}

// Restart stops and relaunches the workers. Wired as the restart-miner
// recovery action.
func (m *Miner) Restart(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running.Load() {
		if err := m.stopLocked(); err != nil {
			return err
		}
	}
	m.restarts.Add(1)
	return m.startLocked()
}

// Running reports whether the workers are active
func (m *Miner) Running() bool {
	return m.running.Load()
}

// Hashrate returns the current hashes per second
func (m *Miner) Hashrate() float64 {
	return math.Float64frombits(m.hashrate.Load())
}

// Algorithm returns the algorithm the workers are currently polling
func (m *Miner) Algorithm() string {
	return m.source.CurrentAlgorithm()
}

// Settings returns the live thread count and intensity
func (m *Miner) Settings() (int, float64) {
	return m.config.Snapshot()
}

// GetStats returns miner statistics
func (m *Miner) GetStats() map[string]interface{} {
	threads, intensity := m.config.Snapshot()
	stats := map[string]interface{}{
		"running":      m.running.Load(),
		"max_workers":  m.maxWorkers,
		"threads":      threads,
		"intensity":    intensity,
		"algorithm":    m.source.CurrentAlgorithm(),
		"total_hashes": m.hashes.Load(),
		"hashrate":     m.Hashrate(),
		"restarts":     m.restarts.Load(),
	}
	if m.running.Load() {
		stats["uptime"] = time.Since(m.started).String()
	}
	return stats
}

// worker computes hash batches while its index is inside the live thread
// count. Intensity sets the duty cycle between batches.
func (m *Miner) worker(ctx context.Context, id int) {
	defer m.wg.Done()

	workData := make([]byte, 80)
	binary.LittleEndian.PutUint64(workData, uint64(id)+1)
	var nonce uint64

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		threads, intensity := m.config.Snapshot()
		if id >= threads {
			sleepCtx(ctx, 250*time.Millisecond)
			continue
		}

		algo, ok := m.algorithms[m.source.CurrentAlgorithm()]
		if !ok {
			sleepCtx(ctx, time.Second)
			continue
		}

		start := time.Now()
		for i := 0; i < hashBatchSize; i++ {
			_ = algo.HashFunc(workData, nonce)
			nonce++
		}
		m.hashes.Add(hashBatchSize)

		if intensity < 1 {
			busy := time.Since(start)
			idle := time.Duration(float64(busy) * (1 - intensity) / intensity)
			if idle > 500*time.Millisecond {
				idle = 500 * time.Millisecond
			}
			sleepCtx(ctx, idle)
		}
	}
}

// meter recomputes the hashrate once per second from the cumulative counter
func (m *Miner) meter(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	prev := m.hashes.Load()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := m.hashes.Load()
			m.hashrate.Store(math.Float64bits(float64(current - prev)))
			prev = current
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
