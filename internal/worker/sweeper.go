package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SweeperConfig controls the periodic pending sweep.
type SweeperConfig struct {
	// PollInterval is how often to look for unprocessed earnings (default: 30s)
	PollInterval time.Duration
	// OnSweep, if set, receives the number of earnings withheld by each sweep.
	OnSweep func(processed int)
}

func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{PollInterval: 30 * time.Second}
}

// Sweeper runs WithholdingWorker.ProcessPending on a ticker until stopped.
type Sweeper struct {
	worker *WithholdingWorker
	config SweeperConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSweeper(worker *WithholdingWorker, config SweeperConfig) *Sweeper {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultSweeperConfig().PollInterval
	}
	return &Sweeper{worker: worker, config: config}
}

// Start begins the sweep loop. Returns an error if already running.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper is already running")
	}
	s.running = true
	stop, done := make(chan struct{}), make(chan struct{})
	s.stopCh, s.doneCh = stop, done
	s.mu.Unlock()

	go s.runLoop(ctx, stop, done)

	slog.InfoContext(ctx, "Withholding sweeper started", "poll_interval", s.config.PollInterval)
	return nil
}

// Stop signals the loop and waits for it to finish or for ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.running = false
	s.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Withholding sweeper stopped")
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Withholding sweeper stop timed out")
		return ctx.Err()
	}
}

func (s *Sweeper) runLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.worker.ProcessPending(ctx)
	if err != nil && ctx.Err() == nil {
		slog.ErrorContext(ctx, "Withholding sweep failed", "error", err)
	}
	if s.config.OnSweep != nil {
		s.config.OnSweep(n)
	}
}
