package industry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ScrapCrafters/scrap_layer/internal/app/system"
	"github.com/ScrapCrafters/scrap_layer/internal/logging"
)

var _ system.Service = (*PaymentRetrier)(nil)

// RetrierConfig schedules the payment sweep.
type RetrierConfig struct {
	// Schedule is a cron spec or descriptor such as "@every 1m".
	Schedule string
	// BatchSize caps the tasks attempted per sweep.
	BatchSize int
	// Timeout bounds a single sweep.
	Timeout time.Duration
}

// PaymentRetrier periodically retries pending dealer payments.
type PaymentRetrier struct {
	service *Service
	log     *logging.Logger
	config  RetrierConfig

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewPaymentRetrier validates the schedule and builds a stopped retrier.
func NewPaymentRetrier(service *Service, cfg RetrierConfig, log *logging.Logger) (*PaymentRetrier, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("payment retry schedule %q: %w", cfg.Schedule, err)
	}
	if log == nil {
		log = logging.NewDefault("payment-retrier")
	}
	return &PaymentRetrier{service: service, log: log, config: cfg}, nil
}

func (r *PaymentRetrier) Name() string { return "payment-retrier" }

func (r *PaymentRetrier) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(r.config.Schedule, r.sweep); err != nil {
		return fmt.Errorf("schedule payment retries: %w", err)
	}

	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	r.cron = c
	r.running = true
	c.Start()

	r.log.WithField("schedule", r.config.Schedule).Info("payment retrier started")
	return nil
}

func (r *PaymentRetrier) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	c, cancel := r.cron, r.cancel
	r.running = false
	r.cron = nil
	r.mu.Unlock()

	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("payment retrier stopped")
	return nil
}

// RunOnce performs one sweep synchronously.
func (r *PaymentRetrier) RunOnce(ctx context.Context) (RetrySummary, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()
	return r.service.RetryPending(ctx, r.config.BatchSize)
}

func (r *PaymentRetrier) sweep() {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	ctx = logging.WithTraceID(ctx, logging.NewTraceID())
	sum, err := r.RunOnce(ctx)
	if err != nil {
		r.log.WithContext(ctx).WithError(err).Warn("payment retry sweep failed")
		return
	}
	if sum.Scanned == 0 {
		return
	}
	r.log.WithContext(ctx).WithFields(map[string]interface{}{
		"scanned": sum.Scanned,
		"settled": sum.Settled,
		"partial": sum.Partial,
		"skipped": sum.Skipped,
		"errored": sum.Errored,
	}).Info("payment retry sweep finished")
}
