package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/due-diligence-crawler/internal/job"
	"github.com/JakeFAU/due-diligence-crawler/internal/metrics"
	"github.com/JakeFAU/due-diligence-crawler/internal/orchestrator"
)

// Decoder turns a message body into a job.
type Decoder interface {
	Decode(body []byte) (job.Job, error)
}

// Processor runs one job to completion.
type Processor interface {
	Process(ctx context.Context, j job.Job) (orchestrator.Report, error)
}

// Message outcomes recorded in metrics. Interrupted jobs were cut short by
// shutdown; their messages are released for redelivery, not acknowledged.
const (
	OutcomeProcessed   = "processed"
	OutcomeFailed      = "failed"
	OutcomeMalformed   = "malformed"
	OutcomePanic       = "panic"
	OutcomeInterrupted = "interrupted"
)

// ConsumerConfig tunes the receive loop.
type ConsumerConfig struct {
	// BatchSize is the most messages received, and so the most jobs in
	// flight, per iteration.
	BatchSize int
	Wait      time.Duration
	// ErrorBackoff is slept after a failed receive.
	ErrorBackoff time.Duration
	// LeaseExtension renews in-flight deliveries; zero disables it.
	LeaseExtension time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.Wait <= 0 {
		c.Wait = 20 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 5 * time.Second
	}
	return c
}

// Consumer drains a Source: every received message becomes one concurrent job
// task, and the message is deleted only after its task finishes.
type Consumer struct {
	cfg       ConsumerConfig
	source    Source
	decoder   Decoder
	processor Processor
	logger    *zap.Logger
	running   atomic.Bool
}

// NewConsumer builds a Consumer.
func NewConsumer(cfg ConsumerConfig, source Source, decoder Decoder, processor Processor, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		cfg:       cfg.withDefaults(),
		source:    source,
		decoder:   decoder,
		processor: processor,
		logger:    logger,
	}
}

// Running reports whether Run is looping.
func (c *Consumer) Running() bool {
	return c.running.Load()
}

// Run polls until ctx is canceled. Receive errors are logged and retried after
// a backoff; nothing a job does ends the loop.
func (c *Consumer) Run(ctx context.Context) error {
	c.running.Store(true)
	defer c.running.Store(false)
	c.logger.Info("consumer started", zap.Int("batch_size", c.cfg.BatchSize), zap.Duration("wait", c.cfg.Wait))
	for {
		if ctx.Err() != nil {
			c.logger.Info("consumer stopped")
			return nil
		}
		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("receive failed", zap.Error(err), zap.Duration("backoff", c.cfg.ErrorBackoff))
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.ErrorBackoff):
			}
		}
	}
}

// Poll performs one receive and handles every message it returns, waiting for
// all of them. It returns the number of messages received.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	msgs, err := c.source.Receive(ctx, c.cfg.BatchSize, c.cfg.Wait)
	if err != nil {
		return 0, fmt.Errorf("receive: %w", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	c.logger.Debug("received messages", zap.Int("count", len(msgs)))

	var wg sync.WaitGroup
	for _, msg := range msgs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.handle(ctx, msg)
		}()
	}
	wg.Wait()
	return len(msgs), nil
}

func (c *Consumer) handle(ctx context.Context, msg Message) {
	logger := c.logger.With(zap.String("message_id", msg.ID))
	j, err := c.decoder.Decode(msg.Body)
	if err != nil {
		// Left on the queue for redelivery or dead-lettering.
		logger.Error("malformed job payload; leaving message unacknowledged", zap.Error(err))
		metrics.ObserveMessage(OutcomeMalformed)
		return
	}
	logger = logger.With(zap.String("job_id", j.ID))

	stop := c.extendLease(ctx, msg, logger)
	outcome := c.process(ctx, j, logger)
	stop()

	if ctx.Err() != nil {
		logger.Warn("job interrupted by shutdown; leaving message for redelivery", zap.String("outcome", outcome))
		c.release(context.WithoutCancel(ctx), msg, logger)
		metrics.ObserveMessage(OutcomeInterrupted)
		return
	}
	if err := c.source.Delete(context.WithoutCancel(ctx), msg.AckToken); err != nil {
		logger.Error("acknowledge message", zap.Error(err))
	}
	metrics.ObserveMessage(outcome)
}

// release zeroes the lease of msg so another consumer can take it at once.
func (c *Consumer) release(ctx context.Context, msg Message, logger *zap.Logger) {
	ext, ok := c.source.(LeaseExtender)
	if !ok {
		return
	}
	if err := ext.Extend(ctx, msg.AckToken, 0); err != nil {
		logger.Warn("release message lease", zap.Error(err))
	}
}

func (c *Consumer) process(ctx context.Context, j job.Job, logger *zap.Logger) (outcome string) {
	metrics.IncInflightJobs()
	defer metrics.DecInflightJobs()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			outcome = OutcomePanic
		}
	}()

	report, err := c.processor.Process(ctx, j)
	if err != nil {
		level := zap.ErrorLevel
		if errors.Is(err, orchestrator.ErrNothingRan) {
			level = zap.WarnLevel
		}
		logger.Log(level, "job finished with errors", zap.String("status", report.Status), zap.Error(err))
		return OutcomeFailed
	}
	logger.Info("job processed", zap.String("status", report.Status))
	return OutcomeProcessed
}

// extendLease renews msg immediately and then until the returned stop func is
// called.
func (c *Consumer) extendLease(ctx context.Context, msg Message, logger *zap.Logger) func() {
	ext, ok := c.source.(LeaseExtender)
	if !ok || c.cfg.LeaseExtension <= 0 {
		return func() {}
	}
	if err := ext.Extend(ctx, msg.AckToken, c.cfg.LeaseExtension); err != nil {
		logger.Warn("extend message lease", zap.Error(err))
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(c.cfg.LeaseExtension / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ext.Extend(ctx, msg.AckToken, c.cfg.LeaseExtension); err != nil && ctx.Err() == nil {
					logger.Warn("extend message lease", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
