// Package worker runs asynchronous completion jobs.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/suPer8Hu/keystone/internal/chat"
	"github.com/suPer8Hu/keystone/internal/metrics"
)

// Task is one job delivery. Ack and Nack settle it with the queue it came from.
type Task struct {
	JobID string
	Ack   func() error
	Nack  func() error
}

// Queue accepts job ids for later processing.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
}

type Completer interface {
	Complete(ctx context.Context, message string) (string, error)
}

type JobStore interface {
	UpdateJobStatusRunning(ctx context.Context, id string) error
	GetJobByID(ctx context.Context, id string) (*chat.Job, error)
	MarkJobSucceeded(ctx context.Context, id string, result string) error
	MarkJobFailed(ctx context.Context, id string, errMsg string) error
}

type Handler struct {
	repo   JobStore
	comp   Completer
	rec    metrics.Recorder
	logger *slog.Logger
}

func NewHandler(repo JobStore, comp Completer, rec metrics.Recorder, logger *slog.Logger) *Handler {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{repo: repo, comp: comp, rec: rec, logger: logger}
}

// Handle runs one job to completion. The job row always ends up succeeded or
// failed unless the store itself is unreachable.
func (h *Handler) Handle(ctx context.Context, jobID string) error {
	jobStart := time.Now()

	t0 := time.Now()
	_ = h.repo.UpdateJobStatusRunning(ctx, jobID)
	updateCost := time.Since(t0)

	j, err := h.repo.GetJobByID(ctx, jobID)
	if err != nil {
		h.logger.Error("job_load_failed", slog.String("job", jobID), slog.Any("error", err))
		return err
	}
	if j.Done() {
		// redelivered after it already finished
		return nil
	}

	t1 := time.Now()
	reply, err := h.comp.Complete(ctx, j.Prompt)
	genCost := time.Since(t1)

	if err != nil {
		if markErr := h.repo.MarkJobFailed(ctx, jobID, err.Error()); markErr != nil {
			err = errors.Join(err, markErr)
		}
		h.rec.RecordJob(string(chat.JobFailed))
		h.logger.Warn("job_timing_failed",
			slog.String("job", jobID),
			slog.Duration("update", updateCost),
			slog.Duration("gen", genCost),
			slog.Duration("total", time.Since(jobStart)),
			slog.Any("error", err),
		)
		return err
	}

	if err := h.repo.MarkJobSucceeded(ctx, jobID, reply); err != nil {
		h.logger.Error("job_mark_succeeded_failed", slog.String("job", jobID), slog.Any("error", err))
		return err
	}
	h.rec.RecordJob(string(chat.JobSucceeded))

	if total := time.Since(jobStart); total > 2*time.Second {
		h.logger.Info("job_timing",
			slog.String("job", jobID),
			slog.Duration("update", updateCost),
			slog.Duration("gen", genCost),
			slog.Duration("total", total),
		)
	}
	return nil
}

// Pool fans tasks out to a fixed number of goroutines.
type Pool struct {
	handler     *Handler
	concurrency int
	logger      *slog.Logger
}

func NewPool(h *Handler, concurrency int, logger *slog.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{handler: h, concurrency: concurrency, logger: logger}
}

// Run consumes src until ctx is done or src is closed, then waits for
// in-flight tasks.
func (p *Pool) Run(ctx context.Context, src <-chan Task) {
	tasks := make(chan Task, p.concurrency*2)

	var wg sync.WaitGroup
	wg.Add(p.concurrency)
	for i := 0; i < p.concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for t := range tasks {
				p.process(ctx, workerID, t)
			}
		}(i)
	}

	p.logger.Info("worker pool started", slog.Int("concurrency", p.concurrency))
	defer func() {
		close(tasks)
		wg.Wait()
		p.logger.Info("worker pool stopped")
	}()

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-src:
			if !ok {
				return
			}
			select {
			case tasks <- t:
			case <-ctx.Done():
				settle(t.Nack)
				return
			}
		}
	}
}

func (p *Pool) process(ctx context.Context, workerID int, t Task) {
	if t.JobID == "" {
		p.logger.Warn("bad task", slog.Int("worker", workerID))
		settle(t.Nack)
		return
	}

	start := time.Now()
	if err := p.handler.Handle(ctx, t.JobID); err != nil {
		p.logger.Warn("job failed",
			slog.Int("worker", workerID),
			slog.String("job", t.JobID),
			slog.Duration("cost", time.Since(start)),
			slog.Any("error", err),
		)
		settle(t.Nack)
		return
	}
	if t.Ack != nil {
		if err := t.Ack(); err != nil {
			p.logger.Warn("ack failed", slog.Int("worker", workerID), slog.String("job", t.JobID), slog.Any("error", err))
		}
	}
}

func settle(f func() error) {
	if f != nil {
		_ = f()
	}
}
