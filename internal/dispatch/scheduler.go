package dispatch

import (
	"context"
	"time"

	"github.com/ignite/mail-manager/internal/message"
	"github.com/ignite/mail-manager/internal/pkg/logger"
)

// Scheduler runs the dispatch passes. The scheduled pass handles fresh
// eligible messages; the retry pass reclaims stale reservations and
// aged-out errors within each type's retry window.
type Scheduler struct {
	deps Deps

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// NewScheduler builds a scheduler over the shared handler deps.
func NewScheduler(deps Deps) *Scheduler {
	return &Scheduler{deps: deps, sleep: time.Sleep}
}

// RunScheduledPass dispatches everything currently eligible.
func (s *Scheduler) RunScheduledPass(ctx context.Context) error {
	if err := s.runDirect(ctx, false); err != nil {
		return err
	}
	return s.runIndirect(ctx, false)
}

// RunRetryPass re-dispatches messages whose lease or error state has
// gone stale.
func (s *Scheduler) RunRetryPass(ctx context.Context) error {
	if err := s.runDirect(ctx, true); err != nil {
		return err
	}
	return s.runIndirect(ctx, true)
}

func (s *Scheduler) runDirect(ctx context.Context, retry bool) error {
	chunk := s.deps.Config.Dispatch.ChunkSize
	stale := s.deps.Config.Sending.StaleLeaseMinutes
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := s.fetchDirect(ctx, retry, stale, afterID, chunk)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, m := range batch {
			afterID = m.ID
			s.dispatchOne(ctx, m)
			s.throttle()
		}
		if len(batch) < chunk {
			return nil
		}
	}
}

func (s *Scheduler) runIndirect(ctx context.Context, retry bool) error {
	stale := s.deps.Config.Sending.StaleLeaseMinutes
	groups, err := s.deps.Store.IndirectGroups(ctx, retry, stale)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs, err := s.deps.Store.IndirectGroupMessages(ctx, g, retry, stale)
		if err != nil {
			logger.Error("loading indirect group failed", "error", err.Error())
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		if g.BulkMailHandler != nil && g.ReceiverID != nil && g.Count > 1 {
			s.dispatchBulk(ctx, msgs)
		} else {
			for _, m := range msgs {
				s.dispatchOne(ctx, m)
			}
		}
		s.throttle()
	}
	return nil
}

// dispatchOne sends a single message, isolating its failure from the
// rest of the pass.
func (s *Scheduler) dispatchOne(ctx context.Context, m *message.Message) {
	h, err := NewMailHandler(ctx, s.deps, m)
	if err != nil {
		logger.Error("creating mail handler failed", "message_id", m.ID, "error", err.Error())
		return
	}
	if err := h.Send(ctx); err != nil {
		logger.Error("dispatch failed", "message_id", m.ID, "error", err.Error())
	}
}

func (s *Scheduler) dispatchBulk(ctx context.Context, msgs []*message.Message) {
	h, err := NewBulkMailHandler(ctx, s.deps, msgs)
	if err != nil {
		logger.Error("creating bulk handler failed", "error", err.Error())
		return
	}
	if err := h.Send(ctx); err != nil {
		logger.Error("bulk dispatch failed", "error", err.Error())
	}
}

// throttle pauses between dispatch units in staging so shared test
// infrastructure is never hammered.
func (s *Scheduler) throttle() {
	if s.deps.Config.Sending.StagingThrottle && s.deps.Config.IsStaging() {
		s.sleep(time.Second)
	}
}

func (s *Scheduler) fetchDirect(ctx context.Context, retry bool, stale int, afterID int64, chunk int) ([]*message.Message, error) {
	if retry {
		return s.deps.Store.DirectRetryEligible(ctx, stale, afterID, chunk)
	}
	return s.deps.Store.DirectEligible(ctx, afterID, chunk)
}
