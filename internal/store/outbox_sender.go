// Package store provides the OutboxSender for delivering queued analytics events.
package store

import (
	"context"
	"log/slog"
	"time"
)

// OutboxSendFunc is the callback that performs the actual delivery.
// It receives the outbox message and should return an error if sending failed.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// OutboxSender periodically claims due outbox messages and attempts to send them.
type OutboxSender struct {
	repo           OutboxRepo
	sendFunc       OutboxSendFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	now            func() time.Time
}

// NewOutboxSender creates a new OutboxSender.
func NewOutboxSender(repo OutboxRepo, sendFunc OutboxSendFunc, pollInterval time.Duration) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &OutboxSender{
		repo:           repo,
		sendFunc:       sendFunc,
		pollInterval:   pollInterval,
		staleThreshold: 5 * time.Minute,
		claimLimit:     10,
		now:            time.Now,
	}
}

// Backoff returns the retry delay after attempts failed sends: 10s, 20s, 40s, ...
func Backoff(attempts int) time.Duration {
	if attempts > 12 {
		attempts = 12
	}
	return time.Duration(10*(1<<attempts)) * time.Second
}

// RecoverStaleMessages requeues messages stuck in sending state (crash recovery).
// Should be called once at startup.
func (s *OutboxSender) RecoverStaleMessages() error {
	staleBefore := s.now().Add(-s.staleThreshold)
	n, err := s.repo.RequeueStaleSendingMessages(staleBefore)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale messages", "count", n)
	}
	return nil
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: starting outbox sender", "pollInterval", s.pollInterval)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopping")
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// Flush sends every message that is due right now and returns how many were
// delivered and how many failed. Failed messages are rescheduled as usual.
func (s *OutboxSender) Flush(ctx context.Context) (sent, failed int) {
	for ctx.Err() == nil {
		ok, bad, claimed := s.poll(ctx)
		sent += ok
		failed += bad
		if claimed < s.claimLimit {
			break
		}
	}
	return sent, failed
}

func (s *OutboxSender) poll(ctx context.Context) (sent, failed, claimed int) {
	now := s.now()
	msgs, err := s.repo.ClaimDueOutboxMessages(now, s.claimLimit)
	if err != nil {
		slog.Error("OutboxSender.poll: claim failed", "error", err)
		return 0, 0, 0
	}

	for _, msg := range msgs {
		slog.Debug("OutboxSender.poll: sending message", "id", msg.ID, "deviceID", msg.DeviceID, "kind", msg.Kind)
		if err := s.sendFunc(ctx, msg); err != nil {
			failed++
			slog.Warn("OutboxSender.poll: send failed", "id", msg.ID, "kind", msg.Kind, "attempts", msg.Attempts, "error", err)
			nextAttempt := now.Add(Backoff(msg.Attempts))
			if err := s.repo.FailOutboxMessage(msg.ID, err.Error(), nextAttempt); err != nil {
				slog.Error("OutboxSender.poll: fail message error", "id", msg.ID, "error", err)
			}
			continue
		}
		sent++
		if err := s.repo.MarkOutboxMessageSent(msg.ID); err != nil {
			slog.Error("OutboxSender.poll: mark sent error", "id", msg.ID, "error", err)
		}
		slog.Debug("OutboxSender.poll: message sent", "id", msg.ID, "kind", msg.Kind)
	}
	return sent, failed, len(msgs)
}
