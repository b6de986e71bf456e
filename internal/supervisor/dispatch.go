// ABOUTME: Event dispatcher - durable write-then-enqueue submission and consumer loops
// ABOUTME: At-least-once delivery with exponential backoff and a fixed retry ceiling

package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shreyanshjain7174/agent-runtime/internal/store"
)

// SendEventToAgent records an outbound event and enqueues its delivery
// envelope. The durable row is written before the queue entry, so a crash
// in between leaves a reconcilable orphan row rather than a queue entry
// with no record.
func (s *Supervisor) SendEventToAgent(ctx context.Context, installationID, eventType string, payload json.RawMessage, correlationID string) (*store.AgentEvent, error) {
	inst, err := s.store.GetInstallation(ctx, installationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Kind: "installation", ID: installationID}
		}
		return nil, err
	}

	sess, err := s.store.GetActiveSessionByInstallation(ctx, installationID)
	if err != nil || sess.Status != store.SessionRunning {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		s.auditDenied(ctx, inst.BusinessID, "system", store.AuditSendEvent, "installation", installationID,
			map[string]any{"event_type": eventType})
		return nil, &AgentNotRunningError{InstallationID: installationID}
	}

	now := time.Now().UTC()
	event := &store.AgentEvent{
		ID:             uuid.New().String(),
		BusinessID:     inst.BusinessID,
		InstallationID: installationID,
		EventType:      eventType,
		Direction:      store.DirectionToAgent,
		EventData:      payload,
		CorrelationID:  correlationID,
		Status:         store.EventPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateEvent(ctx, event); err != nil {
		return nil, err
	}

	if err := s.enqueueEvent(ctx, event, sess.SessionToken, now); err != nil {
		return nil, err
	}

	s.logger.Debug("event dispatched",
		"event_id", event.ID,
		"installation_id", installationID,
		"event_type", eventType,
	)
	return event, nil
}

// IngestAgentEvent records an inbound event produced by the agent itself.
// Inbound events are not queued; they are facts, recorded as completed.
func (s *Supervisor) IngestAgentEvent(ctx context.Context, installationID, eventType string, payload json.RawMessage, correlationID string) (*store.AgentEvent, error) {
	inst, err := s.store.GetInstallation(ctx, installationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Kind: "installation", ID: installationID}
		}
		return nil, err
	}

	now := time.Now().UTC()
	event := &store.AgentEvent{
		ID:             uuid.New().String(),
		BusinessID:     inst.BusinessID,
		InstallationID: installationID,
		EventType:      eventType,
		Direction:      store.DirectionFromAgent,
		EventData:      payload,
		CorrelationID:  correlationID,
		Status:         store.EventCompleted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateEvent(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// ReceiveFromAgent blocks until the installation's agent produces a payload,
// records it as an inbound event, and returns it.
func (s *Supervisor) ReceiveFromAgent(ctx context.Context, installationID string) ([]byte, error) {
	sess, err := s.store.GetActiveSessionByInstallation(ctx, installationID)
	if err != nil || sess.Status != store.SessionRunning {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, &AgentNotRunningError{InstallationID: installationID}
	}

	ls, ok := s.live.byTokenLookup(sess.SessionToken)
	if !ok {
		return nil, &AdapterMissingError{SessionToken: sess.SessionToken}
	}

	payload, err := ls.Adapter.ReceiveFromAgent(ctx, sess.SessionToken)
	if err != nil {
		return nil, &AdapterError{Op: "receive", Err: err}
	}

	if _, err := s.IngestAgentEvent(ctx, installationID, "agent.output", payload, ""); err != nil {
		s.logger.Error("recording inbound event failed", "installation_id", installationID, "error", err)
	}
	return payload, nil
}

// enqueueEvent writes the compact delivery envelope for an event.
func (s *Supervisor) enqueueEvent(ctx context.Context, event *store.AgentEvent, token string, visibleAt time.Time) error {
	return s.store.Enqueue(ctx, &store.Envelope{
		ID:            uuid.New().String(),
		EventID:       event.ID,
		SessionToken:  token,
		Payload:       event.EventData,
		CorrelationID: event.CorrelationID,
		EnqueuedAt:    time.Now().UTC(),
		VisibleAt:     visibleAt,
	})
}

// requeueOrphans re-enqueues pending events whose envelope was lost between
// the durable write and the enqueue (crash window), provided their session
// is still running.
func (s *Supervisor) requeueOrphans(ctx context.Context) error {
	orphans, err := s.store.ListOrphanPendingEvents(ctx)
	if err != nil {
		return err
	}

	for _, event := range orphans {
		sess, err := s.store.GetActiveSessionByInstallation(ctx, event.InstallationID)
		if err != nil || sess.Status != store.SessionRunning {
			if _, ferr := s.store.FailEvent(ctx, event.ID, "session gone before delivery"); ferr != nil {
				s.logger.Error("failing orphan event failed", "event_id", event.ID, "error", ferr)
			}
			continue
		}
		if err := s.enqueueEvent(ctx, event, sess.SessionToken, time.Now().UTC()); err != nil {
			return err
		}
		s.logger.Info("orphan event requeued", "event_id", event.ID)
	}
	return nil
}

// consumeLoop is one dispatcher consumer. It drains the durable queue until
// the supervisor shuts down, sleeping briefly when the queue is empty so the
// loop stays responsive to cancellation.
func (s *Supervisor) consumeLoop(consumer int) {
	logger := s.logger.With("consumer", consumer)
	logger.Debug("dispatcher consumer started")

	for {
		select {
		case <-s.baseCtx.Done():
			logger.Debug("dispatcher consumer stopped")
			return
		default:
		}

		env, err := s.store.Dequeue(s.baseCtx, time.Now().UTC())
		if err != nil {
			if s.baseCtx.Err() != nil {
				return
			}
			logger.Error("dequeue failed", "error", err)
			env = nil
		}
		if env == nil {
			select {
			case <-s.baseCtx.Done():
				return
			case <-time.After(s.cfg.QueuePollInterval):
			}
			continue
		}

		s.processEnvelope(s.baseCtx, env, logger.With("event_id", env.EventID))
	}
}

// processEnvelope attempts one delivery and handles the success/failure
// bookkeeping including retry scheduling.
func (s *Supervisor) processEnvelope(ctx context.Context, env *store.Envelope, logger *slog.Logger) {
	if err := s.store.MarkEventProcessing(ctx, env.EventID); err != nil {
		logger.Error("marking event processing failed", "error", err)
	}

	ls, ok := s.live.byTokenLookup(env.SessionToken)
	if !ok {
		// The session left the live registry after this envelope was queued.
		// There is nothing to deliver to and nothing to retry against.
		missingErr := &AdapterMissingError{SessionToken: env.SessionToken}
		if _, err := s.store.FailEvent(ctx, env.EventID, missingErr.Error()); err != nil {
			logger.Error("failing event failed", "error", err)
		}
		s.ackEnvelope(ctx, env.ID, logger)
		logger.Warn("dropped envelope for dead session")
		return
	}

	start := time.Now()
	sendErr := ls.Adapter.SendToAgent(ctx, env.SessionToken, env.Payload)
	elapsed := time.Since(start)

	if sendErr == nil {
		if err := s.store.CompleteEvent(ctx, env.EventID, elapsed.Milliseconds()); err != nil {
			logger.Error("completing event failed", "error", err)
		}
		if err := s.store.RecordEventProcessed(ctx, ls.SessionID, time.Now().UTC()); err != nil {
			logger.Error("recording processed event failed", "error", err)
		}
		s.recordDeliveryUsage(ctx, ls.InstallationID, len(env.Payload))
		s.ackEnvelope(ctx, env.ID, logger)
		logger.Debug("event delivered", "elapsed_ms", elapsed.Milliseconds())
		return
	}

	retryCount, err := s.store.FailEvent(ctx, env.EventID, sendErr.Error())
	if err != nil {
		logger.Error("failing event failed", "error", err)
		s.ackEnvelope(ctx, env.ID, logger)
		return
	}

	if retryCount < MaxEventRetries {
		// Exponential backoff, persisted as delayed visibility so a restart
		// mid-backoff does not lose the retry.
		delay := s.cfg.RetryBackoffBase * (1 << retryCount)
		if err := s.store.MarkEventRetry(ctx, env.EventID); err != nil {
			logger.Error("marking event retry failed", "error", err)
		}
		retryEnv := *env
		retryEnv.ID = uuid.New().String()
		retryEnv.VisibleAt = time.Now().UTC().Add(delay)
		if err := s.store.Enqueue(ctx, &retryEnv); err != nil {
			logger.Error("re-enqueueing retry failed", "error", err)
		}
		logger.Warn("delivery failed, retry scheduled",
			"retry_count", retryCount,
			"delay", delay,
			"error", sendErr,
		)
	} else {
		logger.Warn("delivery failed permanently",
			"retry_count", retryCount,
			"error", sendErr,
		)
	}
	s.ackEnvelope(ctx, env.ID, logger)
}

func (s *Supervisor) ackEnvelope(ctx context.Context, envelopeID string, logger *slog.Logger) {
	if err := s.store.Ack(ctx, envelopeID); err != nil {
		logger.Error("acking envelope failed", "error", err)
	}
}
