// ABOUTME: Resource usage recording - folds samples into per-day aggregates
// ABOUTME: Samples come from the adapter layer and from event delivery itself

package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/shreyanshjain7174/agent-runtime/internal/store"
)

// UsageSink accepts resource usage samples reported by the adapter layer.
type UsageSink interface {
	TrackResourceUsage(ctx context.Context, installationID string, sample store.UsageSample) error
}

var _ UsageSink = (*Supervisor)(nil)

// usageDay returns the UTC calendar-day bucket for a timestamp.
func usageDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// TrackResourceUsage folds one usage sample into the installation's bucket
// for the current UTC day. The increment is atomic at the storage layer, so
// overlapping samples accumulate exactly.
func (s *Supervisor) TrackResourceUsage(ctx context.Context, installationID string, sample store.UsageSample) error {
	if _, err := s.store.GetInstallation(ctx, installationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Kind: "installation", ID: installationID}
		}
		return err
	}
	return s.store.AddResourceUsage(ctx, installationID, usageDay(time.Now()), sample)
}

// recordDeliveryUsage accounts for one successful event delivery. Failures
// here are background failures: logged, never surfaced to the delivery path.
func (s *Supervisor) recordDeliveryUsage(ctx context.Context, installationID string, payloadBytes int) {
	sample := store.UsageSample{
		APICallsMade:    1,
		EventsProcessed: 1,
		DataOutBytes:    int64(payloadBytes),
	}
	if err := s.store.AddResourceUsage(ctx, installationID, usageDay(time.Now()), sample); err != nil {
		s.logger.Error("recording delivery usage failed",
			"installation_id", installationID,
			"error", err,
		)
	}
}
