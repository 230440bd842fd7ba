package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-vigil/internal/data"
	"github.com/technosupport/ts-vigil/internal/metrics"
	"github.com/technosupport/ts-vigil/internal/retry"
)

type DispatcherConfig struct {
	SendTimeout time.Duration
	// Attempts per recipient including the first send.
	Attempts int
	Backoff  time.Duration
}

type Dispatcher struct {
	config   DispatcherConfig
	channels map[data.ChannelKind]Channel
}

func NewDispatcher(cfg DispatcherConfig, channels map[data.ChannelKind]Channel) *Dispatcher {
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Second
	}
	return &Dispatcher{config: cfg, channels: channels}
}

// DispatchAnalysis returns one outcome per recipient, in recipient order.
func (d *Dispatcher) DispatchAnalysis(ctx context.Context, res data.AnalysisResult, recipients []data.Recipient) []data.DeliveryOutcome {
	return d.dispatch(ctx, AnalysisPayload(res), recipients)
}

func (d *Dispatcher) DispatchPatrol(ctx context.Context, pr data.PatrolResult, recipients []data.Recipient) []data.DeliveryOutcome {
	return d.dispatch(ctx, PatrolPayload(pr), recipients)
}

func (d *Dispatcher) dispatch(ctx context.Context, base Payload, recipients []data.Recipient) []data.DeliveryOutcome {
	outcomes := make([]data.DeliveryOutcome, len(recipients))

	var wg sync.WaitGroup
	for i, r := range recipients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := base
			p.Recipient = r
			outcomes[i] = d.deliver(ctx, p)
			metrics.RecordDelivery(string(r.Channel), string(outcomes[i].Status))
		}()
	}
	wg.Wait()

	return outcomes
}

func (d *Dispatcher) deliver(ctx context.Context, p Payload) (out data.DeliveryOutcome) {
	out = data.DeliveryOutcome{Channel: p.Recipient.Channel, Recipient: p.Recipient}
	logger := log.With().
		Str("channel", string(p.Recipient.Channel)).
		Str("recipient", p.Recipient.String()).
		Str("kind", string(p.Kind)).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("channel panicked")
			out.Status = data.DeliveryFailed
			out.Reason = fmt.Sprintf("channel panic: %v", r)
		}
	}()

	ch, ok := d.channels[p.Recipient.Channel]
	if !ok || ch == nil {
		out.Status = data.DeliverySkipped
		out.Reason = "no transport for channel"
		return out
	}

	policy := retry.Policy{Attempts: d.config.Attempts, Backoff: retry.Fixed(d.config.Backoff)}
	attempts, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
		defer cancel()
		return ch.Send(sendCtx, p)
	})
	out.Attempts = attempts
	if err != nil {
		logger.Warn().Err(err).Int("attempts", attempts).Msg("notification delivery failed")
		out.Status = data.DeliveryFailed
		out.Reason = fmt.Errorf("%w: %v", data.ErrNotificationDeliveryFailed, err).Error()
		return out
	}

	logger.Debug().Int("attempts", attempts).Msg("notification delivered")
	out.Status = data.DeliveryDelivered
	return out
}
