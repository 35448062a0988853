// Package bus publishes cycle outcomes to NATS so downstream collaborators
// (executors, monitors, tone post-processors) can react without polling the
// journal. Publication is fire-and-forget: a dead bus never fails a cycle.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"quorum-trader/pkg/models"
)

// Publisher pushes decisions and intents to whoever listens. The disabled
// configuration is a Nop publisher, so callers never branch.
type Publisher interface {
	PublishDecision(ctx context.Context, cycleID uuid.UUID, d *models.CombinedDecision) error
	PublishIntent(ctx context.Context, intent *models.TradeIntent) error
	Close() error
}

// DecisionEvent is the wire shape for decision publications.
type DecisionEvent struct {
	CycleID    uuid.UUID      `json:"cycle_id"`
	Pair       string         `json:"pair"`
	Signal     models.Signal  `json:"signal"`
	Confidence int            `json:"confidence"`
	Score      float64        `json:"score"`
	MoodTag    models.MoodTag `json:"mood_tag"`
	Timestamp  time.Time      `json:"timestamp"`
}

// NATSPublisher publishes on <prefix>.decision.<SYMBOL> and
// <prefix>.intent.<SYMBOL>.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	log    zerolog.Logger
}

// Connect dials NATS with infinite reconnects, matching the process
// lifecycle: the bus outlives brief broker restarts.
func Connect(url, prefix string, log zerolog.Logger) (*NATSPublisher, error) {
	busLog := log.With().Str("component", "bus").Logger()

	nc, err := nats.Connect(
		url,
		nats.Name("quorum-trader"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				busLog.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			busLog.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	if prefix == "" {
		prefix = "quorum"
	}
	busLog.Info().Str("url", url).Str("prefix", prefix).Msg("Bus connected")
	return &NATSPublisher{nc: nc, prefix: prefix, log: busLog}, nil
}

// PublishDecision emits a summary of the combined decision, HOLDs included:
// monitors want the full cycle stream, not only the trades.
func (p *NATSPublisher) PublishDecision(ctx context.Context, cycleID uuid.UUID, d *models.CombinedDecision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	event := DecisionEvent{
		CycleID:    cycleID,
		Pair:       d.Pair.String(),
		Signal:     d.Signal,
		Confidence: d.Confidence,
		Score:      d.Score,
		MoodTag:    d.MoodTag,
		Timestamp:  d.Timestamp,
	}
	return p.publish(fmt.Sprintf("%s.decision.%s", p.prefix, d.Pair.Symbol()), event)
}

// PublishIntent emits the full trade intent for execution collaborators.
func (p *NATSPublisher) PublishIntent(ctx context.Context, intent *models.TradeIntent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.publish(fmt.Sprintf("%s.intent.%s", p.prefix, intent.Pair.Symbol()), intent)
}

func (p *NATSPublisher) publish(subject string, payload any) error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("bus not connected")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	p.log.Debug().Str("subject", subject).Msg("Published")
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.log.Info().Msg("Bus closed")
	}
	return nil
}

// Nop is the publisher used when the bus is disabled.
type Nop struct{}

// NewNop returns a publisher that discards everything.
func NewNop() Nop { return Nop{} }

func (Nop) PublishDecision(context.Context, uuid.UUID, *models.CombinedDecision) error { return nil }
func (Nop) PublishIntent(context.Context, *models.TradeIntent) error                  { return nil }
func (Nop) Close() error                                                              { return nil }
