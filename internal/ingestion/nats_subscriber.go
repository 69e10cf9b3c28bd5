package ingestion

import (
	"context"
	"fmt"
	"time"

	"PoolLedger/internal/event"
	"PoolLedger/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber subscribes to JetStream subjects and hands raw commands to
// the ingestor. Each subject carries exactly one command type.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// RawEvent is a command as it came off the wire, not yet decoded.
type RawEvent struct {
	Subject   string
	EventType event.EventType
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // processed or logged; never redeliver
	NakFunc   func() // redeliver later
	TermFunc  func() // malformed; drop without redelivery
}

// SubjectConfig binds a subject to the command type it carries.
type SubjectConfig struct {
	Subject      string
	EventType    event.EventType
	ConsumerName string
	StreamName   string
}

type streamDef struct {
	name   string
	prefix string
}

var streams = []streamDef{
	{name: "POOL_ADMIN", prefix: "pool.admin"},
	{name: "POOL_TRANSFERS", prefix: "pool.transfers"},
	{name: "POOL_LIQUIDITY", prefix: "pool.liquidity"},
	{name: "POOL_ORDERS", prefix: "pool.orders"},
	{name: "POOL_RISK", prefix: "pool.risk"},
	{name: "POOL_CLAIMS", prefix: "pool.claims"},
}

// DefaultSubjects returns one subject per command type, grouped into
// streams by concern.
func DefaultSubjects() []SubjectConfig {
	sub := func(stream streamDef, token string, t event.EventType) SubjectConfig {
		return SubjectConfig{
			Subject:      stream.prefix + "." + token,
			EventType:    t,
			ConsumerName: "ledger-" + token,
			StreamName:   stream.name,
		}
	}
	admin, transfers, liquidity, orders, risk, claims := streams[0], streams[1], streams[2], streams[3], streams[4], streams[5]
	return []SubjectConfig{
		sub(admin, "create_market", event.EventTypeCreateMarket),
		sub(admin, "market_config", event.EventTypeApplyMarketConfig),
		sub(transfers, "deposit", event.EventTypeExternalDeposit),
		sub(transfers, "withdrawal", event.EventTypeExternalWithdrawal),
		sub(liquidity, "deposit", event.EventTypeDeposit),
		sub(liquidity, "withdraw", event.EventTypeWithdraw),
		sub(orders, "create", event.EventTypeCreateOrder),
		sub(orders, "update", event.EventTypeUpdateOrder),
		sub(orders, "cancel", event.EventTypeCancelOrder),
		sub(orders, "execute", event.EventTypeExecuteOrder),
		sub(orders, "freeze", event.EventTypeFreezeOrder),
		sub(risk, "liquidate", event.EventTypeLiquidate),
		sub(risk, "adl_state", event.EventTypeUpdateAdlState),
		sub(risk, "adl_execute", event.EventTypeExecuteAdl),
		sub(claims, "funding", event.EventTypeClaimFunding),
		sub(claims, "collateral", event.EventTypeClaimCollateral),
		sub(claims, "affiliate", event.EventTypeClaimAffiliate),
		sub(claims, "fees", event.EventTypeClaimFees),
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, metrics *observability.Metrics, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		metrics:   metrics,
		logger:    logger.With().Str("component", "nats_subscriber").Logger(),
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		cfg := cfg
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			now := time.Now()
			if ns.metrics != nil {
				if md, err := msg.Metadata(); err == nil {
					ns.metrics.NATSPullLatency.WithLabelValues(cfg.StreamName).Observe(now.Sub(md.Timestamp).Seconds())
				}
			}
			raw := RawEvent{
				Subject:   msg.Subject(),
				EventType: cfg.EventType,
				Data:      msg.Data(),
				Timestamp: now,
				AckFunc:   func() { _ = msg.Ack() },
				NakFunc:   func() { _ = msg.NakWithDelay(time.Second) },
				TermFunc:  func() { _ = msg.Term() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the inbound JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	for _, s := range streams {
		cfg := jetstream.StreamConfig{
			Name:      s.name,
			Subjects:  []string{s.prefix + ".>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		}
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("poolledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
