package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// GatewayStreamConfig returns the JetStream config for the single stream
// backing every subject the gateway publishes to or listens on. Subjects is
// a caller-configured wildcard prefix (e.g. "gw.>") so a deployment can
// scope the gateway to its own slice of the bus without a stream per
// subject.
func GatewayStreamConfig(name string, subjects []string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:              name,
		Subjects:          subjects,
		Retention:         jetstream.LimitsPolicy,
		MaxAge:            72 * time.Hour,
		MaxBytes:          10 * 1024 * 1024 * 1024, // 10GB
		Storage:           jetstream.FileStorage,
		Discard:           jetstream.DiscardOld,
		Duplicates:        2 * time.Minute,
		MaxMsgSize:        8 * 1024 * 1024,
		NoAck:             false,
		MaxMsgsPerSubject: -1,
	}
}

// DurableConsumerName derives the durable pull-consumer name from a subject.
// It is a pure function so that multiple gateway instances listening on the
// same subject land on the same durable consumer and load-balance pulls.
func DurableConsumerName(subject string) string {
	return "pull-consumer-" + strings.ReplaceAll(subject, ".", "-")
}

// PullConsumerConfig returns the durable pull-consumer configuration for a
// response subject, using the defaults named for the bus's required
// capabilities: deliverPolicy=New, ackPolicy=Explicit, ackWait=30s,
// maxDeliver=3, maxAckPending=1000.
func PullConsumerConfig(subject string) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       DurableConsumerName(subject),
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
		MaxAckPending: 1000,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
}

// EnsureGatewayStream creates or updates the gateway's JetStream stream.
func EnsureGatewayStream(ctx context.Context, js jetstream.JetStream, cfg Config, log *slog.Logger) error {
	streamCfg := GatewayStreamConfig(cfg.StreamName, cfg.StreamSubjects)
	stream, err := js.CreateOrUpdateStream(ctx, streamCfg)
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", streamCfg.Name, err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		log.Warn("failed to get stream info after create",
			slog.String("stream", streamCfg.Name),
			slog.String("error", err.Error()))
		return nil
	}
	log.Info("stream ensured",
		slog.String("stream", streamCfg.Name),
		slog.Uint64("messages", info.State.Msgs),
		slog.Uint64("bytes", info.State.Bytes),
	)
	return nil
}
