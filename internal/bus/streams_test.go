package bus_test

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	buspkg "github.com/reqgateway/gateway/internal/bus"
)

func TestGatewayStreamConfig(t *testing.T) {
	cfg := buspkg.GatewayStreamConfig("GATEWAY", []string{"gw.>"})

	assert.Equal(t, "GATEWAY", cfg.Name)
	assert.Equal(t, []string{"gw.>"}, cfg.Subjects)
	assert.Equal(t, jetstream.LimitsPolicy, cfg.Retention)
	assert.Equal(t, 72*time.Hour, cfg.MaxAge)
	assert.Equal(t, jetstream.FileStorage, cfg.Storage)
	assert.Equal(t, jetstream.DiscardOld, cfg.Discard)
	assert.Equal(t, 2*time.Minute, cfg.Duplicates)
	assert.False(t, cfg.NoAck)
}

func TestDurableConsumerName(t *testing.T) {
	assert.Equal(t, "pull-consumer-gw-responses-order-123", buspkg.DurableConsumerName("gw.responses.order-123"))
	assert.Equal(t, buspkg.DurableConsumerName("gw.responses.A"), buspkg.DurableConsumerName("gw.responses.A"))
}

func TestPullConsumerConfig(t *testing.T) {
	cfg := buspkg.PullConsumerConfig("gw.responses.order-123")

	assert.Equal(t, "pull-consumer-gw-responses-order-123", cfg.Durable)
	assert.Equal(t, "gw.responses.order-123", cfg.FilterSubject)
	assert.Equal(t, jetstream.AckExplicitPolicy, cfg.AckPolicy)
	assert.Equal(t, 30*time.Second, cfg.AckWait)
	assert.Equal(t, 3, cfg.MaxDeliver)
	assert.Equal(t, 1000, cfg.MaxAckPending)
	assert.Equal(t, jetstream.DeliverNewPolicy, cfg.DeliverPolicy)
}

func TestEnsureGatewayStream(t *testing.T) {
	srv := startEmbeddedNATS(t)
	cfg := testConfig(srv)

	client := buspkg.NewClient(cfg, testLogger(), testMetrics(t))
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	require.NoError(t, buspkg.EnsureGatewayStream(context.Background(), client.JetStream(), cfg, testLogger()))
	// idempotent
	require.NoError(t, buspkg.EnsureGatewayStream(context.Background(), client.JetStream(), cfg, testLogger()))

	stream, err := client.JetStream().Stream(context.Background(), cfg.StreamName)
	require.NoError(t, err)

	info, err := stream.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cfg.StreamName, info.Config.Name)
}

func TestEnsureGatewayStream_PublishAndPull(t *testing.T) {
	srv := startEmbeddedNATS(t)
	cfg := testConfig(srv)

	client := buspkg.NewClient(cfg, testLogger(), testMetrics(t))
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	require.NoError(t, buspkg.EnsureGatewayStream(context.Background(), client.JetStream(), cfg, testLogger()))

	subject := "gw.responses.order-123"
	ack, err := client.Publish(context.Background(), subject, []byte(`{"orderId":"order-123"}`))
	require.NoError(t, err)
	assert.Equal(t, cfg.StreamName, ack.Stream)

	consumer, err := client.EnsureConsumer(context.Background(), cfg.StreamName, buspkg.PullConsumerConfig(subject))
	require.NoError(t, err)
	assert.NotNil(t, consumer)

	msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(2*time.Second))
	require.NoError(t, err)

	var count int
	for msg := range msgs.Messages() {
		count++
		require.NoError(t, msg.Ack())
	}
	assert.Equal(t, 1, count)
}

func TestUpdateStreamMetrics(t *testing.T) {
	srv := startEmbeddedNATS(t)
	cfg := testConfig(srv)
	metrics := testMetrics(t)

	client := buspkg.NewClient(cfg, testLogger(), metrics)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	require.NoError(t, buspkg.EnsureGatewayStream(context.Background(), client.JetStream(), cfg, testLogger()))

	_, err := client.Publish(context.Background(), "gw.responses.test", []byte(`{"test":true}`))
	require.NoError(t, err)

	client.UpdateStreamMetrics(context.Background())
}
