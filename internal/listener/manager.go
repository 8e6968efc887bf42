package listener

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/reqgateway/gateway/internal/bus"
	"github.com/reqgateway/gateway/internal/observability"
)

// listenerKey composes the (subject, idField) pair spec.md names as the
// unique identity of a logical listener, so two callers sharing a subject
// but extracting different id fields never collapse onto one fetcher.
func listenerKey(subject, idField string) string {
	return subject + "\x00" + idField
}

type state int

const (
	stateCreating state = iota
	stateRunning
	stateStopping
	stateStopped
)

type entry struct {
	subject string
	idField string
	state   state
	cancel  context.CancelFunc
	done    chan struct{}
}

// Manager ensures exactly one running PullFetcher per (subject, idField)
// pair across the process, mirroring the teacher's per-instance worker
// registry (one NATSWorker per WhatsApp instance ID) but keyed on
// response subject instead of instance.
type Manager struct {
	js           jetstream.JetStream
	streamName   string
	correlator   Correlator
	backoff      BackoffConfig
	batchSize    int
	maxWait      time.Duration
	pollInterval time.Duration
	log          *slog.Logger
	metrics      *observability.Metrics

	mu        sync.Mutex
	listeners map[string]*entry
}

// Config bundles Manager construction dependencies.
type Config struct {
	JetStream    jetstream.JetStream
	StreamName   string
	Correlator   Correlator
	Backoff      BackoffConfig
	BatchSize    int
	MaxWait      time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
	Metrics      *observability.Metrics
}

// NewManager constructs a Manager.
func NewManager(cfg Config) *Manager {
	return &Manager{
		js:           cfg.JetStream,
		streamName:   cfg.StreamName,
		correlator:   cfg.Correlator,
		backoff:      cfg.Backoff,
		batchSize:    cfg.BatchSize,
		maxWait:      cfg.MaxWait,
		pollInterval: cfg.PollInterval,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
		listeners:    make(map[string]*entry),
	}
}

// EnsureActive guarantees a running listener for the (subject, idField)
// key exists, creating its durable consumer and starting its fetch loop
// if not already present. It is idempotent and safe to call on every
// SendRequest and during recovery. A second call naming the same subject
// with a different idField is rejected: per spec.md's listener key, one
// subject can only ever be read by one idField extraction within a
// process.
func (m *Manager) EnsureActive(ctx context.Context, subject, idField string) error {
	key := listenerKey(subject, idField)

	m.mu.Lock()
	if e, ok := m.listeners[key]; ok && (e.state == stateCreating || e.state == stateRunning) {
		m.mu.Unlock()
		return nil
	}
	for _, e := range m.listeners {
		if e.subject == subject && e.idField != idField && (e.state == stateCreating || e.state == stateRunning) {
			m.mu.Unlock()
			return fmt.Errorf("listener: subject %s already active with idField %q, cannot register idField %q", subject, e.idField, idField)
		}
	}
	e := &entry{subject: subject, idField: idField, state: stateCreating, done: make(chan struct{})}
	m.listeners[key] = e
	m.mu.Unlock()

	consumerCfg := bus.PullConsumerConfig(subject)
	consumer, err := m.js.CreateOrUpdateConsumer(ctx, m.streamName, consumerCfg)
	if err != nil {
		m.mu.Lock()
		delete(m.listeners, key)
		m.mu.Unlock()
		return fmt.Errorf("ensure consumer for %s: %w", subject, err)
	}

	asyncCtx := observability.AsyncContext(observability.AsyncContextOptions{
		Logger: m.log, Component: "listener", Worker: "pull-fetcher", Subject: subject,
	})
	runCtx, cancel := context.WithCancel(asyncCtx)
	e.cancel = cancel

	fetcher := NewPullFetcher(subject, idField, consumer, m.correlator, m.backoff, m.batchSize, m.maxWait, m.pollInterval, m.log, m.metrics)

	m.mu.Lock()
	e.state = stateRunning
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.ConnectionsActive.Inc()
	}

	go func() {
		defer close(e.done)
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("pull fetcher panic: %v", r)
				m.log.Error("listener goroutine panicked", slog.String("subject", subject), slog.String("error", err.Error()))
				observability.CaptureWorkerException(runCtx, "listener", "pull-fetcher", subject, err)
			}
		}()
		fetcher.Run(runCtx)
	}()

	m.log.Info("listener active", slog.String("subject", subject), slog.String("id_field", idField), slog.String("consumer", consumerCfg.Durable))
	return nil
}

// StopAll cancels every running listener and waits for their fetch loops
// to return, bounded by ctx.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.listeners))
	for key, e := range m.listeners {
		e.state = stateStopping
		entries = append(entries, e)
		delete(m.listeners, key)
	}
	m.mu.Unlock()

	for _, e := range entries {
		if e.cancel != nil {
			e.cancel()
		}
	}
	for _, e := range entries {
		select {
		case <-e.done:
		case <-ctx.Done():
			return
		}
		if m.metrics != nil {
			m.metrics.ConnectionsActive.Dec()
		}
	}
}

// Active reports whether the (subject, idField) key currently has a
// running listener.
func (m *Manager) Active(subject, idField string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.listeners[listenerKey(subject, idField)]
	return ok && e.state == stateRunning
}
