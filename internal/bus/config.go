package bus

import "time"

// Config holds NATS connection and stream configuration.
type Config struct {
	// Connection
	URL            string        `json:"url"`
	Token          string        `json:"-"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	ReconnectWait  time.Duration `json:"reconnect_wait"`
	MaxReconnects  int           `json:"max_reconnects"`

	// Publish
	PublishTimeout time.Duration `json:"publish_timeout"`

	// Drain
	DrainTimeout time.Duration `json:"drain_timeout"`

	// Stream configuration (configurable for testing)
	StreamName     string   `json:"stream_name"`
	StreamSubjects []string `json:"stream_subjects"`

	// Pull fetch settings; PullFetcher does not read these, it takes its
	// batch size and max wait from listener.Config
	FetchBatchSize int           `json:"fetch_batch_size"`
	FetchMaxWait   time.Duration `json:"fetch_max_wait"`
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		URL:                   "nats://localhost:4222",
		ConnectTimeout:        10 * time.Second,
		ReconnectWait:         2 * time.Second,
		MaxReconnects:         -1, // unlimited
		PublishTimeout:        5 * time.Second,
		DrainTimeout:          30 * time.Second,
		StreamName:            "GATEWAY",
		StreamSubjects:        []string{"gw.>"},
		FetchBatchSize:        50,
		FetchMaxWait:          5 * time.Second,
	}
}

// Validate checks that the config has required fields.
func (c Config) Validate() error {
	if c.URL == "" {
		return ErrInvalidConfig
	}
	return nil
}
