package connector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"riskforge/internal/schema"
)

// Sink receives normalized events. The ingest pipeline satisfies this.
type Sink interface {
	Process(ctx context.Context, ev *schema.Event) error
}

// Config holds configuration for the gateway ingester.
type Config struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	Lookback     time.Duration `yaml:"lookback"`
	Source       string        `yaml:"source"`
	Client       ClientConfig  `yaml:"client"`
}

// DefaultConfig returns the default ingester configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		PollInterval: 30 * time.Second,
		BatchSize:    500,
		Lookback:     time.Hour,
		Client:       DefaultClientConfig(),
	}
}

// Stats reports ingester counters.
type Stats struct {
	Fetched    uint64    `json:"fetched"`
	Processed  uint64    `json:"processed"`
	Skipped    uint64    `json:"skipped"`
	Failed     uint64    `json:"failed"`
	Checkpoint time.Time `json:"checkpoint"`
}

// Ingester polls the gateway for activity and feeds normalized events
// into the sink. The checkpoint only advances past records that were
// handed to the sink, so a processing failure is retried on the next
// poll rather than dropped.
type Ingester struct {
	client     *Client
	normalizer *Normalizer
	sink       Sink
	config     Config
	logger     *slog.Logger

	mu         sync.Mutex
	checkpoint time.Time
	stats      Stats
	running    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// NewIngester creates a gateway ingester.
func NewIngester(client *Client, sink Sink, cfg Config, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Ingester{
		client:     client,
		normalizer: NewNormalizer(cfg.Source),
		sink:       sink,
		config:     cfg,
		logger:     logger.With("component", "connector"),
		checkpoint: time.Now().UTC().Add(-cfg.Lookback),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins the poll loop. It returns immediately.
func (i *Ingester) Start(ctx context.Context) {
	i.mu.Lock()
	if i.running {
		i.mu.Unlock()
		return
	}
	i.running = true
	i.mu.Unlock()

	if health, err := i.client.GetHealth(ctx); err != nil {
		i.logger.Warn("gateway health check failed", "error", err)
	} else {
		i.logger.Info("gateway connection established",
			"status", health.Status,
			"version", health.Version,
			"pending", health.PendingRecords)
	}

	go i.loop(ctx)
}

func (i *Ingester) loop(ctx context.Context) {
	defer close(i.doneCh)

	ticker := time.NewTicker(i.config.PollInterval)
	defer ticker.Stop()

	i.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-i.stopCh:
			return
		case <-ticker.C:
			i.poll(ctx)
		}
	}
}

func (i *Ingester) poll(ctx context.Context) {
	for {
		i.mu.Lock()
		since := i.checkpoint
		i.mu.Unlock()

		records, hasMore, err := i.client.GetActivity(ctx, since, i.config.BatchSize)
		if err != nil {
			i.logger.Warn("activity fetch failed", "since", since, "error", err)
			return
		}
		if len(records) == 0 {
			return
		}

		newCheckpoint := since
		var processed, skipped, failed uint64
		for idx := range records {
			rec := &records[idx]
			ev, err := i.normalizer.Normalize(rec)
			if err != nil {
				skipped++
				i.logger.Debug("record skipped", "record_id", rec.ID, "error", err)
				if rec.Timestamp.After(newCheckpoint) {
					newCheckpoint = rec.Timestamp
				}
				continue
			}
			if err := i.sink.Process(ctx, ev); err != nil {
				failed++
				i.logger.Warn("record processing failed", "record_id", rec.ID, "error", err)
				// Leave the checkpoint behind this record so the
				// next poll retries it.
				break
			}
			processed++
			if rec.Timestamp.After(newCheckpoint) {
				newCheckpoint = rec.Timestamp
			}
		}

		i.mu.Lock()
		i.checkpoint = newCheckpoint
		i.stats.Fetched += uint64(len(records))
		i.stats.Processed += processed
		i.stats.Skipped += skipped
		i.stats.Failed += failed
		i.stats.Checkpoint = newCheckpoint
		i.mu.Unlock()

		if failed > 0 || !hasMore {
			return
		}
	}
}

// Stop halts the poll loop and waits for it to exit.
func (i *Ingester) Stop() {
	i.mu.Lock()
	if !i.running {
		i.mu.Unlock()
		return
	}
	i.running = false
	i.mu.Unlock()

	close(i.stopCh)
	<-i.doneCh
}

// Stats returns a snapshot of the ingester counters.
func (i *Ingester) Stats() Stats {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stats
}
