package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

const (
	defaultLokiBatchSize = 100
	defaultLokiInterval  = 5 * time.Second
	lokiPushRetries      = 3
	lokiRetryBase        = 100 * time.Millisecond
)

// LokiConfig configures a push client for the Grafana Loki log API.
type LokiConfig struct {
	Endpoint      string            // Loki push endpoint URL
	Labels        map[string]string // Stream labels
	BatchSize     int               // Entries per push, default 100
	FlushInterval string            // Push interval for partial batches, default 5s
}

// LokiWriter is an io.Writer that batches log lines and pushes them to Loki
// from a background goroutine. The entry queue is bounded; when the pusher
// cannot keep up, lines are dropped so the caller's log path never stalls.
type LokiWriter struct {
	endpoint  string
	labels    map[string]string
	batchSize int
	interval  time.Duration
	client    *http.Client

	entries chan lokiEntry
	quit    chan struct{}
	done    chan struct{}
	closed  atomic.Bool
}

type lokiEntry struct {
	ts   time.Time
	line string
}

// Loki push API request body.
type lokiPush struct {
	Streams []lokiStream `json:"streams"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// NewLokiWriter creates a Loki writer and starts its push loop.
func NewLokiWriter(cfg LokiConfig) (*LokiWriter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("loki: endpoint is required")
	}

	interval := defaultLokiInterval
	if cfg.FlushInterval != "" {
		d, err := time.ParseDuration(cfg.FlushInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid flush interval: %w", err)
		}
		interval = d
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultLokiBatchSize
	}

	lw := &LokiWriter{
		endpoint:  cfg.Endpoint,
		labels:    cfg.Labels,
		batchSize: batchSize,
		interval:  interval,
		client:    &http.Client{Timeout: 10 * time.Second},
		entries:   make(chan lokiEntry, batchSize*4),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if lw.labels == nil {
		lw.labels = map[string]string{"job": "sipgw"}
	}

	go lw.run()
	return lw, nil
}

// Write queues one log line. It never blocks: a saturated queue drops the
// line instead of stalling the logger.
func (lw *LokiWriter) Write(p []byte) (int, error) {
	if lw.closed.Load() {
		return 0, fmt.Errorf("loki writer is closed")
	}
	select {
	case lw.entries <- lokiEntry{ts: time.Now(), line: string(p)}:
	default:
	}
	return len(p), nil
}

// Close stops the push loop after a final flush of all queued entries.
func (lw *LokiWriter) Close() error {
	if lw.closed.Swap(true) {
		return nil
	}
	close(lw.quit)
	<-lw.done
	return nil
}

// run is the push loop: it batches queued entries and pushes a batch when
// it is full, on every interval tick, and once more on shutdown.
func (lw *LokiWriter) run() {
	defer close(lw.done)

	ticker := time.NewTicker(lw.interval)
	defer ticker.Stop()

	batch := make([]lokiEntry, 0, lw.batchSize)
	for {
		select {
		case e := <-lw.entries:
			batch = append(batch, e)
			if len(batch) >= lw.batchSize {
				batch = lw.flush(batch)
			}

		case <-ticker.C:
			batch = lw.flush(batch)

		case <-lw.quit:
			for {
				select {
				case e := <-lw.entries:
					batch = append(batch, e)
				default:
					lw.flush(batch)
					return
				}
			}
		}
	}
}

// flush pushes the batch and resets it. A batch that cannot be delivered
// after retries is dropped so a dead collector cannot grow the buffer
// without bound.
func (lw *LokiWriter) flush(batch []lokiEntry) []lokiEntry {
	if len(batch) == 0 {
		return batch
	}
	if err := lw.push(batch); err != nil {
		slog.Warn("loki push failed, dropping batch", "entries", len(batch), "error", err)
	}
	return batch[:0]
}

// push sends one batch with exponential backoff between attempts.
func (lw *LokiWriter) push(batch []lokiEntry) error {
	values := make([][]string, len(batch))
	for i, e := range batch {
		values[i] = []string{strconv.FormatInt(e.ts.UnixNano(), 10), e.line}
	}
	payload, err := json.Marshal(lokiPush{
		Streams: []lokiStream{{Stream: lw.labels, Values: values}},
	})
	if err != nil {
		return fmt.Errorf("marshal loki push: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < lokiPushRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(lokiRetryBase << uint(attempt-1))
		}
		if lastErr = lw.send(payload); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("after %d attempts: %w", lokiPushRetries, lastErr)
}

// send performs a single push request.
func (lw *LokiWriter) send(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lw.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build loki request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := lw.client.Do(req)
	if err != nil {
		return fmt.Errorf("send loki request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("loki push status %d: %s", resp.StatusCode, body)
	}
	return nil
}
