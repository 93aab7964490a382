// Package loki ships structured log entries to a Grafana Loki push endpoint,
// batching them on an interval. It implements logging.Logger and is wired in
// only when a loki_url is configured; otherwise cmd/apiserver and cmd/worker
// use logging.NewStdLogger alone.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/quillforge/quillforge/pkg/logging"
)

// Config holds Loki-specific configuration.
type Config struct {
	URL           string
	BatchSize     int
	BatchInterval time.Duration
	Timeout       time.Duration
	Labels        map[string]string
	Component     string
}

type entry struct {
	timestamp time.Time
	level     logging.Level
	component string
	message   string
	fields    map[string]interface{}
}

// Logger is a logging.Logger backed by a Loki HTTP push endpoint.
type Logger struct {
	config      Config
	client      *http.Client
	mu          sync.Mutex
	batch       []entry
	stopChan    chan struct{}
	flushTicker *time.Ticker
}

// New builds a Logger and starts its background flusher goroutine.
func New(config Config) (*Logger, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("loki url is required")
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.BatchInterval == 0 {
		config.BatchInterval = 5 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Labels == nil {
		config.Labels = make(map[string]string)
	}
	if _, ok := config.Labels["service"]; !ok {
		config.Labels["service"] = "quillforge"
	}

	l := &Logger{
		config:      config,
		client:      &http.Client{Timeout: config.Timeout},
		batch:       make([]entry, 0, config.BatchSize),
		stopChan:    make(chan struct{}),
		flushTicker: time.NewTicker(config.BatchInterval),
	}
	go l.backgroundFlusher()
	return l, nil
}

func (l *Logger) push(level logging.Level, message string, fields map[string]interface{}) {
	e := entry{timestamp: time.Now(), level: level, component: l.config.Component, message: message, fields: fields}

	l.mu.Lock()
	l.batch = append(l.batch, e)
	shouldFlush := len(l.batch) >= l.config.BatchSize
	l.mu.Unlock()

	if shouldFlush {
		l.flush()
	}
}

func (l *Logger) Debug(_ context.Context, message string, fields map[string]interface{}) {
	l.push(logging.LevelDebug, message, fields)
}
func (l *Logger) Info(_ context.Context, message string, fields map[string]interface{}) {
	l.push(logging.LevelInfo, message, fields)
}
func (l *Logger) Warn(_ context.Context, message string, fields map[string]interface{}) {
	l.push(logging.LevelWarn, message, fields)
}
func (l *Logger) Error(_ context.Context, message string, fields map[string]interface{}) {
	l.push(logging.LevelError, message, fields)
}

// Health performs a lightweight readiness check against the push endpoint.
func (l *Logger) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.config.URL, nil)
	if err != nil {
		return err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("loki unreachable: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

// Close flushes any remaining entries and stops the background flusher.
func (l *Logger) Close() error {
	close(l.stopChan)
	return l.flush()
}

func (l *Logger) backgroundFlusher() {
	for {
		select {
		case <-l.flushTicker.C:
			l.flush()
		case <-l.stopChan:
			l.flushTicker.Stop()
			return
		}
	}
}

func (l *Logger) flush() error {
	l.mu.Lock()
	if len(l.batch) == 0 {
		l.mu.Unlock()
		return nil
	}
	entries := l.batch
	l.batch = make([]entry, 0, l.config.BatchSize)
	l.mu.Unlock()

	return l.send(entries)
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

type lokiPushRequest struct {
	Streams []*lokiStream `json:"streams"`
}

func (l *Logger) send(entries []entry) error {
	streams := make(map[string]*lokiStream)

	for _, e := range entries {
		labels := l.labelsFor(e)
		key := serializeLabels(labels)

		stream, ok := streams[key]
		if !ok {
			stream = &lokiStream{Stream: labels}
			streams[key] = stream
		}

		line, _ := json.Marshal(map[string]interface{}{
			"timestamp": e.timestamp.Format(time.RFC3339Nano),
			"message":   e.message,
			"fields":    e.fields,
		})
		stream.Values = append(stream.Values, [2]string{
			fmt.Sprintf("%d", e.timestamp.UnixNano()), string(line),
		})
	}

	streamList := make([]*lokiStream, 0, len(streams))
	for _, s := range streams {
		streamList = append(streamList, s)
	}

	body, err := json.Marshal(lokiPushRequest{Streams: streamList})
	if err != nil {
		return fmt.Errorf("marshal loki payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, l.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build loki request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("send logs to loki: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("loki returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (l *Logger) labelsFor(e entry) map[string]string {
	labels := make(map[string]string, len(l.config.Labels)+2)
	for k, v := range l.config.Labels {
		labels[k] = v
	}
	labels["level"] = string(e.level)
	if e.component != "" {
		labels["component"] = e.component
	}
	return labels
}

func serializeLabels(labels map[string]string) string {
	b, _ := json.Marshal(labels)
	return string(b)
}
