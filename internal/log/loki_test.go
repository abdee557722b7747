package log

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lokiSink is a capturing stand-in for the Loki push API.
type lokiSink struct {
	mu       sync.Mutex
	requests int32
	pushes   []lokiPush
}

func (s *lokiSink) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.requests, 1)
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var push lokiPush
		if err := json.Unmarshal(body, &push); err != nil {
			t.Errorf("unparseable push body: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.pushes = append(s.pushes, push)
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
}

func (s *lokiSink) requestCount() int {
	return int(atomic.LoadInt32(&s.requests))
}

func (s *lokiSink) allPushes() []lokiPush {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]lokiPush, len(s.pushes))
	copy(out, s.pushes)
	return out
}

func TestNewLokiWriterValidation(t *testing.T) {
	_, err := NewLokiWriter(LokiConfig{})
	require.Error(t, err)

	_, err = NewLokiWriter(LokiConfig{Endpoint: "http://localhost:3100", FlushInterval: "soon"})
	require.Error(t, err)

	lw, err := NewLokiWriter(LokiConfig{Endpoint: "http://localhost:3100"})
	require.NoError(t, err)
	defer lw.Close()
	assert.Equal(t, defaultLokiBatchSize, lw.batchSize)
	assert.Equal(t, defaultLokiInterval, lw.interval)
	assert.Equal(t, "sipgw", lw.labels["job"])
}

func TestLokiWriterPushesFullBatch(t *testing.T) {
	sink := &lokiSink{}
	server := httptest.NewServer(sink.handler(t))
	defer server.Close()

	lw, err := NewLokiWriter(LokiConfig{
		Endpoint:  server.URL,
		Labels:    map[string]string{"job": "sipgw", "host": "gw1"},
		BatchSize: 3,
	})
	require.NoError(t, err)
	defer lw.Close()

	for i := 0; i < 3; i++ {
		n, err := lw.Write([]byte("line " + strconv.Itoa(i) + "\n"))
		require.NoError(t, err)
		assert.NotZero(t, n)
	}

	require.Eventually(t, func() bool { return sink.requestCount() >= 1 },
		2*time.Second, 10*time.Millisecond)

	pushes := sink.allPushes()
	require.NotEmpty(t, pushes)
	require.Len(t, pushes[0].Streams, 1)
	stream := pushes[0].Streams[0]
	assert.Equal(t, "gw1", stream.Stream["host"])
	require.Len(t, stream.Values, 3)
	// Each value is a [timestamp, line] pair with a nanosecond timestamp.
	require.Len(t, stream.Values[0], 2)
	_, err = strconv.ParseInt(stream.Values[0][0], 10, 64)
	assert.NoError(t, err)
	assert.Contains(t, stream.Values[0][1], "line 0")
}

func TestLokiWriterPeriodicFlush(t *testing.T) {
	sink := &lokiSink{}
	server := httptest.NewServer(sink.handler(t))
	defer server.Close()

	lw, err := NewLokiWriter(LokiConfig{
		Endpoint:      server.URL,
		BatchSize:     100, // never fills, only the ticker can flush
		FlushInterval: "50ms",
	})
	require.NoError(t, err)
	defer lw.Close()

	_, err = lw.Write([]byte("tick\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.requestCount() >= 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestLokiWriterCloseFlushesQueued(t *testing.T) {
	sink := &lokiSink{}
	server := httptest.NewServer(sink.handler(t))
	defer server.Close()

	lw, err := NewLokiWriter(LokiConfig{
		Endpoint:      server.URL,
		BatchSize:     100,
		FlushInterval: "10s", // the ticker never fires during the test
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := lw.Write([]byte("queued\n"))
		require.NoError(t, err)
	}

	require.NoError(t, lw.Close())
	require.Equal(t, 1, sink.requestCount())
	pushes := sink.allPushes()
	require.Len(t, pushes[0].Streams, 1)
	assert.Len(t, pushes[0].Streams[0].Values, 5)

	// Closed writer rejects writes; a second Close is a no-op.
	_, err = lw.Write([]byte("late\n"))
	assert.Error(t, err)
	assert.NoError(t, lw.Close())
}

func TestLokiWriterRetriesFailedPush(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	lw, err := NewLokiWriter(LokiConfig{Endpoint: server.URL, BatchSize: 1})
	require.NoError(t, err)
	defer lw.Close()

	_, err = lw.Write([]byte("retry me\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return attempts.Load() >= 2 },
		2*time.Second, 10*time.Millisecond)
}
