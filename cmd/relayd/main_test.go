package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/matst80/tcprelay/internal/config"
	"github.com/matst80/tcprelay/internal/endpoint"
	"github.com/matst80/tcprelay/internal/obs"
	"github.com/matst80/tcprelay/internal/ratelimit"
	"github.com/matst80/tcprelay/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsOverrideConfig(t *testing.T) {
	cfg := config.Default()
	cfg.MappingFile = "from-file.txt"
	opts := Options{
		Listen:      "http://127.0.0.1:7000",
		Destination: "http://127.0.0.1:8000",
		Strategy:    "store-and-forward",
		Workers:     4,
	}
	opts.apply(&cfg)

	assert.Equal(t, "http://127.0.0.1:7000", cfg.Listen)
	assert.Equal(t, "from-file.txt", cfg.MappingFile)
	assert.Equal(t, "store-and-forward", cfg.Strategy)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 1024, cfg.BufferSize)
}

func TestIdleTimeoutFlagCanDisable(t *testing.T) {
	cfg := config.Default()
	require.NotZero(t, cfg.IdleTimeout)

	var opts Options
	_, err := flags.ParseArgs(&opts, []string{"--idle-timeout", "0s"})
	require.NoError(t, err)
	opts.apply(&cfg)
	assert.Zero(t, cfg.IdleTimeout)

	cfg = config.Default()
	want := cfg.IdleTimeout
	opts = Options{}
	_, err = flags.ParseArgs(&opts, nil)
	require.NoError(t, err)
	opts.apply(&cfg)
	assert.Equal(t, want, cfg.IdleTimeout)
}

func TestDebugFlagEnablesDebugLogging(t *testing.T) {
	t.Cleanup(func() { obs.SetLevel("info") })

	opts := Options{Debug: true}
	opts.configureLogging("warn")
	assert.True(t, obs.DebugEnabled())

	opts = Options{}
	opts.configureLogging("warn")
	assert.False(t, obs.DebugEnabled())
}

func TestEventSinkWantsPayloadOnlyWhenDebugging(t *testing.T) {
	t.Cleanup(func() { obs.SetLevel("info") })
	sink := newEventSink(newServerState())

	obs.SetLevel("info")
	assert.False(t, sink.TracePayload())
	obs.EnableDebug(true)
	assert.True(t, sink.TracePayload())
}

func TestLoadTableMergesSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.txt")
	require.NoError(t, os.WriteFile(path, []byte("http://127.0.0.1:7001=https://backend:443\n"), 0o644))

	cfg := config.Default()
	cfg.Listen, cfg.Destination = "127.0.0.1:7000", "127.0.0.1:8000"
	cfg.MappingFile = path
	table, err := loadTable(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	dest, ok := table.Lookup(endpoint.Endpoint{Host: "127.0.0.1", Port: 7001})
	require.True(t, ok)
	assert.True(t, dest.Encrypted)

	cfg.Listen = "http://127.0.0.1:7001"
	_, err = loadTable(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestLoadTableNeedsMappings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(path, []byte("# nothing yet\n"), 0o644))
	cfg := config.Default()
	cfg.MappingFile = path
	_, err := loadTable(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestEventSinkCountsLifecycle(t *testing.T) {
	state := newServerState()
	sink := newEventSink(state)
	listen := endpoint.Endpoint{Host: "127.0.0.1", Port: 7000}

	sink.Emit(relay.Event{Kind: relay.KindAccepted, Session: "a", Listen: listen})
	sink.Emit(relay.Event{Kind: relay.KindForwarding, Session: "a", Bytes: 5, Direction: relay.ClientToUpstream, Data: []byte("PING\n")})
	sink.Emit(relay.Event{Kind: relay.KindForwarding, Session: "a", Bytes: 3, Direction: relay.UpstreamToClient})
	sink.Emit(relay.Event{Kind: relay.KindClosed, Session: "a", Reason: relay.ReasonIdleTimeout, Duration: time.Second})
	sink.Emit(relay.Event{Kind: relay.KindRoutingFailed, Listen: listen, Err: relay.ErrRoutingMiss})
	sink.Emit(relay.Event{Kind: relay.KindRejected, Listen: listen, Err: relay.ErrRejected})
	sink.Emit(relay.Event{Kind: relay.KindClosed, Reason: relay.ReasonIOError, Err: errors.New("boom")})
	sink.Emit(relay.Event{Kind: relay.KindAcceptError, Listen: listen, Err: errors.New("emfile")})

	c := state.getStats()
	assert.EqualValues(t, 0, c.Active)
	assert.EqualValues(t, 1, c.Accepted)
	assert.EqualValues(t, 2, c.Closed)
	assert.EqualValues(t, 1, c.IdleTimeouts)
	assert.EqualValues(t, 1, c.RoutingFailures)
	assert.EqualValues(t, 1, c.Rejected)
	assert.EqualValues(t, 1, c.Errors)
	assert.EqualValues(t, 5, c.BytesUp)
	assert.EqualValues(t, 3, c.BytesDown)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "GET / HTTP/1.1..", preview([]byte("GET / HTTP/1.1\r\n")))
	assert.Len(t, preview([]byte(strings.Repeat("x", 200))), previewLimit)
}

func TestOpsEndpoints(t *testing.T) {
	state := newServerState()
	table := endpoint.NewTable()
	require.NoError(t, table.Insert(endpoint.Endpoint{Host: "0.0.0.0", Port: 7000}, endpoint.Endpoint{Host: "backend", Port: 443, Encrypted: true}))
	state.record(relay.Event{Kind: relay.KindAccepted, Session: "a"})
	srv := httptest.NewServer(newOpsMux(state, table, time.Now()))
	defer srv.Close()

	get := func(path string) *http.Response {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusOK, get("/healthz").StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").StatusCode)
	state.setReady(true)
	assert.Equal(t, http.StatusOK, get("/readyz").StatusCode)
	state.setClosing(true)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").StatusCode)

	resp := get("/api/state")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.EqualValues(t, 1, st.Active)
	require.Len(t, st.Mappings, 1)
	assert.Equal(t, "https://backend:443", st.Mappings[0].Dest)

	resp = get("/dashboard")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	assert.Equal(t, http.StatusOK, get("/metrics").StatusCode)
}

func TestCleanupLoopSweepsIdleClients(t *testing.T) {
	limiter := ratelimit.NewRateLimiter(0, 100, 1)
	limiter.AllowConnection("10.0.0.1")
	require.Equal(t, 1, limiter.Clients())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runCleanupLoop(ctx, limiter, 5*time.Millisecond, 0)
		close(done)
	}()
	require.Eventually(t, func() bool { return limiter.Clients() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestRunExitCodes(t *testing.T) {
	assert.Equal(t, 0, run([]string{"--version"}))
	assert.Equal(t, 1, run([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}))
	assert.Equal(t, 1, run([]string{"--strategy", "bogus"}))
}
