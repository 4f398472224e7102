package ui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gender-classifier/internal/api"
	"gender-classifier/internal/ledger"
	"gender-classifier/internal/metrics"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticSource(st ledger.Stats) StatsSource {
	return func(ctx context.Context) (ledger.Stats, error) { return st, nil }
}

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	NewHandler(hub, PageData{MaxUploadMB: 10}).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/stats"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readStats(t *testing.T, conn *websocket.Conn) api.StatsResponse {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var resp api.StatsResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp
}

func TestIndexPage(t *testing.T) {
	hub := NewHub(staticSource(ledger.Stats{}), HubOptions{})
	srv := newTestServer(t, hub)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "<title>Gender Classifier</title>")
	assert.Contains(t, body.String(), "up to 10MB")
	assert.Contains(t, body.String(), "/ws/stats")
}

func TestServeWS_InitialStatsAndPublish(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWrapper(metrics.NewWithRegistry(reg))

	hub := NewHub(staticSource(ledger.Stats{TotalFeedback: 2, CorrectPredictions: 1, Accuracy: 50}),
		HubOptions{Clients: m.WSClients()})
	srv := newTestServer(t, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dial(t, srv)

	initial := readStats(t, conn)
	assert.Equal(t, 2, initial.TotalFeedback)
	assert.Equal(t, 50.0, initial.Accuracy)
	assert.True(t, initial.PrivacySafe)
	assert.False(t, initial.DataStored)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	hub.Publish(ledger.Stats{TotalFeedback: 3, CorrectPredictions: 2, Accuracy: 66.666, OnlineTrainingCount: 3})
	next := readStats(t, conn)
	assert.Equal(t, 3, next.TotalFeedback)
	assert.Equal(t, 66.67, next.Accuracy)
	assert.Equal(t, 3, next.OnlineTrainingCount)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_GaugeTracksClients(t *testing.T) {
	reg := prometheus.NewRegistry()
	mm := metrics.NewWithRegistry(reg)
	hub := NewHub(staticSource(ledger.Stats{}), HubOptions{Clients: metrics.NewWrapper(mm).WSClients()})
	srv := newTestServer(t, hub)

	a := dial(t, srv)
	readStats(t, a)
	b := dial(t, srv)
	readStats(t, b)

	require.Eventually(t, func() bool { return hub.Clients() == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(mm.WSClients))

	a.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.WSClients))
}

func TestHub_CountsFailedUpgrades(t *testing.T) {
	mm := metrics.NewWithRegistry(prometheus.NewRegistry())
	mw := metrics.NewWrapper(mm)
	hub := NewHub(staticSource(ledger.Stats{}), HubOptions{Clients: mw.WSClients(), Errors: mw.Errors()})
	srv := newTestServer(t, hub)

	resp, err := http.Get(srv.URL + "/ws/stats")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.ErrorsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(mm.WSClients))
	assert.Equal(t, 0, hub.Clients())
}

func TestHub_PeriodicBroadcast(t *testing.T) {
	var calls atomic.Int32
	source := func(ctx context.Context) (ledger.Stats, error) {
		n := int(calls.Add(1))
		return ledger.Stats{TotalFeedback: n}, nil
	}
	hub := NewHub(source, HubOptions{Interval: 20 * time.Millisecond})
	srv := newTestServer(t, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dial(t, srv)
	first := readStats(t, conn)
	second := readStats(t, conn)
	assert.Greater(t, second.TotalFeedback, first.TotalFeedback)
}

func TestHub_SourceErrorSkipsInitialMessage(t *testing.T) {
	source := func(ctx context.Context) (ledger.Stats, error) {
		return ledger.Stats{}, errors.New("ledger unavailable")
	}
	hub := NewHub(source, HubOptions{})
	srv := newTestServer(t, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	hub.Publish(ledger.Stats{TotalFeedback: 7})
	got := readStats(t, conn)
	assert.Equal(t, 7, got.TotalFeedback)
}

func TestHub_RunClosesClientsOnCancel(t *testing.T) {
	hub := NewHub(staticSource(ledger.Stats{}), HubOptions{})
	srv := newTestServer(t, hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	conn := dial(t, srv)
	readStats(t, conn)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
	assert.Equal(t, 0, hub.Clients())
}

func TestPublish_NeverBlocks(t *testing.T) {
	hub := NewHub(staticSource(ledger.Stats{}), HubOptions{})
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish(ledger.Stats{TotalFeedback: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked without a running hub")
	}
}
