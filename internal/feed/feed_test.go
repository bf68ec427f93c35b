package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosuda.org/vitalink"
)

type fakeSource struct {
	mu      sync.Mutex
	state   vitalink.State
	session uuid.UUID
}

func (f *fakeSource) Info() vitalink.DataSourceInfo {
	return vitalink.DataSourceInfo{Name: "test-shm", Type: vitalink.SourceType, Version: "1", SupportsWaveforms: true}
}

func (f *fakeSource) State() vitalink.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSource) SessionID() uuid.UUID { return f.session }

func (f *fakeSource) Stats() vitalink.Stats {
	return vitalink.Stats{State: f.State().String(), Frames: 42}
}

func (f *fakeSource) set(st vitalink.State) {
	f.mu.Lock()
	f.state = st
	f.mu.Unlock()
}

func startServer(t *testing.T, src Source, opts Options) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	ts := httptest.NewServer(NewServer(src, hub, opts).Routes())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
	})
	return hub, ts
}

func dial(t *testing.T, ts *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func TestHealth(t *testing.T) {
	src := &fakeSource{state: vitalink.StatePolling, session: uuid.New()}
	_, ts := startServer(t, src, Options{})

	tests := []struct {
		state  vitalink.State
		code   int
		status string
	}{
		{vitalink.StatePolling, http.StatusOK, StatusOK},
		{vitalink.StateStalled, http.StatusOK, StatusDegraded},
		{vitalink.StateHandshaking, http.StatusOK, StatusDegraded},
		{vitalink.StateFailed, http.StatusServiceUnavailable, StatusDown},
		{vitalink.StateStopped, http.StatusServiceUnavailable, StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			src.set(tt.state)
			resp, err := http.Get(ts.URL + "/healthz")
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.code, resp.StatusCode)

			var h Health
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
			assert.Equal(t, tt.status, h.Status)
			assert.Equal(t, tt.state.String(), h.State)
			assert.Equal(t, src.session.String(), h.Session)
			assert.EqualValues(t, 42, h.Stats.Frames)
		})
	}
}

func TestInfoAndMetrics(t *testing.T) {
	_, ts := startServer(t, &fakeSource{}, Options{})

	resp, err := http.Get(ts.URL + "/info")
	require.NoError(t, err)
	var info vitalink.DataSourceInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	resp.Body.Close()
	assert.Equal(t, "test-shm", info.Name)
	assert.Equal(t, vitalink.SourceType, info.Type)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebsocketStream(t *testing.T) {
	src := &fakeSource{state: vitalink.StatePolling, session: uuid.New()}
	hub, ts := startServer(t, src, Options{})

	conn := dial(t, ts, nil)
	hello := readMessage(t, conn)
	assert.Equal(t, TypeHello, hello["type"])
	assert.Equal(t, src.session.String(), hello["session"])
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	handler := hub.Handler()
	handler(vitalink.Event{
		Kind:    vitalink.EventVitals,
		Time:    time.Now(),
		Session: src.session,
		State:   vitalink.StatePolling,
		Vitals:  &vitalink.VitalsRecord{Timestamp: time.Now(), Sequence: 7, HeartRate: 72, SpO2: 98, RespRate: 16},
	})
	handler(vitalink.Event{
		Kind:  vitalink.EventDropped,
		Time:  time.Now(),
		Count: 5,
		Index: 21,
		Err:   &vitalink.SessionError{Kind: vitalink.KindOverrun, Op: "poll", Err: errors.New("lapped")},
	})

	m := readMessage(t, conn)
	assert.Equal(t, TypeVitals, m["type"])
	data := m["data"].(map[string]any)
	assert.EqualValues(t, 72, data["hr"])
	assert.EqualValues(t, 7, data["sequence"])

	m = readMessage(t, conn)
	assert.Equal(t, TypeDropped, m["type"])
	data = m["data"].(map[string]any)
	assert.EqualValues(t, 5, data["count"])
	assert.EqualValues(t, 21, data["index"])
	assert.Equal(t, "Overrun", data["kind"])
	assert.Equal(t, true, data["retryable"])

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestOriginCheck(t *testing.T) {
	_, ts := startServer(t, &fakeSource{}, Options{AllowedOrigins: []string{"http://monitor.test"}})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.test"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn := dial(t, ts, http.Header{"Origin": {"http://monitor.test"}})
	assert.Equal(t, TypeHello, readMessage(t, conn)["type"])
}

func TestSlowClientDropped(t *testing.T) {
	hub := NewHub(1)
	slow := &client{id: 1, hub: hub, send: make(chan []byte, 1)}
	hub.clients[slow] = struct{}{}

	hub.broadcast([]byte("a"))
	assert.Equal(t, 1, hub.Clients())
	hub.broadcast([]byte("b"))
	assert.Zero(t, hub.Clients())

	assert.Equal(t, []byte("a"), <-slow.send)
	_, open := <-slow.send
	assert.False(t, open)
}

func TestFromEvent(t *testing.T) {
	id := uuid.New()
	m := FromEvent(vitalink.Event{Kind: vitalink.EventStateChanged, Session: id, State: vitalink.StateStalled})
	assert.Equal(t, TypeState, m.Type)
	assert.Equal(t, "Stalled", m.State)
	assert.Equal(t, id.String(), m.Session)
	assert.Nil(t, m.Data)

	m = FromEvent(vitalink.Event{Kind: vitalink.EventUnknownFrame, Index: 3, FrameType: 0x7F})
	assert.Equal(t, TypeUnknownFrame, m.Type)
	assert.Empty(t, m.Session)
	assert.Equal(t, Detail{Index: 3, FrameType: 0x7F}, m.Data)
}
