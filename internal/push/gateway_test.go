package push

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"odin-backtester/internal/infrastructure"
	"odin-backtester/internal/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSubscriber struct {
	mu           sync.Mutex
	handlers     map[string]func([]byte)
	unsubscribed []string
}

func (f *fakeSubscriber) Subscribe(subject string, handler func([]byte)) (func() error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[subject] = handler
	return func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubscribed = append(f.unsubscribed, subject)
		return nil
	}, nil
}

func (f *fakeSubscriber) handler(subject string) func([]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[subject]
}

func (f *fakeSubscriber) unsubscribedFrom() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unsubscribed...)
}

func dial(t *testing.T, g *PushGateway) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	return conn
}

func subscribed(g *PushGateway, topic string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.subscriptions[topic]) > 0
}

func TestPushGateway_RelaysSubscribedSubject(t *testing.T) {
	sub := &fakeSubscriber{handlers: map[string]func([]byte){}}
	g := NewPushGateway(sub, zap.NewNop())
	conn := dial(t, g)

	topic := infrastructure.JobSubject("job-1")
	require.NoError(t, conn.WriteJSON(map[string]string{"action": "subscribe", "job_id": "job-1"}))
	require.Eventually(t, func() bool { return subscribed(g, topic) && sub.handler(topic) != nil }, time.Second, 5*time.Millisecond)

	sub.handler(topic)([]byte(`{"job_id":"job-1","status":"RUNNING"}`))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"job_id":"job-1","status":"RUNNING"}`, string(msg))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return !subscribed(g, topic) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{topic}, sub.unsubscribedFrom())
}

func TestPushGateway_LocalPublish(t *testing.T) {
	g := NewPushGateway(nil, zap.NewNop())
	conn := dial(t, g)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "subscribe", "topic": "market.raw.*.*"}))
	require.NoError(t, conn.WriteJSON(map[string]string{"action": "subscribe", "topic": infrastructure.JobSubjectAll}))
	require.Eventually(t, func() bool { return subscribed(g, infrastructure.JobSubjectAll) }, time.Second, 5*time.Millisecond)
	assert.False(t, subscribed(g, "market.raw.*.*"))

	g.PublishJob(model.BacktestJob{ID: "job-9", StrategyID: "momentum_v1", Status: model.StatusFailed, Error: "boom"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev infrastructure.JobEvent
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "job-9", ev.JobID)
	assert.Equal(t, model.StatusFailed, ev.Status)
	assert.Equal(t, "boom", ev.Error)
}

func TestMatches(t *testing.T) {
	assert.True(t, matches("backtest.job.a", "backtest.job.a"))
	assert.True(t, matches(infrastructure.JobSubjectAll, "backtest.job.a"))
	assert.False(t, matches("backtest.job.b", "backtest.job.a"))
}
