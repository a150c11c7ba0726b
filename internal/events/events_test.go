package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, Event) error { return f.err }

type countingPublisher struct{ n int }

func (c *countingPublisher) Publish(context.Context, Event) error {
	c.n++
	return nil
}

func TestKafkaPublisher_KeysByStartup(t *testing.T) {
	w := &recordingWriter{}
	p := NewKafkaPublisher(w)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	err := p.Publish(context.Background(), Event{
		Type: RatingUpdated,
		Key:  "acme",
		At:   at,
		Data: RatingChange{StartupID: "acme", Rating: 1516, Delta: 16, Price: decimal.RequireFromString("15.16")},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "acme", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "rating.updated", string(msg.Headers[0].Value))

	var decoded struct {
		Type string `json:"type"`
		Data struct {
			StartupID string  `json:"startup_id"`
			Rating    float64 `json:"rating"`
			Price     string  `json:"price"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "rating.updated", decoded.Type)
	assert.Equal(t, 1516.0, decoded.Data.Rating)
	assert.Equal(t, "15.16", decoded.Data.Price)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WrapsWriteError(t *testing.T) {
	down := errors.New("broker down")
	p := NewKafkaPublisher(&recordingWriter{err: down})
	err := p.Publish(context.Background(), Event{Type: TradeExecuted})
	assert.ErrorIs(t, err, down)
}

func TestMulti_PublishesEverywhereAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	c := &countingPublisher{}
	m := Multi{c, failingPublisher{boom}, Nop{}, c}

	err := m.Publish(context.Background(), Event{Type: TradeExecuted})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, c.n)
}

func TestEmit_SwallowsErrorsAndStamps(t *testing.T) {
	Emit(context.Background(), failingPublisher{errors.New("x")}, Event{Type: TradeExecuted})
	Emit(context.Background(), nil, Event{Type: TradeExecuted})

	w := &recordingWriter{}
	Emit(context.Background(), NewKafkaPublisher(w), Event{Type: TradeExecuted, Key: "k"})
	require.Len(t, w.msgs, 1)
	assert.False(t, w.msgs[0].Time.IsZero())
}

func TestHub_BroadcastsToWebSocketClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(ctx, Event{Type: RankingRecomputed, Data: RankingSummary{Scope: "all", Updated: 3}}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Type string         `json:"type"`
		Data RankingSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "ranking.recomputed", got.Type)
	assert.Equal(t, 3, got.Data.Updated)
}

func TestHub_PublishDropsWhenFull(t *testing.T) {
	hub := NewHub() // Run not started: nothing drains the buffer.
	var err error
	for i := 0; i < cap(hub.broadcast)+1; i++ {
		err = hub.Publish(context.Background(), Event{Type: TradeExecuted})
	}
	assert.ErrorIs(t, err, ErrHubFull)
}

func TestHub_StoppedHubDoesNotBlockConnections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	returned := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWS(w, r)
		returned <- struct{}{}
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()
	<-returned
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-hub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	assert.Equal(t, 0, hub.Clients())

	// The existing client is closed by the hub.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = first.ReadMessage()
	assert.Error(t, err)

	// A late upgrade is closed instead of waiting on the stopped loop.
	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer late.Close()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("handler blocked after hub stopped")
	}
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = late.ReadMessage()
	assert.Error(t, err)
}
