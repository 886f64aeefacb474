package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/vout/internal/stream"
)

func TestBroadcasterDropsOldest(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(2)
	for _, s := range []string{"a", "b", "c"} {
		b.Write([]byte(s))
	}
	assert.Equal(t, "b", string(<-ch))
	assert.Equal(t, "c", string(<-ch))

	require.NoError(t, b.Unsubscribe(ch))
	assert.Equal(t, ErrNotSubscribed, b.Unsubscribe(ch))
	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroadcasterFanOut(t *testing.T) {
	b := NewBroadcaster()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		ch := b.Subscribe(1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, ok := <-ch
			assert.True(t, ok)
			assert.Equal(t, []byte{0xc0, 0xff, 0xee}, p)
		}()
	}
	b.Write([]byte{0xc0, 0xff, 0xee})
	wg.Wait()

	require.NoError(t, b.Close())
	_, err := b.Write([]byte{1})
	assert.Equal(t, ErrClosed, err)
	_, ok := <-b.Subscribe(1)
	assert.False(t, ok)
}

func TestEventsWebsocket(t *testing.T) {
	m := New()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	var hello map[string]interface{}
	require.NoError(t, ws.ReadJSON(&hello))
	assert.Equal(t, "hello", hello["type"])
	assert.Equal(t, float64(1), hello["subscribers"])

	m.Observe(stream.Event{Type: stream.EventCompleted, Session: "s1", Index: 3, Time: 40000, Fields: 2, Sequence: 7})

	var ev map[string]interface{}
	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, "completed", ev["type"])
	assert.Equal(t, "s1", ev["session"])
	assert.Equal(t, float64(3), ev["index"])
	assert.Equal(t, float64(40000), ev["time"])
	assert.Equal(t, float64(2), ev["fields"])
	assert.Equal(t, float64(7), ev["sequence"])

	// Closing the monitor tells the client.
	require.NoError(t, m.Close())
	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestStats(t *testing.T) {
	m := New()
	m.Observe(stream.Event{Type: stream.EventQueued})
	m.Observe(stream.Event{Type: stream.EventQueued})
	m.Observe(stream.Event{Type: stream.EventStreamOn})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var counts map[string]uint64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&counts))
	assert.Equal(t, map[string]uint64{"queued": 2, "stream-on": 1}, counts)
	assert.Equal(t, counts, m.Counts())
}
