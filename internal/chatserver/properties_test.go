package chatserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/strangers/internal/lobby"
	"github.com/cory-johannsen/strangers/internal/protocol"
	"github.com/cory-johannsen/strangers/internal/regions"
)

// statsTransport remembers the last broadcast presence count and how many
// user_disconnected notices each connection received.
type statsTransport struct {
	mu           sync.Mutex
	lastCount    int
	disconnected map[lobby.ConnID]int
}

func (s *statsTransport) Send(to lobby.ConnID, env protocol.Envelope) {
	if env.Event != protocol.EventUserDisconnected {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected[to]++
}

func (s *statsTransport) SendMany(to []lobby.ConnID, env protocol.Envelope) {
	for _, id := range to {
		s.Send(id, env)
	}
}

func (s *statsTransport) Broadcast(env protocol.Envelope) {
	if env.Event != protocol.EventServerStats {
		return
	}
	var stats protocol.ServerStats
	_ = json.Unmarshal(env.Data, &stats)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCount = stats.Count
}

// checkInvariants inspects the controller state directly.
func checkInvariants(t interface{ Fatalf(string, ...any) }, c *Controller) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.queue.Len() > 1 {
		t.Fatalf("queue holds %d entries at rest", c.queue.Len())
	}
	for _, id := range c.queue.Snapshot() {
		conn, ok := c.registry.Get(id)
		if !ok {
			t.Fatalf("queued connection %s is not registered", id)
		}
		if conn.State() != lobby.StateQueued {
			t.Fatalf("queued connection %s is %s", id, conn.State())
		}
	}
	for _, id := range c.registry.IDs() {
		conn, _ := c.registry.Get(id)
		if conn.State() == lobby.StateQueued && !c.queue.Contains(id) {
			t.Fatalf("connection %s is queued but not in the queue", id)
		}
		if !conn.InSession() {
			continue
		}
		s, ok := c.sessions.Get(conn.SessionID)
		if !ok || !s.Has(id) {
			t.Fatalf("connection %s holds dangling session %s", id, conn.SessionID)
		}
		if s.Kind == lobby.KindPair {
			if s.Len() != 2 {
				t.Fatalf("pair session %s has %d members", s.ID, s.Len())
			}
			partner, _ := s.Partner(id)
			if partner == id {
				t.Fatalf("connection %s paired with itself", id)
			}
		}
	}
}

func TestPropertyControllerInvariants(t *testing.T) {
	catalog, err := regions.NewCatalog([]*regions.Region{{ID: "europe"}})
	require.NoError(t, err)

	rapid.Check(t, func(t *rapid.T) {
		tr := &statsTransport{disconnected: make(map[lobby.ConnID]int)}
		opts := DefaultOptions()
		opts.AutoRequeue = rapid.Bool().Draw(t, "auto_requeue")
		c := NewController(tr, catalog, nil, opts, zap.NewNop())
		ctx := context.Background()

		n := rapid.IntRange(2, 8).Draw(t, "conns")
		live := make(map[lobby.ConnID]bool)
		loggedIn := make(map[lobby.ConnID]bool)

		steps := rapid.IntRange(1, 80).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			id := lobby.ConnID(fmt.Sprintf("c%d", rapid.IntRange(0, n-1).Draw(t, "conn")))
			op := rapid.IntRange(0, 7).Draw(t, "op")
			if !live[id] {
				if err := c.Connect(ctx, id, ""); err != nil {
					t.Fatalf("connect %s: %v", id, err)
				}
				live[id] = true
				continue
			}

			var raw string
			switch op {
			case 0:
				raw = `{"event":"login","data":{"name":"user` + string(id) + `","age":30}}`
			case 1, 2:
				raw = `{"event":"join_pair"}`
			case 3:
				raw = `{"event":"join_group","data":{"region":"europe"}}`
			case 4:
				raw = `{"event":"leave"}`
			case 5:
				raw = `{"event":"send_message","data":{"text":"hey"}}`
			case 6:
				raw = `{"event":"signal","data":{"type":"offer","data":{}}}`
			case 7:
				c.Disconnect(ctx, id)
				delete(live, id)
				delete(loggedIn, id)
			}
			if raw != "" {
				err := c.HandleRaw(ctx, id, []byte(raw))
				if op == 0 && err == nil {
					loggedIn[id] = true
				}
			}

			checkInvariants(t, c)
			tr.mu.Lock()
			count := tr.lastCount
			for who, notices := range tr.disconnected {
				if notices > 1 {
					t.Fatalf("%s received %d disconnect notices in one step", who, notices)
				}
				delete(tr.disconnected, who)
			}
			tr.mu.Unlock()
			if count != len(loggedIn) {
				t.Fatalf("presence count %d, want %d", count, len(loggedIn))
			}
		}
	})
}

func TestPropertyFIFOPairing(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tr := newRecordingTransport()
		c := NewController(tr, regions.DefaultCatalog(), nil, DefaultOptions(), zap.NewNop())
		ctx := context.Background()

		n := rapid.IntRange(2, 20).Draw(t, "conns")
		ids := make([]lobby.ConnID, n)
		for i := range ids {
			ids[i] = lobby.ConnID(fmt.Sprintf("c%02d", i))
			tr.attach(ids[i])
			_ = c.Connect(ctx, ids[i], "")
			_ = c.HandleRaw(ctx, ids[i], []byte(`{"event":"login","data":{"name":"u`+fmt.Sprint(i)+`","age":30}}`))
			_ = c.HandleRaw(ctx, ids[i], []byte(`{"event":"join_pair"}`))
		}

		for i := 0; i+1 < n; i += 2 {
			a, _ := c.Connection(ids[i])
			b, _ := c.Connection(ids[i+1])
			if a.SessionID == "" || a.SessionID != b.SessionID {
				t.Fatalf("%s and %s not paired together", ids[i], ids[i+1])
			}
		}
		if n%2 == 1 {
			last, _ := c.Connection(ids[n-1])
			if last.State() != lobby.StateQueued {
				t.Fatalf("odd one out is %s", last.State())
			}
		}
	})
}

func TestController_ConcurrentChurn(t *testing.T) {
	tr := newRecordingTransport()
	c := NewController(tr, regions.DefaultCatalog(), nil, DefaultOptions(), zaptest.NewLogger(t))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := lobby.ConnID(fmt.Sprintf("c%d", i))
			_ = c.Connect(ctx, id, "")
			_ = c.HandleRaw(ctx, id, []byte(fmt.Sprintf(`{"event":"login","data":{"name":"u%d","age":20}}`, i)))
			for j := 0; j < 5; j++ {
				if i%3 == 0 {
					_ = c.HandleRaw(ctx, id, []byte(`{"event":"join_group","data":{"region":"global"}}`))
				} else {
					_ = c.HandleRaw(ctx, id, []byte(`{"event":"join_pair"}`))
				}
				_ = c.HandleRaw(ctx, id, []byte(`{"event":"send_message","data":{"text":"ping"}}`))
				_ = c.HandleRaw(ctx, id, []byte(`{"event":"typing"}`))
			}
			c.Disconnect(ctx, id)
		}(i)
	}
	wg.Wait()

	checkInvariants(t, c)
	stats := c.Stats()
	assert.Equal(t, 0, stats.Connections)
	assert.Equal(t, 0, stats.Queued)
	assert.Equal(t, 0, stats.PairSessions)
	assert.Equal(t, 1, stats.GroupRooms)
}
