package collective

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/hpc/Spindle/pkg/types"
)

func TestMqttTopics(t *testing.T) {
	if got := topicArrive("r1"); got != "pynamic/r1/arrive" {
		t.Fatalf("topicArrive = %q", got)
	}
	if got := topicContribute("r1"); got != "pynamic/r1/contribute" {
		t.Fatalf("topicContribute = %q", got)
	}
	if got := topicRelease("r1"); got != "pynamic/r1/release" {
		t.Fatalf("topicRelease = %q", got)
	}
}

type fakeMessage struct {
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return mqttQoS }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return "pynamic/test/arrive" }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

var _ mqtt.Message = fakeMessage{}

func arrival(t *testing.T, seq uint64, rank int) mqtt.Message {
	t.Helper()
	b, err := json.Marshal(ArriveRequest{Seq: seq, Rank: rank})
	if err != nil {
		t.Fatal(err)
	}
	return fakeMessage{payload: b}
}

func (e *mqttEndpoint) seenCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.seen)
}

func pendingRound(h *Hub, seq uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.rounds[seq]
	return ok
}

func TestMqttRelayDropsRepublishedArrivals(t *testing.T) {
	e := &mqttEndpoint{
		rank:     0,
		hub:      NewHub(2),
		released: make(map[uint64]chan struct{}),
		seen:     make(map[ArriveRequest]bool),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	defer e.cancel()

	// Rank 1 republishes its join until released.
	e.onArrive(nil, arrival(t, 0, 1))
	e.onArrive(nil, arrival(t, 0, 1))
	if n := e.seenCount(); n != 1 {
		t.Fatalf("seen %d arrivals, want 1", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.hub.Arrive(ctx, 0, 0); err != nil {
		t.Fatal(err)
	}
	e.markReleased(0)
	if n := e.seenCount(); n != 0 {
		t.Fatalf("seen %d arrivals after release, want 0", n)
	}

	// A copy still in flight after the release must not open a new round.
	e.onArrive(nil, arrival(t, 0, 1))
	time.Sleep(20 * time.Millisecond)
	if n := e.seenCount(); n != 0 {
		t.Fatalf("stale arrival recorded")
	}
	if pendingRound(e.hub, 0) {
		t.Fatal("stale arrival opened a round")
	}

	// Later calls are still relayed.
	e.onArrive(nil, arrival(t, 3, 1))
	if err := e.hub.Arrive(ctx, 3, 0); err != nil {
		t.Fatal(err)
	}
	e.markReleased(3)
	if n := e.seenCount(); n != 0 {
		t.Fatalf("seen %d arrivals after second release", n)
	}
}

// Needs a reachable broker, e.g. PYNAMIC_TEST_MQTT_BROKER=tcp://127.0.0.1:1883.
func TestMqttGroup(t *testing.T) {
	broker := os.Getenv("PYNAMIC_TEST_MQTT_BROKER")
	if broker == "" {
		t.Skip("PYNAMIC_TEST_MQTT_BROKER not set")
	}

	const size = 3
	runID := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sums := make([]float64, size)
	var wg sync.WaitGroup
	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			c, err := NewMqttRank(ctx, broker, runID, rank, size)
			if err != nil {
				t.Error(err)
				return
			}
			defer c.Close()
			if sums[rank], err = c.Reduce(ctx, float64(rank+1), types.OpSum, 0); err != nil {
				t.Error(err)
			}
			if err := c.Barrier(ctx); err != nil {
				t.Error(err)
			}
		}(rank)
	}
	wg.Wait()
	if sums[0] != 6 {
		t.Fatalf("sum = %v, want 6", sums[0])
	}
}
