package collective

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/hpc/Spindle/pkg/logutil"
	"github.com/hpc/Spindle/pkg/types"
	"go.uber.org/zap"
)

const (
	mqttQoS          = 1
	joinRepublish    = 500 * time.Millisecond
	mqttDisconnectMs = 250
)

// Topics are namespaced by run so concurrent runs can share a broker.
func topicArrive(runID string) string     { return fmt.Sprintf("pynamic/%s/arrive", runID) }
func topicContribute(runID string) string { return fmt.Sprintf("pynamic/%s/contribute", runID) }
func topicRelease(runID string) string    { return fmt.Sprintf("pynamic/%s/release", runID) }

type releaseMsg struct {
	Seq uint64 `json:"seq"`
}

// mqttEndpoint relays collective calls through a broker. Rank 0 owns the hub
// and publishes barrier releases; the other ranks publish arrivals and
// contributions and wait for releases.
type mqttEndpoint struct {
	client mqtt.Client
	runID  string
	rank   int
	hub    *Hub // rank 0 only

	mu       sync.Mutex
	released map[uint64]chan struct{}
	seen     map[ArriveRequest]bool
	// floor is one past the highest released call; arrivals below it are
	// republished duplicates.
	floor uint64

	ctx    context.Context
	cancel context.CancelFunc
}

func mqttOptions(broker, runID string, rank int) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(fmt.Sprintf("pynamic-%s-%d", runID, rank))
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetOrderMatters(false)
	return opts
}

// NewMqttRank connects to broker and joins the group as rank.
func NewMqttRank(ctx context.Context, broker, runID string, rank, size int) (*Comm, error) {
	logger := logutil.GetLogger()

	e := &mqttEndpoint{
		runID:    runID,
		rank:     rank,
		released: make(map[uint64]chan struct{}),
		seen:     make(map[ArriveRequest]bool),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	if rank == types.RootRank {
		e.hub = NewHub(size)
	}

	e.client = mqtt.NewClient(mqttOptions(broker, runID, rank))
	if err := waitToken(ctx, e.client.Connect()); err != nil {
		e.cancel()
		return nil, fmt.Errorf("collective: connecting to %s: %w", broker, err)
	}

	subs := map[string]mqtt.MessageHandler{topicRelease(runID): e.onRelease}
	if e.hub != nil {
		subs = map[string]mqtt.MessageHandler{
			topicArrive(runID):     e.onArrive,
			topicContribute(runID): e.onContribute,
		}
	}
	for topic, handler := range subs {
		if err := waitToken(ctx, e.client.Subscribe(topic, mqttQoS, handler)); err != nil {
			e.close()
			return nil, fmt.Errorf("collective: subscribing to %s: %w", topic, err)
		}
	}
	logger.Info("joined broker", zap.String("broker", broker), zap.Int("rank", rank), zap.String("run_id", runID))

	comm := newComm(e, rank, size, e.close)
	if err := comm.join(ctx); err != nil {
		e.close()
		return nil, err
	}
	return comm, nil
}

func (e *mqttEndpoint) close() error {
	e.cancel()
	e.client.Disconnect(mqttDisconnectMs)
	return nil
}

func (e *mqttEndpoint) publish(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return waitToken(ctx, e.client.Publish(topic, mqttQoS, false, payload))
}

func (e *mqttEndpoint) releaseChan(seq uint64) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.released[seq]
	if !ok {
		ch = make(chan struct{})
		e.released[seq] = ch
	}
	return ch
}

func (e *mqttEndpoint) Arrive(ctx context.Context, seq uint64, rank int) error {
	if e.hub != nil {
		if err := e.hub.Arrive(ctx, seq, rank); err != nil {
			return err
		}
		e.markReleased(seq)
		return e.publish(ctx, topicRelease(e.runID), releaseMsg{Seq: seq})
	}

	wait := e.releaseChan(seq)
	if err := e.publish(ctx, topicArrive(e.runID), ArriveRequest{Seq: seq, Rank: rank}); err != nil {
		return err
	}

	// Rank 0 may not be subscribed yet when the others join, so the join
	// arrival is repeated until released.
	var tick <-chan time.Time
	if seq == 0 {
		t := time.NewTicker(joinRepublish)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-wait:
			e.mu.Lock()
			delete(e.released, seq)
			e.mu.Unlock()
			return nil
		case <-tick:
			if err := e.publish(ctx, topicArrive(e.runID), ArriveRequest{Seq: seq, Rank: rank}); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *mqttEndpoint) Contribute(ctx context.Context, seq uint64, root int, c Contribution) error {
	if root != types.RootRank {
		return ErrUnsupportedRoot
	}
	if e.hub != nil {
		return e.hub.Contribute(ctx, seq, root, c)
	}
	return e.publish(ctx, topicContribute(e.runID), ContributeRequest{Seq: seq, Root: root, Contribution: c})
}

func (e *mqttEndpoint) Result(ctx context.Context, seq uint64) (Contribution, error) {
	if e.hub == nil {
		return Contribution{}, ErrUnsupportedRoot
	}
	return e.hub.Result(ctx, seq)
}

func (e *mqttEndpoint) onArrive(_ mqtt.Client, msg mqtt.Message) {
	var req ArriveRequest
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		logutil.GetLogger().Warn("dropping malformed arrival", zap.Error(err))
		return
	}
	e.mu.Lock()
	stale := req.Seq < e.floor || e.seen[req]
	if !stale {
		e.seen[req] = true
	}
	e.mu.Unlock()
	if stale {
		return
	}
	go func() {
		if err := e.hub.Arrive(e.ctx, req.Seq, req.Rank); err != nil && e.ctx.Err() == nil {
			logutil.GetLogger().Error("relayed arrival failed", zap.Uint64("seq", req.Seq), zap.Int("rank", req.Rank), zap.Error(err))
		}
	}()
}

// markReleased forgets the arrivals of every call up to seq. Every rank has
// passed seq once it is released, so later arrivals for it are stale.
func (e *mqttEndpoint) markReleased(seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if seq+1 > e.floor {
		e.floor = seq + 1
	}
	for req := range e.seen {
		if req.Seq < e.floor {
			delete(e.seen, req)
		}
	}
}

func (e *mqttEndpoint) onContribute(_ mqtt.Client, msg mqtt.Message) {
	var req ContributeRequest
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		logutil.GetLogger().Warn("dropping malformed contribution", zap.Error(err))
		return
	}
	if err := e.hub.Contribute(e.ctx, req.Seq, req.Root, req.Contribution); err != nil {
		logutil.GetLogger().Error("relayed contribution failed", zap.Uint64("seq", req.Seq), zap.Int("rank", req.Contribution.Rank), zap.Error(err))
	}
}

func (e *mqttEndpoint) onRelease(_ mqtt.Client, msg mqtt.Message) {
	var rel releaseMsg
	if err := json.Unmarshal(msg.Payload(), &rel); err != nil {
		logutil.GetLogger().Warn("dropping malformed release", zap.Error(err))
		return
	}
	ch := e.releaseChan(rel.Seq)
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
