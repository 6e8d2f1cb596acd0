package collective

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hpc/Spindle/pkg/types"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrUnavailable means no collective layer is configured. It selects the
	// single-machine path and is not a failure.
	ErrUnavailable = errors.New("collective: layer unavailable")

	// ErrOrderMismatch means ranks issued different collective calls for the
	// same position in their call sequence.
	ErrOrderMismatch = errors.New("collective: ranks disagree on call order")

	ErrUnsupportedRoot = errors.New("collective: transport only supports root 0")

	// ErrJoinRejected means the coordinator belongs to another run or group
	// size.
	ErrJoinRejected = errors.New("collective: join rejected")
)

type Kind int

const (
	KindBarrier Kind = iota
	KindScalar
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindBarrier:
		return "barrier"
	case KindScalar:
		return "reduce"
	case KindBytes:
		return "reduce-bytes"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Contribution is one rank's input to a reduction, and the combined result
// once every rank has contributed.
type Contribution struct {
	Rank  int      `json:"rank"`
	Kind  Kind     `json:"kind"`
	Op    types.Op `json:"op"`
	Value float64  `json:"value,omitempty"`
	Data  []byte   `json:"data,omitempty"`
}

type round struct {
	kind    Kind
	op      types.Op
	root    int
	arrived map[int]bool
	parts   []Contribution
	done    chan struct{}
}

// Hub is the rendezvous point of a collective group. Rounds are keyed by
// the per-rank call sequence number, so every rank must issue the same calls
// in the same order.
type Hub struct {
	size   int
	mu     sync.Mutex
	rounds map[uint64]*round
}

func NewHub(size int) *Hub {
	return &Hub{
		size:   size,
		rounds: make(map[uint64]*round),
	}
}

func (h *Hub) Size() int { return h.size }

func (h *Hub) ensureRound(seq uint64, kind Kind, op types.Op, root int) (*round, error) {
	r, ok := h.rounds[seq]
	if !ok {
		r = &round{
			kind:    kind,
			op:      op,
			root:    root,
			arrived: make(map[int]bool, h.size),
			done:    make(chan struct{}),
		}
		h.rounds[seq] = r
		return r, nil
	}
	if r.kind != kind || r.op != op || r.root != root {
		return nil, fmt.Errorf("%w: call %d is %s/%s/root %d, got %s/%s/root %d",
			ErrOrderMismatch, seq, r.kind, r.op, r.root, kind, op, root)
	}
	return r, nil
}

func (h *Hub) checkRank(rank int) error {
	if rank < 0 || rank >= h.size {
		return fmt.Errorf("collective: rank %d outside [0, %d)", rank, h.size)
	}
	return nil
}

// Arrive blocks until all ranks have arrived at barrier seq.
func (h *Hub) Arrive(ctx context.Context, seq uint64, rank int) error {
	if err := h.checkRank(rank); err != nil {
		return err
	}

	h.mu.Lock()
	r, err := h.ensureRound(seq, KindBarrier, types.OpSum, -1)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	if r.arrived[rank] {
		h.mu.Unlock()
		return fmt.Errorf("collective: rank %d arrived twice at call %d", rank, seq)
	}
	r.arrived[rank] = true
	if len(r.arrived) == h.size {
		close(r.done)
		delete(h.rounds, seq)
	}
	h.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Contribute records one rank's input to reduction seq without waiting for
// the others.
func (h *Hub) Contribute(_ context.Context, seq uint64, root int, c Contribution) error {
	if err := h.checkRank(c.Rank); err != nil {
		return err
	}
	if err := h.checkRank(root); err != nil {
		return err
	}
	if c.Kind != KindScalar && c.Kind != KindBytes {
		return fmt.Errorf("collective: cannot contribute a %s", c.Kind)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	r, err := h.ensureRound(seq, c.Kind, c.Op, root)
	if err != nil {
		return err
	}
	if r.arrived[c.Rank] {
		return fmt.Errorf("collective: rank %d contributed twice to call %d", c.Rank, seq)
	}
	if c.Kind == KindBytes && len(r.parts) > 0 && len(r.parts[0].Data) != len(c.Data) {
		return fmt.Errorf("collective: rank %d buffer has %d bytes, rank %d has %d",
			c.Rank, len(c.Data), r.parts[0].Rank, len(r.parts[0].Data))
	}
	r.arrived[c.Rank] = true
	r.parts = append(r.parts, c)
	if len(r.arrived) == h.size {
		close(r.done)
	}
	return nil
}

// Result waits for every contribution to reduction seq and combines them.
// The round is forgotten afterwards; only the root calls Result.
func (h *Hub) Result(ctx context.Context, seq uint64) (Contribution, error) {
	h.mu.Lock()
	r, ok := h.rounds[seq]
	h.mu.Unlock()
	if !ok {
		return Contribution{}, fmt.Errorf("collective: no reduction pending for call %d", seq)
	}
	if r.kind == KindBarrier {
		return Contribution{}, fmt.Errorf("%w: call %d is a barrier", ErrOrderMismatch, seq)
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		return Contribution{}, ctx.Err()
	}

	h.mu.Lock()
	delete(h.rounds, seq)
	h.mu.Unlock()

	return combine(r)
}

func combine(r *round) (Contribution, error) {
	out := Contribution{Rank: r.root, Kind: r.kind, Op: r.op}
	sort.Slice(r.parts, func(i, j int) bool { return r.parts[i].Rank < r.parts[j].Rank })

	switch r.kind {
	case KindScalar:
		values := make([]float64, len(r.parts))
		for i, p := range r.parts {
			values[i] = p.Value
		}
		switch r.op {
		case types.OpSum:
			out.Value = floats.Sum(values)
		case types.OpMin:
			out.Value = floats.Min(values)
		case types.OpMax:
			out.Value = floats.Max(values)
		default:
			return Contribution{}, fmt.Errorf("collective: unsupported operator %s", r.op)
		}

	case KindBytes:
		if r.op != types.OpSum {
			return Contribution{}, fmt.Errorf("collective: byte buffers only support SUM, got %s", r.op)
		}
		out.Data = make([]byte, len(r.parts[0].Data))
		for _, p := range r.parts {
			for i, b := range p.Data {
				out.Data[i] += b
			}
		}
	}
	return out, nil
}
