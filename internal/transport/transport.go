// Package transport is an in-process message fabric between ranks. Each
// ordered pair of ranks has its own FIFO link, so messages between two
// ranks arrive in the order they were sent.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"matmr/internal/types"
)

// ErrProtocol reports a message of the wrong kind or a batch whose count
// differs from what the receiver expects.
var ErrProtocol = errors.New("protocol error")

// Comm is one rank's view of the fabric.
type Comm interface {
	Rank() int
	Size() int
	Send(ctx context.Context, to int, msg Message) error
	Recv(ctx context.Context, from int) (Message, error)
	Barrier(ctx context.Context) error
}

// Network holds every link and the shared barrier for a fixed set of ranks.
type Network struct {
	size    int
	links   [][]chan Message // links[from][to]
	barrier *Barrier
}

// NewNetwork creates links for ranks 0..size-1. buffer is the per-link
// capacity; 0 makes every send a rendezvous with its receive.
func NewNetwork(size, buffer int) *Network {
	n := &Network{
		size:    size,
		links:   make([][]chan Message, size),
		barrier: NewBarrier(size),
	}
	for from := range n.links {
		n.links[from] = make([]chan Message, size)
		for to := range n.links[from] {
			if from != to {
				n.links[from][to] = make(chan Message, buffer)
			}
		}
	}
	return n
}

func (n *Network) Size() int { return n.size }

// Endpoint returns the Comm for rank.
func (n *Network) Endpoint(rank int) *Endpoint {
	return &Endpoint{rank: rank, net: n}
}

type Endpoint struct {
	rank int
	net  *Network
}

func (e *Endpoint) Rank() int { return e.rank }

func (e *Endpoint) Size() int { return e.net.size }

func (e *Endpoint) link(from, to int) (chan Message, error) {
	if from < 0 || from >= e.net.size || to < 0 || to >= e.net.size || from == to {
		return nil, fmt.Errorf("no link from rank %d to rank %d", from, to)
	}
	return e.net.links[from][to], nil
}

func (e *Endpoint) Send(ctx context.Context, to int, msg Message) error {
	ch, err := e.link(e.rank, to)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send %s to rank %d: %w", msg.Kind, to, err)
	}
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send %s to rank %d: %w", msg.Kind, to, ctx.Err())
	}
}

func (e *Endpoint) Recv(ctx context.Context, from int) (Message, error) {
	ch, err := e.link(from, e.rank)
	if err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, fmt.Errorf("recv from rank %d: %w", from, err)
	}
	select {
	case msg := <-ch:
		return msg, nil
	case <-ctx.Done():
		return Message{}, fmt.Errorf("recv from rank %d: %w", from, ctx.Err())
	}
}

func (e *Endpoint) Barrier(ctx context.Context) error {
	return e.net.barrier.Wait(ctx)
}

// Expect receives the next message from a rank and checks its kind.
func Expect(ctx context.Context, c Comm, from int, kind Kind) (Message, error) {
	msg, err := c.Recv(ctx, from)
	if err != nil {
		return Message{}, err
	}
	if msg.Kind != kind {
		return Message{}, fmt.Errorf("%w: rank %d got %s from rank %d, want %s", ErrProtocol, c.Rank(), msg.Kind, from, kind)
	}
	return msg, nil
}

// SendRecords sends a batch header carrying len(recs) followed by the records.
func SendRecords(ctx context.Context, c Comm, to int, recs []types.Record) error {
	if err := c.Send(ctx, to, BatchMsg(len(recs))); err != nil {
		return err
	}
	for _, rec := range recs {
		if err := c.Send(ctx, to, RecordMsg(rec)); err != nil {
			return err
		}
	}
	return nil
}

// RecvRecords reads a batch from a rank and fails unless its header
// announces exactly want records.
func RecvRecords(ctx context.Context, c Comm, from, want int) ([]types.Record, error) {
	hdr, err := Expect(ctx, c, from, KindBatch)
	if err != nil {
		return nil, err
	}
	if hdr.Count != want {
		return nil, fmt.Errorf("%w: rank %d announced %d records, want %d", ErrProtocol, from, hdr.Count, want)
	}
	recs := make([]types.Record, 0, want)
	for i := 0; i < want; i++ {
		msg, err := Expect(ctx, c, from, KindRecord)
		if err != nil {
			return nil, err
		}
		recs = append(recs, msg.Record)
	}
	return recs, nil
}

// Barrier blocks each caller until n callers have arrived, then releases
// them all and resets for the next round.
type Barrier struct {
	mu      sync.Mutex
	n       int
	arrived int
	release chan struct{}
}

func NewBarrier(n int) *Barrier {
	return &Barrier{n: n, release: make(chan struct{})}
}

func (b *Barrier) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("barrier: %w", err)
	}
	b.mu.Lock()
	release := b.release
	b.arrived++
	if b.arrived == b.n {
		b.arrived = 0
		b.release = make(chan struct{})
		b.mu.Unlock()
		close(release)
		return nil
	}
	b.mu.Unlock()

	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("barrier: %w", ctx.Err())
	}
}
