// Package comm provides the collective operations that keep workers in
// lock-step: barrier, broadcast, all-reduce and scatter. Collectives are
// written once on top of a point-to-point Transport; an in-process world
// (goroutines as ranks) and a NATS transport (processes as ranks) are
// provided.
package comm

import (
	"context"
	"fmt"
)

// Message is the unit exchanged between ranks. Slices are owned by the
// receiver; transports copy or serialise them so no memory is shared.
type Message struct {
	Seq    uint64
	Op     string
	From   int
	Floats []float64
	Ints   []int
	Bytes  []byte
}

// Transport delivers messages between ranks, FIFO per ordered pair of ranks.
type Transport interface {
	Rank() int
	Size() int
	// Send delivers msg to rank to. It must not block on the receiver.
	Send(ctx context.Context, to int, msg Message) error
	// Recv blocks until the next message from rank from arrives, the
	// context ends, or the world is aborted.
	Recv(ctx context.Context, from int) (Message, error)
	// Abort unblocks every rank of the world with err.
	Abort(err error)
	Close() error
}

// CollectiveError reports a failed collective on a rank. Any CollectiveError
// is fatal for the whole world.
type CollectiveError struct {
	Op   string
	Rank int
	Err  error
}

func (e *CollectiveError) Error() string {
	return fmt.Sprintf("collective %s failed on rank %d: %v", e.Op, e.Rank, e.Err)
}

func (e *CollectiveError) Unwrap() error {
	return e.Err
}

// AbortError is returned by Recv after a peer aborted the world.
type AbortError struct {
	Rank   int
	Reason string
}

func (e *AbortError) Error() string {
	if e.Rank < 0 {
		return "world aborted: " + e.Reason
	}
	return fmt.Sprintf("world aborted by rank %d: %s", e.Rank, e.Reason)
}

func cloneMessage(m Message) Message {
	out := m
	if m.Floats != nil {
		out.Floats = append([]float64(nil), m.Floats...)
	}
	if m.Ints != nil {
		out.Ints = append([]int(nil), m.Ints...)
	}
	if m.Bytes != nil {
		out.Bytes = append([]byte(nil), m.Bytes...)
	}
	return out
}
