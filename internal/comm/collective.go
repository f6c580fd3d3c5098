package comm

import (
	"context"
	"fmt"
	"math"
)

// Root is the coordinating rank used by rooted collectives and reductions.
const Root = 0

// ReduceOp is a custom reduction operator. Combine must be associative and
// commutative; results are folded in rank order on Root.
type ReduceOp struct {
	Name    string
	Combine func(a, b Message) Message
}

// Comm runs collectives over a Transport. Every rank must call the same
// collectives in the same order; a sequence number catches mismatches.
type Comm struct {
	t   Transport
	seq uint64
}

// New wraps a transport.
func New(t Transport) *Comm {
	return &Comm{t: t}
}

// Rank returns the rank of this participant.
func (c *Comm) Rank() int { return c.t.Rank() }

// Size returns the number of ranks.
func (c *Comm) Size() int { return c.t.Size() }

// Abort unblocks every rank with err.
func (c *Comm) Abort(err error) { c.t.Abort(err) }

// Close releases the transport.
func (c *Comm) Close() error { return c.t.Close() }

func (c *Comm) next() uint64 {
	c.seq++
	return c.seq
}

func (c *Comm) fail(op string, err error) error {
	return &CollectiveError{Op: op, Rank: c.Rank(), Err: err}
}

func (c *Comm) recv(ctx context.Context, from int, seq uint64, op string) (Message, error) {
	msg, err := c.t.Recv(ctx, from)
	if err != nil {
		return Message{}, err
	}
	if msg.Seq != seq || msg.Op != op {
		return Message{}, fmt.Errorf("mismatched collective from rank %d: got %s#%d, want %s#%d",
			from, msg.Op, msg.Seq, op, seq)
	}
	return msg, nil
}

// gather collects one message per rank on root. The result is indexed by
// rank on root and nil elsewhere.
func (c *Comm) gather(ctx context.Context, op string, seq uint64, root int, local Message) ([]Message, error) {
	local.Seq, local.Op, local.From = seq, op, c.Rank()

	if c.Rank() != root {
		return nil, c.t.Send(ctx, root, local)
	}

	msgs := make([]Message, c.Size())
	for r := range msgs {
		if r == root {
			msgs[r] = local
			continue
		}
		msg, err := c.recv(ctx, r, seq, op)
		if err != nil {
			return nil, err
		}
		msgs[r] = msg
	}
	return msgs, nil
}

// bcast sends msg from root to every rank and returns the received copy.
func (c *Comm) bcast(ctx context.Context, op string, seq uint64, root int, msg Message) (Message, error) {
	if c.Rank() == root {
		msg.Seq, msg.Op, msg.From = seq, op, root
		for r := 0; r < c.Size(); r++ {
			if r == root {
				continue
			}
			if err := c.t.Send(ctx, r, msg); err != nil {
				return Message{}, err
			}
		}
		return msg, nil
	}
	return c.recv(ctx, root, seq, op)
}

func (c *Comm) checkRoot(root int) error {
	if root < 0 || root >= c.Size() {
		return fmt.Errorf("root %d outside [0, %d)", root, c.Size())
	}
	return nil
}

// Barrier blocks until every rank has entered it.
func (c *Comm) Barrier(ctx context.Context) error {
	const op = "barrier"
	seq := c.next()
	if _, err := c.gather(ctx, op, seq, Root, Message{}); err != nil {
		return c.fail(op, err)
	}
	if _, err := c.bcast(ctx, op, seq, Root, Message{}); err != nil {
		return c.fail(op, err)
	}
	return nil
}

// BroadcastFloats overwrites buf on every rank with root's buf.
func (c *Comm) BroadcastFloats(ctx context.Context, root int, buf []float64) error {
	const op = "bcast-floats"
	seq := c.next()
	if err := c.checkRoot(root); err != nil {
		return c.fail(op, err)
	}
	msg, err := c.bcast(ctx, op, seq, root, Message{Floats: buf})
	if err != nil {
		return c.fail(op, err)
	}
	if c.Rank() == root {
		return nil
	}
	if len(msg.Floats) != len(buf) {
		return c.fail(op, fmt.Errorf("received %d values, buffer holds %d", len(msg.Floats), len(buf)))
	}
	copy(buf, msg.Floats)
	return nil
}

// BroadcastInt returns root's v on every rank.
func (c *Comm) BroadcastInt(ctx context.Context, root, v int) (int, error) {
	const op = "bcast-int"
	seq := c.next()
	if err := c.checkRoot(root); err != nil {
		return 0, c.fail(op, err)
	}
	msg, err := c.bcast(ctx, op, seq, root, Message{Ints: []int{v}})
	if err != nil {
		return 0, c.fail(op, err)
	}
	if len(msg.Ints) != 1 {
		return 0, c.fail(op, fmt.Errorf("received %d ints, want 1", len(msg.Ints)))
	}
	return msg.Ints[0], nil
}

// BroadcastBytes returns root's b on every rank.
func (c *Comm) BroadcastBytes(ctx context.Context, root int, b []byte) ([]byte, error) {
	const op = "bcast-bytes"
	seq := c.next()
	if err := c.checkRoot(root); err != nil {
		return nil, c.fail(op, err)
	}
	msg, err := c.bcast(ctx, op, seq, root, Message{Bytes: b})
	if err != nil {
		return nil, c.fail(op, err)
	}
	return msg.Bytes, nil
}

// Allreduce folds every rank's local message with op and returns the
// identical result on every rank.
func (c *Comm) Allreduce(ctx context.Context, op ReduceOp, local Message) (Message, error) {
	name := "allreduce-" + op.Name
	seq := c.next()

	msgs, err := c.gather(ctx, name, seq, Root, local)
	if err != nil {
		return Message{}, c.fail(name, err)
	}

	var acc Message
	if c.Rank() == Root {
		acc = msgs[0]
		for _, m := range msgs[1:] {
			acc = op.Combine(acc, m)
		}
	}

	out, err := c.bcast(ctx, name, seq, Root, acc)
	if err != nil {
		return Message{}, c.fail(name, err)
	}
	return out, nil
}

// MinMax reduces [min, max] pairs.
var MinMax = ReduceOp{
	Name: "minmax",
	Combine: func(a, b Message) Message {
		return Message{Floats: []float64{
			math.Min(a.Floats[0], b.Floats[0]),
			math.Max(a.Floats[1], b.Floats[1]),
		}}
	},
}

// AllreduceMinMax returns the minimum and maximum of v over all ranks.
func (c *Comm) AllreduceMinMax(ctx context.Context, v float64) (lo, hi float64, err error) {
	out, err := c.Allreduce(ctx, MinMax, Message{Floats: []float64{v, v}})
	if err != nil {
		return 0, 0, err
	}
	if len(out.Floats) != 2 {
		return 0, 0, c.fail("allreduce-minmax", fmt.Errorf("received %d values, want 2", len(out.Floats)))
	}
	return out.Floats[0], out.Floats[1], nil
}

// Scatterv sends send[displs[r] : displs[r]+counts[r]] from root to rank r,
// writing it into recv. send, counts and displs are only read on root.
func (c *Comm) Scatterv(ctx context.Context, root int, send, counts, displs, recv []int) error {
	const op = "scatterv"
	seq := c.next()
	if err := c.checkRoot(root); err != nil {
		return c.fail(op, err)
	}

	if c.Rank() != root {
		msg, err := c.recv(ctx, root, seq, op)
		if err != nil {
			return c.fail(op, err)
		}
		if len(msg.Ints) != len(recv) {
			return c.fail(op, fmt.Errorf("received %d values, buffer holds %d", len(msg.Ints), len(recv)))
		}
		copy(recv, msg.Ints)
		return nil
	}

	if len(counts) != c.Size() || len(displs) != c.Size() {
		return c.fail(op, fmt.Errorf("counts/displs must have %d entries", c.Size()))
	}
	for r := 0; r < c.Size(); r++ {
		lo, hi := displs[r], displs[r]+counts[r]
		if lo < 0 || hi > len(send) || lo > hi {
			return c.fail(op, fmt.Errorf("segment [%d, %d) for rank %d outside send buffer of %d", lo, hi, r, len(send)))
		}
		if r == root {
			if counts[r] != len(recv) {
				return c.fail(op, fmt.Errorf("root segment holds %d values, buffer holds %d", counts[r], len(recv)))
			}
			copy(recv, send[lo:hi])
			continue
		}
		msg := Message{Seq: seq, Op: op, From: root, Ints: send[lo:hi]}
		if err := c.t.Send(ctx, r, msg); err != nil {
			return c.fail(op, err)
		}
	}
	return nil
}
