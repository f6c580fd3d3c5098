package comm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// LocalWorld connects ranks running as goroutines of one process. Messages
// are deep-copied on send, so ranks never share memory.
type LocalWorld struct {
	boxes []*mailbox
}

// NewLocalWorld creates a world of size ranks.
func NewLocalWorld(size int) (*LocalWorld, error) {
	if size <= 0 {
		return nil, fmt.Errorf("world size must be positive, got %d", size)
	}
	w := &LocalWorld{boxes: make([]*mailbox, size)}
	for i := range w.boxes {
		w.boxes[i] = newMailbox(size)
	}
	return w, nil
}

// Size returns the number of ranks.
func (w *LocalWorld) Size() int {
	return len(w.boxes)
}

// Transport returns the endpoint of rank.
func (w *LocalWorld) Transport(rank int) Transport {
	return &localTransport{world: w, rank: rank}
}

// Abort unblocks every rank.
func (w *LocalWorld) Abort(err error) {
	for _, mb := range w.boxes {
		mb.abort(err)
	}
}

type localTransport struct {
	world *LocalWorld
	rank  int
}

func (t *localTransport) Rank() int { return t.rank }
func (t *localTransport) Size() int { return len(t.world.boxes) }

func (t *localTransport) Send(ctx context.Context, to int, msg Message) error {
	if to < 0 || to >= len(t.world.boxes) {
		return fmt.Errorf("send to rank %d outside world of %d", to, len(t.world.boxes))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.world.boxes[to].put(t.rank, cloneMessage(msg))
	return nil
}

func (t *localTransport) Recv(ctx context.Context, from int) (Message, error) {
	if from < 0 || from >= len(t.world.boxes) {
		return Message{}, fmt.Errorf("receive from rank %d outside world of %d", from, len(t.world.boxes))
	}
	return t.world.boxes[t.rank].get(ctx, from)
}

func (t *localTransport) Abort(err error) {
	t.world.Abort(&AbortError{Rank: t.rank, Reason: err.Error()})
}

func (t *localTransport) Close() error { return nil }

// RunLocal runs fn once per rank on a fresh LocalWorld and waits for all of
// them. The first failing rank aborts the world, which unblocks every other
// rank; the originating error is returned rather than the aborts it caused.
func RunLocal(ctx context.Context, size int, fn func(ctx context.Context, c *Comm) error) error {
	world, err := NewLocalWorld(size)
	if err != nil {
		return err
	}

	var (
		mu    sync.Mutex
		cause error
	)

	g, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < size; rank++ {
		g.Go(func() error {
			c := New(world.Transport(rank))
			if err := fn(gctx, c); err != nil {
				err = fmt.Errorf("rank %d: %w", rank, err)
				var abort *AbortError
				if !errors.As(err, &abort) && !errors.Is(err, context.Canceled) {
					mu.Lock()
					if cause == nil {
						cause = err
					}
					mu.Unlock()
				}
				c.Abort(err)
				return err
			}
			return nil
		})
	}

	err = g.Wait()
	if cause != nil {
		return cause
	}
	return err
}
