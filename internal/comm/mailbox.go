package comm

import (
	"context"
	"sync"
)

// mailbox buffers incoming messages per sender. Puts never block so a slow
// receiver cannot stall the sending rank.
type mailbox struct {
	mu      sync.Mutex
	queues  [][]Message
	notify  []chan struct{}
	aborted chan struct{}
	once    sync.Once
	reason  error
}

func newMailbox(size int) *mailbox {
	mb := &mailbox{
		queues:  make([][]Message, size),
		notify:  make([]chan struct{}, size),
		aborted: make(chan struct{}),
	}
	for i := range mb.notify {
		mb.notify[i] = make(chan struct{}, 1)
	}
	return mb
}

func (mb *mailbox) put(from int, msg Message) {
	mb.mu.Lock()
	mb.queues[from] = append(mb.queues[from], msg)
	mb.mu.Unlock()

	select {
	case mb.notify[from] <- struct{}{}:
	default:
	}
}

func (mb *mailbox) get(ctx context.Context, from int) (Message, error) {
	for {
		mb.mu.Lock()
		if q := mb.queues[from]; len(q) > 0 {
			msg := q[0]
			q[0] = Message{}
			mb.queues[from] = q[1:]
			mb.mu.Unlock()
			return msg, nil
		}
		mb.mu.Unlock()

		select {
		case <-mb.notify[from]:
		case <-mb.aborted:
			return Message{}, mb.reason
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

func (mb *mailbox) abort(err error) {
	mb.once.Do(func() {
		mb.reason = err
		close(mb.aborted)
	})
}
