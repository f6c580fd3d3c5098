package comm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig describes one rank of a world connected through a NATS server.
type NATSConfig struct {
	URL    string
	Prefix string // subject prefix, e.g. "ravenroost"
	RunID  string // isolates concurrent runs on one server
	Rank   int
	Size   int
	// HelloInterval is the retry interval of the startup handshake.
	HelloInterval time.Duration
}

// envelope is the wire form of a Message. Floats travel as IEEE-754 bit
// patterns so every rank decodes bit-identical values.
type envelope struct {
	Seq   uint64   `json:"seq"`
	Op    string   `json:"op"`
	From  int      `json:"from"`
	Bits  []uint64 `json:"bits,omitempty"`
	Ints  []int    `json:"ints,omitempty"`
	Bytes []byte   `json:"bytes,omitempty"`
	Abort string   `json:"abort,omitempty"`
}

func encodeEnvelope(m Message) ([]byte, error) {
	env := envelope{Seq: m.Seq, Op: m.Op, From: m.From, Ints: m.Ints, Bytes: m.Bytes}
	if m.Floats != nil {
		env.Bits = make([]uint64, len(m.Floats))
		for i, f := range m.Floats {
			env.Bits[i] = math.Float64bits(f)
		}
	}
	return json.Marshal(env)
}

func decodeEnvelope(data []byte) (envelope, Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	m := Message{Seq: env.Seq, Op: env.Op, From: env.From, Ints: env.Ints, Bytes: env.Bytes}
	if env.Bits != nil {
		m.Floats = make([]float64, len(env.Bits))
		for i, b := range env.Bits {
			m.Floats[i] = math.Float64frombits(b)
		}
	}
	return env, m, nil
}

// NATSTransport is a Transport whose ranks are separate processes. Each rank
// subscribes to its own subject; incoming messages are queued per sender.
type NATSTransport struct {
	cfg   NATSConfig
	nc    *nats.Conn
	sub   *nats.Subscription
	hello *nats.Subscription
	box   *mailbox

	closeOnce sync.Once
}

// DialNATS connects rank cfg.Rank and completes the startup handshake: it
// returns once rank 0 knows every rank is subscribed, so no message of the
// first collective can be lost.
func DialNATS(ctx context.Context, cfg NATSConfig) (*NATSTransport, error) {
	if cfg.Size <= 0 || cfg.Rank < 0 || cfg.Rank >= cfg.Size {
		return nil, fmt.Errorf("invalid rank %d for world of %d", cfg.Rank, cfg.Size)
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "ravenroost"
	}
	if cfg.RunID == "" {
		return nil, errors.New("run id is required to isolate the world")
	}
	if cfg.HelloInterval <= 0 {
		cfg.HelloInterval = 250 * time.Millisecond
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(fmt.Sprintf("ravenroost-%s-%d", cfg.RunID, cfg.Rank)),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	t := &NATSTransport{cfg: cfg, nc: nc, box: newMailbox(cfg.Size)}

	t.sub, err = nc.Subscribe(t.subject(cfg.Rank), t.deliver)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	if err := nc.Flush(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to flush subscription: %w", err)
	}

	if err := t.handshake(ctx); err != nil {
		t.Close()
		return nil, err
	}

	slog.Debug("NATS transport ready", "rank", cfg.Rank, "size", cfg.Size, "subject", t.subject(cfg.Rank))
	return t, nil
}

func (t *NATSTransport) subject(rank int) string {
	return fmt.Sprintf("%s.%s.rank.%d", t.cfg.Prefix, t.cfg.RunID, rank)
}

func (t *NATSTransport) helloSubject() string {
	return fmt.Sprintf("%s.%s.hello", t.cfg.Prefix, t.cfg.RunID)
}

func (t *NATSTransport) handshake(ctx context.Context) error {
	if t.cfg.Size == 1 {
		return nil
	}

	if t.cfg.Rank == Root {
		seen := make(chan int, t.cfg.Size*4)
		var err error
		t.hello, err = t.nc.Subscribe(t.helloSubject(), func(m *nats.Msg) {
			if r, err := strconv.Atoi(string(m.Data)); err == nil {
				select {
				case seen <- r:
				default:
				}
			}
			m.Respond(nil)
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to handshake: %w", err)
		}
		if err := t.nc.Flush(); err != nil {
			return fmt.Errorf("failed to flush handshake subscription: %w", err)
		}

		ready := make(map[int]bool)
		for len(ready) < t.cfg.Size-1 {
			select {
			case r := <-seen:
				if r > 0 && r < t.cfg.Size {
					ready[r] = true
				}
			case <-ctx.Done():
				return fmt.Errorf("handshake: %d of %d ranks joined: %w", len(ready)+1, t.cfg.Size, ctx.Err())
			}
		}
		return nil
	}

	payload := []byte(strconv.Itoa(t.cfg.Rank))
	for {
		_, err := t.nc.Request(t.helloSubject(), payload, t.cfg.HelloInterval)
		if err == nil {
			return nil
		}
		if !errors.Is(err, nats.ErrNoResponders) && !errors.Is(err, nats.ErrTimeout) {
			return fmt.Errorf("handshake: %w", err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("handshake: rank 0 unreachable: %w", ctx.Err())
		case <-time.After(t.cfg.HelloInterval):
		}
	}
}

func (t *NATSTransport) deliver(m *nats.Msg) {
	env, msg, err := decodeEnvelope(m.Data)
	if err != nil {
		t.box.abort(err)
		return
	}
	if env.Abort != "" {
		t.box.abort(&AbortError{Rank: env.From, Reason: env.Abort})
		return
	}
	if env.From < 0 || env.From >= t.cfg.Size {
		t.box.abort(fmt.Errorf("message from unknown rank %d", env.From))
		return
	}
	t.box.put(env.From, msg)
}

// Rank implements Transport.
func (t *NATSTransport) Rank() int { return t.cfg.Rank }

// Size implements Transport.
func (t *NATSTransport) Size() int { return t.cfg.Size }

// Send implements Transport.
func (t *NATSTransport) Send(ctx context.Context, to int, msg Message) error {
	if to < 0 || to >= t.cfg.Size {
		return fmt.Errorf("send to rank %d outside world of %d", to, t.cfg.Size)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeEnvelope(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := t.nc.Publish(t.subject(to), data); err != nil {
		return fmt.Errorf("failed to publish to rank %d: %w", to, err)
	}
	return nil
}

// Recv implements Transport.
func (t *NATSTransport) Recv(ctx context.Context, from int) (Message, error) {
	if from < 0 || from >= t.cfg.Size {
		return Message{}, fmt.Errorf("receive from rank %d outside world of %d", from, t.cfg.Size)
	}
	return t.box.get(ctx, from)
}

// Abort tells every peer to stop and unblocks the local rank.
func (t *NATSTransport) Abort(err error) {
	data, _ := json.Marshal(envelope{From: t.cfg.Rank, Abort: err.Error()})
	for r := 0; r < t.cfg.Size; r++ {
		if r == t.cfg.Rank {
			continue
		}
		if perr := t.nc.Publish(t.subject(r), data); perr != nil {
			slog.Error("Failed to publish abort", "rank", t.cfg.Rank, "peer", r, "error", perr)
		}
	}
	t.nc.Flush()
	t.box.abort(&AbortError{Rank: t.cfg.Rank, Reason: err.Error()})
}

// Close flushes pending messages and closes the connection.
func (t *NATSTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if t.hello != nil {
			t.hello.Unsubscribe()
		}
		if ferr := t.nc.Flush(); ferr != nil && !errors.Is(ferr, nats.ErrConnectionClosed) {
			err = fmt.Errorf("failed to flush on close: %w", ferr)
		}
		if t.sub != nil {
			t.sub.Unsubscribe()
		}
		t.nc.Close()
	})
	return err
}
