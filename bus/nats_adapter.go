package bus

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSAdapter implements Adapter over a real JetStream connection. Connect
// supervision (backoff, reconnect) is grounded on the bridge-link
// supervision shape in the teacher codebase, adapted from a UART link to
// a NATS connection.
type NATSAdapter struct {
	url  string
	opts []nats.Option

	mu        sync.Mutex
	nc        *nats.Conn
	js        nats.JetStreamContext
	onConnect []func()
	onDisconn []func(error)
}

// NewNATSAdapter builds an adapter for the given server URL. name is used
// as the connection name (visible in `nats server report connections`).
func NewNATSAdapter(url, name string, token string) *NATSAdapter {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	return &NATSAdapter{url: url, opts: opts}
}

func (a *NATSAdapter) OnConnect(f func())        { a.mu.Lock(); a.onConnect = append(a.onConnect, f); a.mu.Unlock() }
func (a *NATSAdapter) OnDisconnect(f func(error)) { a.mu.Lock(); a.onDisconn = append(a.onDisconn, f); a.mu.Unlock() }

// Connect dials with capped exponential backoff until ctx is done, per
// spec.md §5's 30s link-connect cap (the caller enforces the cap via ctx).
func (a *NATSAdapter) Connect(ctx context.Context) error {
	backoff := newBackoff(250*time.Millisecond, 5*time.Second)

	opts := append([]nats.Option{}, a.opts...)
	opts = append(opts,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			a.mu.Lock()
			hooks := append([]func(error){}, a.onDisconn...)
			a.mu.Unlock()
			for _, f := range hooks {
				f(err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			a.mu.Lock()
			hooks := append([]func(){}, a.onConnect...)
			a.mu.Unlock()
			for _, f := range hooks {
				f()
			}
		}),
	)

	for {
		nc, err := nats.Connect(a.url, opts...)
		if err == nil {
			js, jerr := nc.JetStream()
			if jerr != nil {
				nc.Close()
				err = jerr
			} else {
				a.mu.Lock()
				a.nc = nc
				a.js = js
				hooks := append([]func(){}, a.onConnect...)
				a.mu.Unlock()
				for _, f := range hooks {
					f()
				}
				return nil
			}
		}

		d := backoff()
		if !sleepCtx(ctx, d) {
			return ctx.Err()
		}
	}
}

func (a *NATSAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nc != nil && a.nc.IsConnected()
}

func (a *NATSAdapter) Publish(ctx context.Context, subject string, payload []byte) error {
	a.mu.Lock()
	nc := a.nc
	a.mu.Unlock()
	if nc == nil {
		return nats.ErrConnectionClosed
	}
	return nc.Publish(subject, payload)
}

type natsConsumerHandle struct {
	subject string
	sub     *nats.Subscription
}

func (h *natsConsumerHandle) Subject() string { return h.subject }

func (a *NATSAdapter) CreateConsumer(ctx context.Context, stream, filterSubject string, policy DeliverPolicy, ackWait time.Duration, h Handler) (ConsumerHandle, error) {
	a.mu.Lock()
	js := a.js
	a.mu.Unlock()
	if js == nil {
		return nil, nats.ErrConnectionClosed
	}

	subOpts := []nats.SubOpt{
		nats.BindStream(stream),
		nats.AckExplicit(),
		nats.AckWait(ackWait),
		nats.ManualAck(),
	}
	switch policy {
	case DeliverLastPerSubject:
		subOpts = append(subOpts, nats.DeliverLastPerSubject())
	default:
		subOpts = append(subOpts, nats.DeliverNew())
	}

	sub, err := js.Subscribe(filterSubject, func(m *nats.Msg) {
		h(&Msg{
			Subject: m.Subject,
			Data:    m.Data,
			ack: func(k AckKind) error {
				switch k {
				case AckAck:
					return m.Ack()
				case AckNak:
					return m.Nak()
				default:
					return m.Term()
				}
			},
		})
	}, subOpts...)
	if err != nil {
		return nil, err
	}
	return &natsConsumerHandle{subject: filterSubject, sub: sub}, nil
}

func (a *NATSAdapter) DeleteConsumer(h ConsumerHandle) error {
	nh, ok := h.(*natsConsumerHandle)
	if !ok || nh.sub == nil {
		return nil
	}
	return nh.sub.Unsubscribe()
}

func (a *NATSAdapter) GetLast(ctx context.Context, stream, filterSubject string) ([]byte, error) {
	a.mu.Lock()
	js := a.js
	a.mu.Unlock()
	if js == nil {
		return nil, nats.ErrConnectionClosed
	}
	msg, err := js.GetLastMsg(stream, filterSubject)
	if err != nil {
		if err == nats.ErrMsgNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return msg.Data, nil
}

// newBackoff returns a capped exponential backoff generator, grounded on
// the teacher's services/bridge/bridge.go backoffSeq.
func newBackoff(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	cur := min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
