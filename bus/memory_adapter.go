package bus

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryAdapter is an in-process Adapter, adapted from a subject trie:
// each dot-delimited subject is a path through the trie, consumers sit at
// the node they filter on, and the last message published to a subject is
// retained there for GetLast / DeliverLastPerSubject. It never fails to
// connect and acks are no-ops — it exists for tests and --dry-run CLI
// runs, not as a production transport.
type MemoryAdapter struct {
	mu        sync.Mutex
	root      *node
	connected bool
	onConnect []func()
	onDisconn []func(error)
}

type node struct {
	children map[string]*node
	consumer *memConsumer
	retained []byte
}

func ensureChild(n *node, tok string) *node {
	if n.children == nil {
		n.children = make(map[string]*node)
	}
	if n.children[tok] == nil {
		n.children[tok] = &node{}
	}
	return n.children[tok]
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{root: &node{}}
}

func (a *MemoryAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	a.connected = true
	hooks := append([]func(){}, a.onConnect...)
	a.mu.Unlock()
	for _, f := range hooks {
		f()
	}
	return nil
}

func (a *MemoryAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Disconnect simulates a connection loss: every consumer handle is
// invalidated, as spec.md §4.A requires, and on_disconnect fires.
func (a *MemoryAdapter) Disconnect(err error) {
	a.mu.Lock()
	a.connected = false
	var invalidate func(*node)
	invalidate = func(n *node) {
		if n == nil {
			return
		}
		if n.consumer != nil {
			n.consumer.invalid.Store(true)
		}
		for _, c := range n.children {
			invalidate(c)
		}
	}
	invalidate(a.root)
	hooks := append([]func(error){}, a.onDisconn...)
	a.mu.Unlock()
	for _, f := range hooks {
		f(err)
	}
}

func (a *MemoryAdapter) OnConnect(f func())       { a.mu.Lock(); a.onConnect = append(a.onConnect, f); a.mu.Unlock() }
func (a *MemoryAdapter) OnDisconnect(f func(error)) {
	a.mu.Lock()
	a.onDisconn = append(a.onDisconn, f)
	a.mu.Unlock()
}

func tokens(subject string) []string { return strings.Split(subject, ".") }

func (a *MemoryAdapter) Publish(ctx context.Context, subject string, payload []byte) error {
	a.mu.Lock()
	n := a.root
	for _, t := range tokens(subject) {
		n = ensureChild(n, t)
	}
	n.retained = payload

	var targets []*memConsumer
	a.collectMatching(a.root, tokens(subject), 0, &targets)
	a.mu.Unlock()

	for _, c := range targets {
		c.deliver(subject, payload)
	}
	return nil
}

// collectMatching walks the trie collecting consumers whose filter
// (itself a subject, possibly with a trailing ">" wildcard) matches path.
// A consumer sitting on a node only matches there if the published
// subject ends exactly at that node (NATS has no implicit prefix
// match) - a ">" consumer is the one exception, handled below.
func (a *MemoryAdapter) collectMatching(n *node, path []string, depth int, out *[]*memConsumer) {
	if n == nil {
		return
	}
	if n.consumer != nil && depth == len(path) {
		*out = append(*out, n.consumer)
	}
	if depth == len(path) {
		return
	}
	tok := path[depth]
	if n.children != nil {
		if child := n.children[tok]; child != nil {
			a.collectMatching(child, path, depth+1, out)
		}
		if star := n.children["*"]; star != nil {
			a.collectMatching(star, path, depth+1, out)
		}
		if gt := n.children[">"]; gt != nil && gt.consumer != nil {
			*out = append(*out, gt.consumer)
		}
	}
}

func (a *MemoryAdapter) collectRetained(n *node, path []string, depth int, out *[][]byte) {
	if n == nil {
		return
	}
	if depth == len(path) {
		if n.retained != nil {
			*out = append(*out, n.retained)
		}
		return
	}
	tok := path[depth]
	switch tok {
	case ">":
		a.collectAllRetained(n, out)
	case "*":
		for _, child := range n.children {
			a.collectRetained(child, path, depth+1, out)
		}
	default:
		if child := n.children[tok]; child != nil {
			a.collectRetained(child, path, depth+1, out)
		}
	}
}

func (a *MemoryAdapter) collectAllRetained(n *node, out *[][]byte) {
	if n == nil {
		return
	}
	if n.retained != nil {
		*out = append(*out, n.retained)
	}
	for _, c := range n.children {
		a.collectAllRetained(c, out)
	}
}

type memConsumer struct {
	subject string
	policy  DeliverPolicy
	h       Handler
	invalid atomic.Bool
}

func (c *memConsumer) Subject() string { return c.subject }

func (c *memConsumer) deliver(subject string, payload []byte) {
	if c.invalid.Load() {
		return
	}
	msg := &Msg{Subject: subject, Data: payload, ack: func(AckKind) error { return nil }}
	c.h(msg)
}

func (a *MemoryAdapter) CreateConsumer(ctx context.Context, stream, filterSubject string, policy DeliverPolicy, ackWait time.Duration, h Handler) (ConsumerHandle, error) {
	a.mu.Lock()
	n := a.root
	for _, t := range tokens(filterSubject) {
		n = ensureChild(n, t)
	}
	c := &memConsumer{subject: filterSubject, policy: policy, h: h}
	n.consumer = c

	var retained [][]byte
	if policy == DeliverLastPerSubject {
		a.collectRetained(a.root, tokens(filterSubject), 0, &retained)
	}
	a.mu.Unlock()

	for _, payload := range retained {
		c.deliver(filterSubject, payload)
	}
	return c, nil
}

func (a *MemoryAdapter) DeleteConsumer(h ConsumerHandle) error {
	c, ok := h.(*memConsumer)
	if !ok {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.root
	for _, t := range tokens(c.subject) {
		if n.children == nil {
			return nil
		}
		n = n.children[t]
		if n == nil {
			return nil
		}
	}
	if n.consumer == c {
		n.consumer = nil
	}
	return nil
}

func (a *MemoryAdapter) GetLast(ctx context.Context, stream, filterSubject string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.root
	for _, t := range tokens(filterSubject) {
		if n.children == nil {
			return nil, ErrNotFound
		}
		n = n.children[t]
		if n == nil {
			return nil, ErrNotFound
		}
	}
	if n.retained == nil {
		return nil, ErrNotFound
	}
	return n.retained, nil
}
