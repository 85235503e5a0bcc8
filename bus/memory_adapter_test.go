package bus

import (
	"context"
	"testing"
	"time"
)

func TestMemoryAdapter_PublishDeliversToConsumer(t *testing.T) {
	a := NewMemoryAdapter()
	_ = a.Connect(context.Background())

	got := make(chan string, 1)
	_, err := a.CreateConsumer(context.Background(), StreamStatus, "status.relay.hallway", DeliverNew, time.Second, func(m *Msg) {
		got <- string(m.Data)
		_ = m.Ack()
	})
	if err != nil {
		t.Fatalf("CreateConsumer: %v", err)
	}

	if err := a.Publish(context.Background(), "status.relay.hallway", []byte("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case v := <-got:
		if v != "hello" {
			t.Fatalf("got %q, want %q", v, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for delivery")
	}
}

func TestMemoryAdapter_DeliverLastPerSubjectReplaysRetained(t *testing.T) {
	a := NewMemoryAdapter()
	_ = a.Connect(context.Background())

	if err := a.Publish(context.Background(), "settings.relay.hallway", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := make(chan string, 1)
	_, err := a.CreateConsumer(context.Background(), StreamSettings, "settings.relay.hallway", DeliverLastPerSubject, time.Second, func(m *Msg) {
		got <- string(m.Data)
	})
	if err != nil {
		t.Fatalf("CreateConsumer: %v", err)
	}

	select {
	case v := <-got:
		if v != `{"v":1}` {
			t.Fatalf("got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for retained replay")
	}
}

func TestMemoryAdapter_GetLastNotFound(t *testing.T) {
	a := NewMemoryAdapter()
	if _, err := a.GetLast(context.Background(), StreamStatus, "status.relay.nope"); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestMemoryAdapter_WildcardSingleLevel(t *testing.T) {
	a := NewMemoryAdapter()
	_ = a.Connect(context.Background())

	got := make(chan string, 4)
	_, err := a.CreateConsumer(context.Background(), StreamCommands, "cmd.trigger.*", DeliverNew, time.Second, func(m *Msg) {
		got <- m.Subject
	})
	if err != nil {
		t.Fatalf("CreateConsumer: %v", err)
	}

	_ = a.Publish(context.Background(), "cmd.trigger.room", []byte("x"))
	_ = a.Publish(context.Background(), "cmd.trigger.hall", []byte("y"))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case s := <-got:
			seen[s] = true
		case <-time.After(time.Second):
			t.Fatal("timeout")
		}
	}
	if !seen["cmd.trigger.room"] || !seen["cmd.trigger.hall"] {
		t.Fatalf("missing deliveries: %v", seen)
	}
}

func TestMemoryAdapter_DisconnectInvalidatesConsumers(t *testing.T) {
	a := NewMemoryAdapter()
	_ = a.Connect(context.Background())

	var disconnected bool
	a.OnDisconnect(func(error) { disconnected = true })

	got := make(chan string, 1)
	_, err := a.CreateConsumer(context.Background(), StreamStatus, "status.relay.hallway", DeliverNew, time.Second, func(m *Msg) {
		got <- string(m.Data)
	})
	if err != nil {
		t.Fatalf("CreateConsumer: %v", err)
	}

	a.Disconnect(nil)
	if !disconnected {
		t.Fatal("expected on_disconnect to fire")
	}
	if a.IsConnected() {
		t.Fatal("expected IsConnected() == false after Disconnect")
	}

	_ = a.Publish(context.Background(), "status.relay.hallway", []byte("late"))
	select {
	case <-got:
		t.Fatal("expected no delivery to invalidated consumer")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryAdapter_DeleteConsumerStopsDelivery(t *testing.T) {
	a := NewMemoryAdapter()
	_ = a.Connect(context.Background())

	got := make(chan string, 1)
	h, err := a.CreateConsumer(context.Background(), StreamStatus, "status.relay.hallway", DeliverNew, time.Second, func(m *Msg) {
		got <- string(m.Data)
	})
	if err != nil {
		t.Fatalf("CreateConsumer: %v", err)
	}
	if err := a.DeleteConsumer(h); err != nil {
		t.Fatalf("DeleteConsumer: %v", err)
	}

	_ = a.Publish(context.Background(), "status.relay.hallway", []byte("gone"))
	select {
	case <-got:
		t.Fatal("expected no delivery after DeleteConsumer")
	case <-time.After(50 * time.Millisecond):
	}
}
