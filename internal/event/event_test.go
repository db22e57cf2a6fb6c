package event

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"WalletBridge/internal/config"
	xerrors "WalletBridge/internal/errors"

	"github.com/google/uuid"
	"go.uber.org/goleak"
)

func TestNewStateChanged(t *testing.T) {
	evt, err := NewStateChanged("connected", map[string]string{"account": "0xABC"})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if _, err := uuid.Parse(evt.ID); err != nil {
		t.Fatalf("event id is not a uuid: %q", evt.ID)
	}
	if evt.Type != TypeStateChanged || evt.Reason != "connected" {
		t.Fatalf("unexpected event %+v", evt)
	}
	var payload map[string]string
	if err := json.Unmarshal(evt.Payload, &payload); err != nil || payload["account"] != "0xABC" {
		t.Fatalf("unexpected payload %s", evt.Payload)
	}

	if _, err := NewStateChanged("bad", make(chan int)); err == nil {
		t.Fatal("expected unserialisable snapshot to fail")
	}
}

func TestMemoryBusFanOut(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := NewMemoryBus(4)
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	received := make([]chan Event, 2)
	for i := range received {
		received[i] = make(chan Event, 4)
		out := received[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = bus.Subscribe(ctx, func(_ context.Context, evt Event) error {
				out <- evt
				return nil
			})
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for bus.Subscribers() != 2 {
		if time.Now().After(deadline) {
			t.Fatal("subscribers did not register")
		}
		time.Sleep(time.Millisecond)
	}

	evt, _ := NewStateChanged("disconnected", nil)
	if err := bus.Publish(context.Background(), evt); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for i, ch := range received {
		select {
		case got := <-ch:
			if got.ID != evt.ID {
				t.Fatalf("subscriber %d got %s", i, got.ID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("subscriber %d did not receive event", i)
		}
	}

	cancel()
	wg.Wait()
	if bus.Subscribers() != 0 {
		t.Fatalf("expected subscribers to be removed, got %d", bus.Subscribers())
	}
	_ = bus.Close()
	if err := bus.Publish(context.Background(), evt); !xerrors.IsCode(err, xerrors.CodeEventFailure) {
		t.Fatalf("expected closed bus to fail, got %v", err)
	}
}

func TestMemoryBusHandlerErrorEndsSubscription(t *testing.T) {
	bus := NewMemoryBus(1)
	defer bus.Close()

	boom := errors.New("boom")
	done := make(chan error, 1)
	go func() {
		done <- bus.Subscribe(context.Background(), func(context.Context, Event) error { return boom })
	}()
	for bus.Subscribers() == 0 {
		time.Sleep(time.Millisecond)
	}
	evt, _ := NewStateChanged("x", nil)
	_ = bus.Publish(context.Background(), evt)

	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end")
	}
}

func TestFactory(t *testing.T) {
	bus, err := New(context.Background(), config.EventsConfig{})
	if err != nil {
		t.Fatalf("memory bus: %v", err)
	}
	if _, ok := bus.(*MemoryBus); !ok {
		t.Fatalf("expected memory bus, got %T", bus)
	}
	if _, err := New(context.Background(), config.EventsConfig{Driver: "kafka"}); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid driver error, got %v", err)
	}
	if _, err := New(context.Background(), config.EventsConfig{Driver: "redis"}); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected missing redis address error, got %v", err)
	}
	if _, err := New(context.Background(), config.EventsConfig{Driver: "rabbitmq"}); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected missing rabbitmq url error, got %v", err)
	}
}
