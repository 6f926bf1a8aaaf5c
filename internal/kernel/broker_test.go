package kernel_test

import (
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/seantiz/kernelgate/internal/kernel"
	"github.com/seantiz/kernelgate/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func collect(dst *[]model.Event) kernel.Handler {
	return func(ev model.Event) { *dst = append(*dst, ev) }
}

func TestBrokerSingleSubscriberPreservesOrder(t *testing.T) {
	b := kernel.NewBroker()
	var got []model.Event
	unsub := b.Subscribe("c1", collect(&got))
	defer unsub()

	texts := []string{"a", "b", "c"}
	for _, s := range texts {
		b.Publish("c1", model.StreamEvent{Channel: model.Stdout, Text: s})
	}

	if len(got) != len(texts) {
		t.Fatalf("got %d events, want %d", len(got), len(texts))
	}
	for i, ev := range got {
		if se := ev.(model.StreamEvent); se.Text != texts[i] {
			t.Errorf("event[%d] = %q, want %q", i, se.Text, texts[i])
		}
	}
}

func TestBrokerMultipleSubscribersInSubscriptionOrder(t *testing.T) {
	b := kernel.NewBroker()
	var order []string
	u1 := b.Subscribe("c1", func(model.Event) { order = append(order, "first") })
	defer u1()
	u2 := b.Subscribe("c1", func(model.Event) { order = append(order, "second") })
	defer u2()

	b.Publish("c1", model.ReplyEvent{Status: model.StatusOK})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("delivery order = %v, want [first second]", order)
	}
}

func TestBrokerRoutesByCellID(t *testing.T) {
	b := kernel.NewBroker()
	var got1, got2 []model.Event
	u1 := b.Subscribe("c1", collect(&got1))
	defer u1()
	u2 := b.Subscribe("c2", collect(&got2))
	defer u2()

	b.Publish("c1", model.StreamEvent{Text: "one"})

	if len(got1) != 1 {
		t.Errorf("c1 got %d events, want 1", len(got1))
	}
	if len(got2) != 0 {
		t.Errorf("c2 got %d events, want 0", len(got2))
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := kernel.NewBroker()
	var got []model.Event
	unsub := b.Subscribe("c1", collect(&got))
	unsub()
	unsub()

	if delivered := b.Publish("c1", model.StreamEvent{Text: "late"}); delivered {
		t.Error("Publish reported delivery after unsubscribe")
	}
	if len(got) != 0 {
		t.Errorf("got %d events after unsubscribe, want 0", len(got))
	}
	if n := b.Subscribers("c1"); n != 0 {
		t.Errorf("Subscribers = %d, want 0", n)
	}
}

func TestBrokerPublishToUnknownCellIsNoop(t *testing.T) {
	b := kernel.NewBroker()
	if b.Publish("nonexistent", model.ReplyEvent{}) {
		t.Error("Publish to unknown cell reported delivery")
	}
}

func TestBrokerHandlerMayUnsubscribeItself(t *testing.T) {
	b := kernel.NewBroker()
	var unsub func()
	calls := 0
	unsub = b.Subscribe("c1", func(model.Event) {
		calls++
		unsub()
	})

	b.Publish("c1", model.ReplyEvent{})
	b.Publish("c1", model.ReplyEvent{})

	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}

func TestBrokerConcurrentSubscribers(t *testing.T) {
	b := kernel.NewBroker()
	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			cellID := model.NewCellID()
			var mu sync.Mutex
			n := 0
			unsub := b.Subscribe(cellID, func(model.Event) {
				mu.Lock()
				n++
				mu.Unlock()
			})
			for range 10 {
				b.Publish(cellID, model.StreamEvent{Text: "x"})
			}
			unsub()
			mu.Lock()
			defer mu.Unlock()
			if n != 10 {
				t.Errorf("cell %s got %d events, want 10", cellID, n)
			}
		})
	}
	wg.Wait()
}
