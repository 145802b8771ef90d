package events

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type scoreChanged struct{ Score int }
type nameChanged struct{ Name string }

func TestRegistryDuplicateSubscriptionsDeliverTwice(t *testing.T) {
	r := NewRegistry()
	count := 0
	fn := func(scoreChanged) { count++ }
	Subscribe(r, fn)
	Subscribe(r, fn)

	Publish(r, scoreChanged{Score: 1})
	if count != 2 {
		t.Errorf("Expected 2 deliveries, got %d", count)
	}
}

func TestRegistryDeliversInSubscriptionOrder(t *testing.T) {
	r := NewRegistry()
	var order []string
	Subscribe(r, func(scoreChanged) { order = append(order, "first") })
	Subscribe(r, func(scoreChanged) { order = append(order, "second") })
	Subscribe(r, func(scoreChanged) { order = append(order, "third") })

	Publish(r, scoreChanged{})
	if diff := cmp.Diff([]string{"first", "second", "third"}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistryBucketsAreIndependent(t *testing.T) {
	r := NewRegistry()
	var scores []int
	var names []string
	Subscribe(r, func(e scoreChanged) { scores = append(scores, e.Score) })
	Subscribe(r, func(e nameChanged) { names = append(names, e.Name) })

	Publish(r, scoreChanged{Score: 3})
	Publish(r, nameChanged{Name: "ada"})

	if diff := cmp.Diff([]int{3}, scores); diff != "" {
		t.Errorf("scores mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"ada"}, names); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistryUnsubscribeRemovesOneEntry(t *testing.T) {
	r := NewRegistry()
	count := 0
	fn := func(scoreChanged) { count++ }
	first := Subscribe(r, fn)
	Subscribe(r, fn)

	Unsubscribe(r, first)
	Unsubscribe(r, first)
	Publish(r, scoreChanged{})

	if count != 1 {
		t.Errorf("Expected 1 delivery, got %d", count)
	}
	if got := Count[scoreChanged](r); got != 1 {
		t.Errorf("Expected 1 subscription, got %d", got)
	}
}

func TestRegistryUnsubscribeNeverSubscribedIsNoop(t *testing.T) {
	r := NewRegistry()
	other := NewRegistry()
	sub := Subscribe(other, func(nameChanged) {})

	Unsubscribe(r, nil)
	Unsubscribe(r, sub)
	Publish(r, nameChanged{})

	if got := Count[nameChanged](other); got != 1 {
		t.Errorf("Expected foreign subscription to survive, got %d", got)
	}
}

func TestRegistryMutationDuringPublishUsesSnapshot(t *testing.T) {
	r := NewRegistry()
	var order []string
	var second *Subscription

	Subscribe(r, func(scoreChanged) {
		order = append(order, "first")
		second.Cancel()
		Subscribe(r, func(scoreChanged) { order = append(order, "added") })
	})
	second = Subscribe(r, func(scoreChanged) { order = append(order, "second") })

	Publish(r, scoreChanged{})
	if diff := cmp.Diff([]string{"first", "second"}, order); diff != "" {
		t.Errorf("first publish mismatch (-want +got):\n%s", diff)
	}

	order = nil
	Publish(r, scoreChanged{})
	if diff := cmp.Diff([]string{"first", "added"}, order); diff != "" {
		t.Errorf("second publish mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistryPublishWithoutSubscribers(t *testing.T) {
	r := NewRegistry()
	Publish(r, scoreChanged{Score: 1})
	if got := Count[scoreChanged](r); got != 0 {
		t.Errorf("Expected 0 subscriptions, got %d", got)
	}
}
