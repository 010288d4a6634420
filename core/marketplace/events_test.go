package marketplace

import (
	"errors"
	"fmt"
	"testing"
)

func TestEventBusSequencing(t *testing.T) {
	bus := NewEventBus()
	var got []Event
	bus.RegisterSink(func(e Event) { got = append(got, e) })

	bus.Publish(Event{Type: EventOrderCreated})
	bus.Resume(10)
	last := bus.Publish(Event{Type: EventOrderCancelled})

	if len(got) != 2 {
		t.Fatalf("Expected 2 events but got %d", len(got))
	}
	if got[0].Seq != 1 || last.Seq != 11 {
		t.Errorf("Expected seqs 1 and 11 but got %d and %d", got[0].Seq, last.Seq)
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be stamped")
	}
	if bus.Seq() != 11 {
		t.Errorf("Expected bus seq 11 but got %d", bus.Seq())
	}

	var nilBus *EventBus
	nilBus.Publish(Event{Type: EventOrderCreated})
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		err  error
		kind Kind
		code string
	}{
		{fmt.Errorf("assign: %w", ErrInvalidCustomer), KindAuthorization, "InvalidCustomer"},
		{fmt.Errorf("confirm: %w", ErrContractorAlreadySet), KindStateConflict, "ContractorAlreadySet"},
		{ErrOrderNotFound, KindNotFound, "OrderNotFound"},
		{fmt.Errorf("x: %w", fmt.Errorf("y: %w", ErrRatingNotInRange)), KindValidation, "RatingNotInRange"},
		{ErrContractorIneligible, KindResource, "ContractorIneligible"},
		{errors.New("plain"), KindInternal, ""},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.kind {
			t.Errorf("%v: expected kind %s but got %s", tt.err, tt.kind, got)
		}
		if got := CodeOf(tt.err); got != tt.code {
			t.Errorf("%v: expected code %q but got %q", tt.err, tt.code, got)
		}
	}
}
