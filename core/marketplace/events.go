package marketplace

import (
	"sync"
	"time"
)

// Event types emitted by the registry, the engine and the escrows.
const (
	EventRegistrationRequested = "RegistrationRequested"
	EventRegistered            = "Registered"
	EventOrderCreated          = "OrderCreated"
	EventContractorAssigned    = "ContractorAssigned"
	EventOrderConfirmed        = "OrderConfirmed"
	EventOrderCancelled        = "OrderCancelled"
	EventOrderFinished         = "OrderFinished"
	EventContractorStaked      = "ContractorStaked"
	EventContractorUnstaked    = "ContractorUnstaked"
	EventTaskAdded             = "TaskAdded"
	EventTaskApproved          = "TaskApproved"
	EventAmountTransferred     = "AmountTransferred"
	EventTaskFinished          = "TaskFinished"
	EventTaskRejected          = "TaskRejected"
	EventWorkFinished          = "WorkFinished"
)

// Event is an observable state change. It carries enough identifiers for an
// observer to rebuild state without reading internal storage.
type Event struct {
	Seq          uint64    `json:"seq"`
	Type         string    `json:"type"`
	Actor        Address   `json:"actor,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	Role         *Role     `json:"role,omitempty"`
	OrderID      *uint64   `json:"order_id,omitempty"`
	ContractorID string    `json:"contractor_id,omitempty"`
	TaskIndex    int       `json:"task_index,omitempty"`
	Amount       uint64    `json:"amount,omitempty"`
	Level        *uint8    `json:"level,omitempty"`
	Rating       uint64    `json:"rating,omitempty"`
	Score        uint64    `json:"score,omitempty"`
	Status       string    `json:"status,omitempty"`
	Title        string    `json:"title,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
	Address      Address   `json:"address,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func orderRef(id uint64) *uint64 { return &id }

func levelRef(l uint8) *uint8 { return &l }

func roleRef(r Role) *Role { return &r }

// EventSink receives published events.
type EventSink func(Event)

// EventBus sequences events and fans them out to sinks.
type EventBus struct {
	mu    sync.Mutex
	seq   uint64
	sinks []EventSink
	now   func() time.Time
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{now: time.Now}
}

// RegisterSink adds a callback to receive events.
func (b *EventBus) RegisterSink(sink EventSink) {
	if b == nil || sink == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, sink)
	b.mu.Unlock()
}

// Seq returns the sequence number of the last published event.
func (b *EventBus) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Resume continues numbering after seq (used when state is restored).
func (b *EventBus) Resume(seq uint64) {
	b.mu.Lock()
	if seq > b.seq {
		b.seq = seq
	}
	b.mu.Unlock()
}

// Publish stamps evt and forwards it to every sink. A nil bus discards.
func (b *EventBus) Publish(evt Event) Event {
	if b == nil {
		return evt
	}
	b.mu.Lock()
	b.seq++
	evt.Seq = b.seq
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = b.now()
	}
	sinks := append([]EventSink{}, b.sinks...)
	b.mu.Unlock()
	for _, sink := range sinks {
		sink(evt)
	}
	return evt
}
