package marketplace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

const (
	testOwner  Address = "0xowner"
	testOracle Address = "0xoracle"
	alice      Address = "0xalice"
	bob        Address = "0xbob"
	carol      Address = "0xcarol"
)

// stubOracle hands out sequential request ids and remembers the requests.
type stubOracle struct {
	mu   sync.Mutex
	next int
	reqs map[string]ScoreRequest
	fail error
}

func (o *stubOracle) SubmitScoreRequest(ctx context.Context, req ScoreRequest) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return "", o.fail
	}
	o.next++
	id := fmt.Sprintf("req-%d", o.next)
	if o.reqs == nil {
		o.reqs = make(map[string]ScoreRequest)
	}
	o.reqs[id] = req
	return id, nil
}

type fixture struct {
	t        *testing.T
	now      time.Time
	bus      *EventBus
	events   []Event
	oracle   *stubOracle
	token    *MemoryToken
	registry *IdentityRegistry
	engine   *MarketplaceEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), oracle: &stubOracle{}}
	clock := func() time.Time { return f.now }
	f.bus = NewEventBus()
	f.bus.now = clock
	f.bus.RegisterSink(func(e Event) { f.events = append(f.events, e) })
	f.token = NewMemoryToken("0xusdc", "USDC", 6)
	f.registry = NewIdentityRegistry(RegistryOptions{
		Owner:         testOwner,
		OracleAddress: testOracle,
		Oracle:        f.oracle,
		Config:        DefaultRegistryConfig(),
		Events:        f.bus,
		Now:           clock,
	})
	engine, err := NewMarketplaceEngine(EngineOptions{
		Owner:    testOwner,
		Registry: f.registry,
		Token:    f.token,
		Levels:   DefaultLevelTable(6),
		Events:   f.bus,
		Now:      clock,
	})
	if err != nil {
		t.Fatalf("NewMarketplaceEngine: %v", err)
	}
	f.engine = engine
	if err := f.registry.SetMarketplace(testOwner, engine.Address()); err != nil {
		t.Fatalf("SetMarketplace: %v", err)
	}
	return f
}

// register runs the full oracle round trip for one identity.
func (f *fixture) register(caller Address, userID string, role Role, score uint64) {
	f.t.Helper()
	reqID, err := f.registry.Register(context.Background(), caller, userID, role, userID+" name")
	if err != nil {
		f.t.Fatalf("Register(%s): %v", userID, err)
	}
	if err := f.registry.OracleFulfill(testOracle, reqID, score); err != nil {
		f.t.Fatalf("OracleFulfill(%s): %v", userID, err)
	}
}

// fund mints amount to addr and approves the engine to pull it.
func (f *fixture) fund(addr Address, amount uint64) {
	f.t.Helper()
	ctx := context.Background()
	if err := f.token.Mint(ctx, addr, amount); err != nil {
		f.t.Fatalf("Mint: %v", err)
	}
	if err := f.token.Approve(ctx, addr, f.engine.Address(), amount); err != nil {
		f.t.Fatalf("Approve: %v", err)
	}
}

func (f *fixture) stake(caller Address, userID string, level uint8) {
	f.t.Helper()
	if _, err := f.engine.IncrementLevelAndStake(context.Background(), caller, userID, level); err != nil {
		f.t.Fatalf("IncrementLevelAndStake(%s, %d): %v", userID, level, err)
	}
}

func (f *fixture) order(caller Address, customerID string, level uint8) Order {
	f.t.Helper()
	o, err := f.engine.CreateOrder(caller, customerID, OrderInput{
		Title:             "Kitchen",
		Description:       "Replace cabinets",
		Category:          CategoryRenovation,
		Locality:          "Lisbon",
		Level:             level,
		Budget:            1_000_000,
		ExpectedStartDate: f.now.Add(72 * time.Hour),
	})
	if err != nil {
		f.t.Fatalf("CreateOrder: %v", err)
	}
	return o
}

// confirmed sets up Alice (customer) and Bob (contractor at level 1) with a
// confirmed level-1 order and returns its escrow.
func (f *fixture) confirmed() (*TaskEscrow, Order) {
	f.t.Helper()
	f.register(alice, "alice", RoleCustomer, 0)
	f.register(bob, "bob", RoleContractor, 120)
	f.fund(bob, 10_000_000)
	f.stake(bob, "bob", 1)
	o := f.order(alice, "alice", 1)
	if _, err := f.engine.AssignContractorToOrder(alice, "alice", o.ID, "bob"); err != nil {
		f.t.Fatalf("AssignContractorToOrder: %v", err)
	}
	esc, err := f.engine.ConfirmUserOrder(bob, "bob", o.ID)
	if err != nil {
		f.t.Fatalf("ConfirmUserOrder: %v", err)
	}
	return esc, o
}

func (f *fixture) eventTypes() []string {
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("Expected error %v but got %v", want, err)
	}
}
