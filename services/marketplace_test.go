package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"builderbuddy-backend/config"
	"builderbuddy-backend/core/marketplace"
	"builderbuddy-backend/metrics"
	"builderbuddy-backend/oracle"
	mpstore "builderbuddy-backend/storage/marketplace"
)

const (
	alice marketplace.Address = "0xalice"
	bob   marketplace.Address = "0xbob"
)

func newTestService(t *testing.T, store mpstore.Store) *MarketplaceService {
	t.Helper()
	cfg := config.Default()
	cfg.SnapshotEvery = 0
	provider := oracle.NewMockScoreProvider(0, map[string]uint64{"bob": 120})
	svc, err := NewMarketplaceService(context.Background(), Options{
		Config:   cfg,
		Store:    store,
		Metrics:  metrics.New(),
		Provider: provider,
	})
	if err != nil {
		t.Fatalf("NewMarketplaceService: %v", err)
	}
	return svc
}

func mustRegister(t *testing.T, svc *MarketplaceService, caller marketplace.Address, id string, role marketplace.Role) {
	t.Helper()
	if _, err := svc.Register(context.Background(), caller, id, role, strings.ToUpper(id)); err != nil {
		t.Fatalf("Register %s: %v", id, err)
	}
}

// confirmOrder runs the flow up to a confirmed order and returns its id.
func confirmOrder(t *testing.T, svc *MarketplaceService) uint64 {
	t.Helper()
	ctx := context.Background()
	mustRegister(t, svc, alice, "alice", marketplace.RoleCustomer)
	mustRegister(t, svc, bob, "bob", marketplace.RoleContractor)
	if n, err := svc.Router.FulfillPending(ctx, svc); err != nil || n != 2 {
		t.Fatalf("Expected 2 fulfilled registrations but got %d (%v)", n, err)
	}

	owner := svc.Owner()
	if err := svc.Mint(ctx, owner, bob, 10_000_000); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := svc.Approve(ctx, bob, svc.Engine.Address(), 10_000_000); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := svc.Stake(ctx, bob, "bob", 1); err != nil {
		t.Fatalf("Stake: %v", err)
	}
	order, err := svc.CreateOrder(alice, "alice", marketplace.OrderInput{
		Title:             "Kitchen",
		Category:          marketplace.CategoryRenovation,
		Level:             1,
		Budget:            1_000_000,
		ExpectedStartDate: time.Now().Add(72 * time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if _, err := svc.AssignContractor(alice, "alice", order.ID, "bob"); err != nil {
		t.Fatalf("AssignContractor: %v", err)
	}
	if _, err := svc.ConfirmOrder(bob, "bob", order.ID); err != nil {
		t.Fatalf("ConfirmOrder: %v", err)
	}
	return order.ID
}

func TestServiceHappyPath(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, mpstore.NewMemoryStore(0))
	orderID := confirmOrder(t, svc)

	view, err := svc.Escrow(orderID)
	if err != nil {
		t.Fatalf("Escrow: %v", err)
	}
	escrow := view.Context.EscrowAddress
	if err := svc.Mint(ctx, svc.Owner(), alice, 5_000_000); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := svc.Transfer(ctx, alice, escrow, 2_000_000); err != nil {
		t.Fatalf("fund escrow: %v", err)
	}

	if _, err := svc.AddTask(bob, orderID, "Demolition", "", 1_500_000); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if _, err := svc.ApproveTask(alice, orderID); err != nil {
		t.Fatalf("ApproveTask: %v", err)
	}
	before := svc.Token.BalanceOf(bob)
	if _, err := svc.AvailCost(ctx, bob, orderID); err != nil {
		t.Fatalf("AvailCost: %v", err)
	}
	if got := svc.Token.BalanceOf(bob) - before; got != 1_500_000 {
		t.Errorf("Expected bob to receive 1500000 but got %d", got)
	}
	if _, err := svc.FinishTask(alice, orderID, 10); err != nil {
		t.Fatalf("FinishTask: %v", err)
	}
	rating, err := svc.FinishWork(alice, orderID)
	if err != nil {
		t.Fatalf("FinishWork: %v", err)
	}
	if rating != 1000 {
		t.Errorf("Expected aggregate rating 1000 but got %d", rating)
	}
	rec, _ := svc.Registry.GetContractorInfo("bob")
	if rec.Score != 1000 || rec.IsAssigned {
		t.Errorf("Expected bob score 1000 and unassigned but got %+v", rec)
	}

	events, err := svc.Events(ctx, mpstore.EventFilter{OrderID: &orderID})
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) == 0 || events[len(events)-1].Type != marketplace.EventOrderFinished {
		t.Errorf("Expected journal to end with OrderFinished but got %+v", events)
	}
}

func TestServiceMintRequiresOwner(t *testing.T) {
	svc := newTestService(t, nil)
	err := svc.Mint(context.Background(), alice, alice, 1)
	if !errors.Is(err, marketplace.ErrNotOwner) {
		t.Errorf("Expected ErrNotOwner but got %v", err)
	}
}

func TestServiceSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	store := mpstore.NewMemoryStore(0)
	svc := newTestService(t, store)
	orderID := confirmOrder(t, svc)
	if _, err := svc.AddTask(bob, orderID, "Tiles", "", 1_000_000); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	// a registration still waiting for the oracle survives the restart
	mustRegister(t, svc, "0xcarol", "carol", marketplace.RoleCustomer)
	pending := svc.Registry.PendingRequests()
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending registration but got %d", len(pending))
	}
	seq := svc.Bus.Seq()
	if err := svc.Snapshot(ctx); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	restored := newTestService(t, store)
	if restored.Bus.Seq() != seq {
		t.Errorf("Expected seq %d after restore but got %d", seq, restored.Bus.Seq())
	}
	if got := restored.Engine.GetOrderCounter(); got != 1 {
		t.Errorf("Expected 1 order after restore but got %d", got)
	}
	view, err := restored.Escrow(orderID)
	if err != nil {
		t.Fatalf("Escrow after restore: %v", err)
	}
	if view.TaskCounter != 1 || view.Tasks[0].Title != "Tiles" {
		t.Errorf("Expected restored task Tiles but got %+v", view.Tasks)
	}
	if got := restored.Token.BalanceOf(restored.Engine.Address()); got != 2_000_000 {
		t.Errorf("Expected engine to hold 2000000 collateral but got %d", got)
	}
	if restored.Router.Pending() != 1 {
		t.Fatalf("Expected pending registration requeued but got %d", restored.Router.Pending())
	}
	if n, err := restored.Router.FulfillPending(ctx, restored); err != nil || n != 1 {
		t.Fatalf("Expected requeued request fulfilled but got %d (%v)", n, err)
	}
	if _, err := restored.Registry.GetCustomerInfo("carol"); err != nil {
		t.Errorf("Expected carol registered after restart but got %v", err)
	}

	// the restored escrow is still bound and can continue the workflow
	if _, err := restored.RejectTask(alice, orderID); err != nil {
		t.Errorf("RejectTask after restore: %v", err)
	}
}

func TestServiceSnapshotSkipsWhenUnchanged(t *testing.T) {
	ctx := context.Background()
	store := mpstore.NewMemoryStore(0)
	svc := newTestService(t, store)
	if err := svc.Snapshot(ctx); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if _, _, err := store.LoadSnapshot(ctx); !errors.Is(err, mpstore.ErrNoSnapshot) {
		t.Errorf("Expected no snapshot for untouched state but got %v", err)
	}
}

func TestServiceBroadcastsToHub(t *testing.T) {
	svc := newTestService(t, nil)
	ch, cancel := svc.Hub.Subscribe()
	defer cancel()
	mustRegister(t, svc, alice, "alice", marketplace.RoleCustomer)
	select {
	case evt := <-ch:
		if evt.Type != marketplace.EventRegistrationRequested {
			t.Errorf("Expected RegistrationRequested but got %s", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected an event on the hub")
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewEventHub(1)
	ch, cancel := hub.Subscribe()
	hub.Broadcast(marketplace.Event{Seq: 1})
	hub.Broadcast(marketplace.Event{Seq: 2}) // dropped, buffer full
	cancel()
	cancel()
	var got []uint64
	for evt := range ch {
		got = append(got, evt.Seq)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("Expected only event 1 but got %v", got)
	}
	if hub.Subscribers() != 0 {
		t.Errorf("Expected 0 subscribers but got %d", hub.Subscribers())
	}
}

func TestFundingQR(t *testing.T) {
	svc := newTestService(t, nil)
	orderID := confirmOrder(t, svc)
	png, err := svc.FundingQR(orderID, 1_500_000)
	if err != nil {
		t.Fatalf("FundingQR: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Errorf("Expected PNG output")
	}
	if _, err := svc.FundingQR(orderID, 0); !errors.Is(err, marketplace.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for zero amount but got %v", err)
	}
	if _, err := svc.FundingQR(99, 1); !errors.Is(err, marketplace.ErrOrderNotFound) {
		t.Errorf("Expected ErrOrderNotFound but got %v", err)
	}
	uri := FundingURI("0xusdc", "0xescrow", 5)
	if uri != "ethereum:0xusdc/transfer?address=0xescrow&uint256=5" {
		t.Errorf("Unexpected funding uri %s", uri)
	}
}

func TestServiceSnapshotsSilentChanges(t *testing.T) {
	ctx := context.Background()
	store := mpstore.NewMemoryStore(0)
	svc := newTestService(t, store)
	if err := svc.Mint(ctx, svc.Owner(), alice, 500); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := svc.SetGasLimit(svc.Owner(), 250_000); err != nil {
		t.Fatalf("SetGasLimit: %v", err)
	}
	if err := svc.SetGasLimit(alice, 1); marketplace.KindOf(err) != marketplace.KindAuthorization {
		t.Errorf("Expected authorization error but got %v", err)
	}
	if err := svc.Snapshot(ctx); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	restored := newTestService(t, store)
	if got := restored.Token.BalanceOf(alice); got != 500 {
		t.Errorf("Expected restored balance 500 but got %d", got)
	}
	if got := restored.Registry.Config().GasLimit; got != 250_000 {
		t.Errorf("Expected restored gas limit 250000 but got %d", got)
	}
}

func TestServiceManualOracle(t *testing.T) {
	cfg := config.Default()
	cfg.SnapshotEvery = 0
	cfg.Oracle.Provider = "manual"
	svc, err := NewMarketplaceService(context.Background(), Options{
		Config:  cfg,
		Store:   mpstore.NewMemoryStore(0),
		Metrics: metrics.New(),
	})
	if err != nil {
		t.Fatalf("NewMarketplaceService: %v", err)
	}
	if svc.Manual == nil {
		t.Fatalf("Expected manual oracle to be selected")
	}
	id, err := svc.Register(context.Background(), bob, "bob", marketplace.RoleContractor, "Bob")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if svc.Router.Pending() != 0 {
		t.Errorf("Expected router to stay idle but got %d pending", svc.Router.Pending())
	}
	last, ok := svc.Manual.Last()
	if !ok || last.ID != id {
		t.Fatalf("Expected request %s to be recorded but got %+v", id, last)
	}
	if err := svc.OracleFulfill(svc.Manual.Address(), id, 75); err != nil {
		t.Fatalf("OracleFulfill: %v", err)
	}
	c, err := svc.Registry.GetContractorInfo("bob")
	if err != nil || c.Score != 75 {
		t.Errorf("Expected score 75 but got %+v (%v)", c, err)
	}
}
