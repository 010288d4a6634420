package marketplace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// EngineOptions configures NewMarketplaceEngine.
type EngineOptions struct {
	Address  Address
	Owner    Address
	Registry *IdentityRegistry
	Token    Token
	Levels   LevelTable
	Events   *EventBus
	Now      func() time.Time
}

// MarketplaceEngine owns the level table, the order book and staking
// bookkeeping, and deploys one TaskEscrow per confirmed order.
type MarketplaceEngine struct {
	mu             sync.Mutex
	address        Address
	owner          Address
	registry       *IdentityRegistry
	token          Token
	levels         LevelTable
	arbiter        *Arbiter
	orders         []Order
	customerOrders map[string][]uint64
	escrows        map[uint64]*TaskEscrow
	escrowByAddr   map[Address]uint64
	events         *EventBus
	now            func() time.Time
}

// NewMarketplaceEngine creates the engine and its arbiter. The owner still
// has to bind the engine with IdentityRegistry.SetMarketplace.
func NewMarketplaceEngine(opts EngineOptions) (*MarketplaceEngine, error) {
	if opts.Registry == nil || opts.Token == nil {
		return nil, fmt.Errorf("marketplace engine needs a registry and a token")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	addr := opts.Address
	if addr == "" {
		addr = DeriveAddress(opts.Owner, "marketplace")
	}
	return &MarketplaceEngine{
		address:        addr,
		owner:          opts.Owner,
		registry:       opts.Registry,
		token:          opts.Token,
		levels:         opts.Levels,
		arbiter:        NewArbiter(addr),
		customerOrders: make(map[string][]uint64),
		escrows:        make(map[uint64]*TaskEscrow),
		escrowByAddr:   make(map[Address]uint64),
		events:         opts.Events,
		now:            now,
	}, nil
}

func (e *MarketplaceEngine) Address() Address { return e.address }

func (e *MarketplaceEngine) LevelTable() LevelTable { return e.levels }

func (e *MarketplaceEngine) GetArbiterContract() Address { return e.arbiter.Address() }

func (e *MarketplaceEngine) GetTokenAddress() Address { return e.token.Address() }

func (e *MarketplaceEngine) GetUserRegistrationContract() Address { return e.registry.Address() }

// GetRequiredCollateral looks up the stake for level; level 0 needs none.
func (e *MarketplaceEngine) GetRequiredCollateral(level uint8) (uint64, error) {
	return e.levels.RequiredCollateral(level)
}

func (e *MarketplaceEngine) GetScore(level uint8) (uint64, error) {
	return e.levels.Score(level)
}

func (e *MarketplaceEngine) GetMaxEligibleLevelByScore(score uint64) uint8 {
	return e.levels.MaxEligibleLevelByScore(score)
}

// IncrementLevelAndStake raises the contractor to targetLevel, pulling the
// missing collateral from the contractor's approved allowance.
func (e *MarketplaceEngine) IncrementLevelAndStake(ctx context.Context, caller Address, userID string, targetLevel uint8) (ContractorRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkBound(); err != nil {
		return ContractorRecord{}, err
	}

	c, err := e.registry.GetContractorInfo(userID)
	if err != nil {
		return ContractorRecord{}, err
	}
	if caller != c.Address {
		return ContractorRecord{}, fmt.Errorf("%w: %s for %s", ErrInvalidContractor, caller, userID)
	}
	if targetLevel < 1 || targetLevel > MaxLevel || targetLevel <= c.Level {
		return ContractorRecord{}, fmt.Errorf("%w: target %d from level %d", ErrInvalidLevel, targetLevel, c.Level)
	}
	if c.IsAssigned {
		return ContractorRecord{}, fmt.Errorf("%w: %s is working on an order", ErrContractorAlreadySet, userID)
	}
	if eligible := e.levels.MaxEligibleLevelByScore(c.Score); targetLevel > eligible {
		return ContractorRecord{}, fmt.Errorf("%w: score %d allows level %d, asked %d", ErrContractorIneligible, c.Score, eligible, targetLevel)
	}
	required, err := e.levels.RequiredCollateral(targetLevel)
	if err != nil {
		return ContractorRecord{}, err
	}
	var delta uint64
	if required > c.TotalCollateralDeposited {
		delta = required - c.TotalCollateralDeposited
	}
	if delta > 0 {
		if err := e.token.TransferFrom(ctx, e.address, c.Address, e.address, delta); err != nil {
			return ContractorRecord{}, fmt.Errorf("stake %d for %s: %w", delta, userID, err)
		}
	}
	deposited := c.TotalCollateralDeposited + delta
	if err := e.registry.SetCollateralState(e.address, userID, deposited, targetLevel); err != nil {
		if delta > 0 {
			if rerr := e.token.Transfer(context.WithoutCancel(ctx), e.address, c.Address, delta); rerr != nil {
				return ContractorRecord{}, fmt.Errorf("record stake for %s: %v (refund failed: %w)", userID, err, rerr)
			}
		}
		return ContractorRecord{}, fmt.Errorf("record stake for %s: %w", userID, err)
	}
	c.TotalCollateralDeposited = deposited
	c.Level = targetLevel
	e.events.Publish(Event{
		Type:         EventContractorStaked,
		Actor:        caller,
		ContractorID: userID,
		UserID:       userID,
		Amount:       delta,
		Level:        levelRef(targetLevel),
		Address:      c.Address,
	})
	return c, nil
}

// WithdrawStake lowers the contractor to newLevel and returns the surplus
// collateral. newLevel 0 withdraws everything.
func (e *MarketplaceEngine) WithdrawStake(ctx context.Context, caller Address, userID string, newLevel uint8) (ContractorRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkBound(); err != nil {
		return ContractorRecord{}, err
	}

	c, err := e.registry.GetContractorInfo(userID)
	if err != nil {
		return ContractorRecord{}, err
	}
	if caller != c.Address {
		return ContractorRecord{}, fmt.Errorf("%w: %s for %s", ErrInvalidContractor, caller, userID)
	}
	if c.IsAssigned {
		return ContractorRecord{}, fmt.Errorf("%w: %s is working on an order", ErrContractorAlreadySet, userID)
	}
	if newLevel >= c.Level {
		return ContractorRecord{}, fmt.Errorf("%w: withdraw to level %d from level %d", ErrInvalidLevel, newLevel, c.Level)
	}
	required, err := e.levels.RequiredCollateral(newLevel)
	if err != nil {
		return ContractorRecord{}, err
	}
	var surplus uint64
	if c.TotalCollateralDeposited > required {
		surplus = c.TotalCollateralDeposited - required
	}
	if surplus > 0 {
		if err := e.token.Transfer(ctx, e.address, c.Address, surplus); err != nil {
			return ContractorRecord{}, fmt.Errorf("unstake %d for %s: %w", surplus, userID, err)
		}
	}
	if err := e.registry.SetCollateralState(e.address, userID, c.TotalCollateralDeposited-surplus, newLevel); err != nil {
		return ContractorRecord{}, fmt.Errorf("record unstake for %s after paying %d: %w", userID, surplus, err)
	}
	c.TotalCollateralDeposited -= surplus
	c.Level = newLevel
	e.events.Publish(Event{
		Type:         EventContractorUnstaked,
		Actor:        caller,
		ContractorID: userID,
		UserID:       userID,
		Amount:       surplus,
		Level:        levelRef(newLevel),
		Address:      c.Address,
	})
	return c, nil
}

// checkBound fails until the owner has bound this engine to the registry,
// so registry writes after a token transfer cannot be refused.
func (e *MarketplaceEngine) checkBound() error {
	if e.registry.Marketplace() != e.address {
		return fmt.Errorf("%w: engine %s is not bound to the registry", ErrNotMarketplace, e.address)
	}
	return nil
}

func (e *MarketplaceEngine) checkCustomer(caller Address, customerID string) (CustomerRecord, error) {
	cust, err := e.registry.GetCustomerInfo(customerID)
	if err != nil || cust.Address != caller {
		return CustomerRecord{}, fmt.Errorf("%w: %s for %s", ErrInvalidCustomer, caller, customerID)
	}
	return cust, nil
}

// CreateOrder appends a new order in Created state.
func (e *MarketplaceEngine) CreateOrder(caller Address, customerID string, in OrderInput) (Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cust, err := e.checkCustomer(caller, customerID)
	if err != nil {
		return Order{}, err
	}
	if in.Level < 1 || in.Level > MaxLevel {
		return Order{}, fmt.Errorf("%w: %d", ErrInvalidLevel, in.Level)
	}
	if !in.Category.Valid() {
		return Order{}, fmt.Errorf("%w: %d", ErrInvalidCategory, in.Category)
	}
	now := e.now()
	if !in.ExpectedStartDate.After(now) {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderCantHavePastDate, in.ExpectedStartDate.Format(time.RFC3339))
	}

	order := Order{
		ID:                uint64(len(e.orders)),
		CustomerID:        customerID,
		CustomerAddress:   cust.Address,
		Title:             in.Title,
		Description:       in.Description,
		Category:          in.Category,
		Locality:          in.Locality,
		Level:             in.Level,
		Budget:            in.Budget,
		ExpectedStartDate: in.ExpectedStartDate,
		Status:            OrderCreated,
		CreatedAt:         now,
	}
	e.orders = append(e.orders, order)
	e.customerOrders[customerID] = append(e.customerOrders[customerID], order.ID)
	e.events.Publish(Event{
		Type:    EventOrderCreated,
		Actor:   caller,
		UserID:  customerID,
		OrderID: orderRef(order.ID),
		Level:   levelRef(order.Level),
		Amount:  order.Budget,
		Title:   order.Title,
		Status:  order.Status.String(),
	})
	return order, nil
}

// AssignContractorToOrder records a tentative contractor on an open order.
func (e *MarketplaceEngine) AssignContractorToOrder(caller Address, customerID string, orderID uint64, contractorID string) (Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.checkCustomer(caller, customerID); err != nil {
		return Order{}, err
	}
	if orderID >= uint64(len(e.orders)) {
		return Order{}, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	order := e.orders[orderID]
	if order.CustomerID != customerID {
		return Order{}, fmt.Errorf("%w: order %d belongs to another customer", ErrInvalidCustomer, orderID)
	}
	if order.ContractorID != "" {
		return Order{}, fmt.Errorf("%w: order %d already has %s", ErrContractorAlreadySet, orderID, order.ContractorID)
	}
	if order.Status != OrderCreated {
		return Order{}, fmt.Errorf("%w: order %d is %s", ErrOrderNotOpen, orderID, order.Status)
	}
	c, err := e.registry.GetContractorInfo(contractorID)
	if err != nil {
		return Order{}, err
	}
	if c.TotalCollateralDeposited == 0 {
		return Order{}, fmt.Errorf("%w: %s", ErrContractorHasNotStaked, contractorID)
	}
	if c.IsAssigned {
		return Order{}, fmt.Errorf("%w: %s is working on another order", ErrContractorAlreadySet, contractorID)
	}
	if order.Level > c.Level {
		return Order{}, fmt.Errorf("%w: order level %d above contractor level %d", ErrContractorIneligible, order.Level, c.Level)
	}

	order.ContractorID = contractorID
	order.ContractorAddress = c.Address
	e.orders[orderID] = order
	e.events.Publish(Event{
		Type:         EventContractorAssigned,
		Actor:        caller,
		UserID:       customerID,
		OrderID:      orderRef(orderID),
		ContractorID: contractorID,
		Address:      c.Address,
		Status:       order.Status.String(),
	})
	return order, nil
}

// ConfirmUserOrder deploys the escrow for the order and locks the contractor.
func (e *MarketplaceEngine) ConfirmUserOrder(caller Address, contractorID string, orderID uint64) (*TaskEscrow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if orderID >= uint64(len(e.orders)) {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	order := e.orders[orderID]
	c, err := e.registry.GetContractorInfo(contractorID)
	if err != nil || c.Address != caller {
		return nil, fmt.Errorf("%w: %s for %s", ErrInvalidContractor, caller, contractorID)
	}
	if order.ContractorID != contractorID {
		return nil, fmt.Errorf("%w: order %d is not assigned to %s", ErrInvalidContractor, orderID, contractorID)
	}
	if order.Status != OrderCreated {
		return nil, fmt.Errorf("%w: order %d is %s", ErrContractorAlreadySet, orderID, order.Status)
	}
	if c.IsAssigned {
		return nil, fmt.Errorf("%w: %s is working on another order", ErrContractorAlreadySet, contractorID)
	}

	escrow := newTaskEscrow(EscrowContext{
		OrderID:             orderID,
		ClientID:            order.CustomerID,
		ContractorID:        contractorID,
		ClientAddress:       order.CustomerAddress,
		ContractorAddress:   c.Address,
		Level:               c.Level,
		CollateralDeposited: c.TotalCollateralDeposited,
		TokenAddress:        e.token.Address(),
		MarketplaceAddress:  e.address,
		ArbiterAddress:      e.arbiter.Address(),
		EscrowAddress:       DeriveAddress(e.address, fmt.Sprintf("escrow/%d", orderID)),
	}, e, e.registry, e.token, e.events)

	if err := e.registry.SetAssigned(e.address, contractorID, true); err != nil {
		return nil, fmt.Errorf("lock contractor %s: %w", contractorID, err)
	}
	if err := e.registry.AuthorizeEscrow(e.address, escrow.Address(), contractorID); err != nil {
		return nil, e.unlockAfter(fmt.Errorf("authorize escrow for order %d: %w", orderID, err), contractorID)
	}

	order.Status = OrderConfirmed
	order.EscrowAddress = escrow.Address()
	e.orders[orderID] = order
	e.escrows[orderID] = escrow
	e.escrowByAddr[escrow.Address()] = orderID
	e.events.Publish(Event{
		Type:         EventOrderConfirmed,
		Actor:        caller,
		UserID:       order.CustomerID,
		OrderID:      orderRef(orderID),
		ContractorID: contractorID,
		Address:      escrow.Address(),
		Amount:       c.TotalCollateralDeposited,
		Level:        levelRef(c.Level),
		Status:       order.Status.String(),
	})
	return escrow, nil
}

// CancelOrder withdraws an order that has not been confirmed yet.
// unlockAfter releases the contractor lock taken by a failed confirmation.
// A failed release is joined to err.
func (e *MarketplaceEngine) unlockAfter(err error, contractorID string) error {
	if uerr := e.registry.SetAssigned(e.address, contractorID, false); uerr != nil {
		return errors.Join(err, fmt.Errorf("unlock contractor %s: %w", contractorID, uerr))
	}
	return err
}

func (e *MarketplaceEngine) CancelOrder(caller Address, customerID string, orderID uint64) (Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.checkCustomer(caller, customerID); err != nil {
		return Order{}, err
	}
	if !e.ownsOrderLocked(customerID, orderID) {
		return Order{}, fmt.Errorf("%w: %d for customer %s", ErrOrderNotFound, orderID, customerID)
	}
	order := e.orders[orderID]
	if order.Status != OrderCreated {
		return Order{}, fmt.Errorf("%w: order %d is %s", ErrOrderCantBeCancelled, orderID, order.Status)
	}
	order.Status = OrderCancelled
	order.ContractorID = ""
	order.ContractorAddress = ""
	e.orders[orderID] = order
	e.events.Publish(Event{
		Type:    EventOrderCancelled,
		Actor:   caller,
		UserID:  customerID,
		OrderID: orderRef(orderID),
		Status:  order.Status.String(),
	})
	return order, nil
}

func (e *MarketplaceEngine) ownsOrderLocked(customerID string, orderID uint64) bool {
	if orderID >= uint64(len(e.orders)) {
		return false
	}
	for _, id := range e.customerOrders[customerID] {
		if id == orderID {
			return true
		}
	}
	return false
}

// OnOrderFinished is called by the order's escrow when work is finished.
func (e *MarketplaceEngine) OnOrderFinished(caller Address, orderID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if orderID >= uint64(len(e.orders)) {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	escrow, ok := e.escrows[orderID]
	if !ok || caller != escrow.Address() {
		return fmt.Errorf("%w: %s for order %d", ErrNotTaskContract, caller, orderID)
	}
	order := e.orders[orderID]
	if order.Status != OrderConfirmed {
		return fmt.Errorf("%w: order %d is %s", ErrContractNotActive, orderID, order.Status)
	}
	order.Status = OrderFinished
	e.orders[orderID] = order
	e.events.Publish(Event{
		Type:         EventOrderFinished,
		Actor:        caller,
		UserID:       order.CustomerID,
		OrderID:      orderRef(orderID),
		ContractorID: order.ContractorID,
		Address:      caller,
		Status:       order.Status.String(),
	})
	return nil
}

func (e *MarketplaceEngine) GetOrder(orderID uint64) (Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if orderID >= uint64(len(e.orders)) {
		return Order{}, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	return e.orders[orderID], nil
}

// GetAllCustomerOrders returns the customer's orders in creation order.
func (e *MarketplaceEngine) GetAllCustomerOrders(customerID string) []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := e.customerOrders[customerID]
	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.orders[id])
	}
	return out
}

// ListOrders returns orders filtered by status; nil status lists all.
func (e *MarketplaceEngine) ListOrders(status *OrderStatus) []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Order, 0, len(e.orders))
	for _, o := range e.orders {
		if status != nil && o.Status != *status {
			continue
		}
		out = append(out, o)
	}
	return out
}

func (e *MarketplaceEngine) GetOrderCounter() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return uint64(len(e.orders))
}

// GetTaskContract returns the escrow deployed for orderID.
func (e *MarketplaceEngine) GetTaskContract(orderID uint64) (*TaskEscrow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	escrow, ok := e.escrows[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: no escrow for order %d", ErrOrderNotFound, orderID)
	}
	return escrow, nil
}

func (e *MarketplaceEngine) GetEscrowByAddress(addr Address) (*TaskEscrow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.escrowByAddr[addr]
	if !ok {
		return nil, fmt.Errorf("%w: no escrow at %s", ErrOrderNotFound, addr)
	}
	return e.escrows[id], nil
}

// EngineState is the serializable content of a MarketplaceEngine.
type EngineState struct {
	Orders         []Order             `json:"orders"`
	CustomerOrders map[string][]uint64 `json:"customer_orders"`
	Escrows        []EscrowState       `json:"escrows"`
}

// State copies the engine and its escrows. Escrows are read after the engine
// lock is released, so callers wanting a consistent cut must stop writers.
func (e *MarketplaceEngine) State() EngineState {
	e.mu.Lock()
	st := EngineState{
		Orders:         append([]Order(nil), e.orders...),
		CustomerOrders: make(map[string][]uint64, len(e.customerOrders)),
	}
	for k, v := range e.customerOrders {
		st.CustomerOrders[k] = append([]uint64(nil), v...)
	}
	escrows := make([]*TaskEscrow, 0, len(e.escrows))
	for _, esc := range e.escrows {
		escrows = append(escrows, esc)
	}
	e.mu.Unlock()

	sort.Slice(escrows, func(i, j int) bool { return escrows[i].ctx.OrderID < escrows[j].ctx.OrderID })
	for _, esc := range escrows {
		st.Escrows = append(st.Escrows, esc.State())
	}
	return st
}

// Restore replaces orders and escrows with st.
func (e *MarketplaceEngine) Restore(st EngineState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orders = append([]Order(nil), st.Orders...)
	e.customerOrders = make(map[string][]uint64, len(st.CustomerOrders))
	for k, v := range st.CustomerOrders {
		e.customerOrders[k] = append([]uint64(nil), v...)
	}
	e.escrows = make(map[uint64]*TaskEscrow, len(st.Escrows))
	e.escrowByAddr = make(map[Address]uint64, len(st.Escrows))
	for _, es := range st.Escrows {
		escrow := newTaskEscrow(es.Context, e, e.registry, e.token, e.events)
		escrow.restore(es)
		e.escrows[es.Context.OrderID] = escrow
		e.escrowByAddr[escrow.Address()] = es.Context.OrderID
	}
}
