package marketplace

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// MaxRating is the highest per-task rating a client may give.
const MaxRating = 10

// EscrowContext is the immutable order context an escrow is deployed with.
type EscrowContext struct {
	OrderID             uint64  `json:"order_id"`
	ClientID            string  `json:"client_id"`
	ContractorID        string  `json:"contractor_id"`
	ClientAddress       Address `json:"client_address"`
	ContractorAddress   Address `json:"contractor_address"`
	Level               uint8   `json:"level"`
	CollateralDeposited uint64  `json:"collateral_deposited"`
	TokenAddress        Address `json:"token_address"`
	MarketplaceAddress  Address `json:"marketplace_address"`
	ArbiterAddress      Address `json:"arbiter_address"`
	EscrowAddress       Address `json:"escrow_address"`
}

// TaskEscrow holds the funds of one order and runs its task workflow:
// Initiated -> Approved -> Pending -> Finished, or Initiated -> Rejected.
type TaskEscrow struct {
	mu           sync.Mutex
	ctx          EscrowContext
	engine       *MarketplaceEngine
	registry     *IdentityRegistry
	token        Token
	events       *EventBus
	tasks        []Task
	rejected     []Task
	// lastRejected stays readable at slot len(tasks)+1 until AddTask reuses it.
	lastRejected *Task
	version      int
	workFinished bool
}

func newTaskEscrow(ctx EscrowContext, engine *MarketplaceEngine, registry *IdentityRegistry, token Token, events *EventBus) *TaskEscrow {
	return &TaskEscrow{
		ctx:      ctx,
		engine:   engine,
		registry: registry,
		token:    token,
		events:   events,
	}
}

func (t *TaskEscrow) Address() Address { return t.ctx.EscrowAddress }

// Context returns the order context the escrow was deployed with.
func (t *TaskEscrow) Context() EscrowContext { return t.ctx }

// Balance is the token balance held by the escrow.
func (t *TaskEscrow) Balance() uint64 { return t.token.BalanceOf(t.ctx.EscrowAddress) }

func (t *TaskEscrow) publish(evt Event) {
	evt.OrderID = orderRef(t.ctx.OrderID)
	evt.Address = t.ctx.EscrowAddress
	evt.ContractorID = t.ctx.ContractorID
	t.events.Publish(evt)
}

func (t *TaskEscrow) checkClientLocked(caller Address) error {
	if caller != t.ctx.ClientAddress {
		return fmt.Errorf("%w: %s on order %d", ErrNotClient, caller, t.ctx.OrderID)
	}
	if t.workFinished {
		return fmt.Errorf("%w: order %d", ErrContractNotActive, t.ctx.OrderID)
	}
	return nil
}

func (t *TaskEscrow) checkContractorLocked(caller Address) error {
	if caller != t.ctx.ContractorAddress {
		return fmt.Errorf("%w: %s on order %d", ErrNotContractor, caller, t.ctx.OrderID)
	}
	if t.workFinished {
		return fmt.Errorf("%w: order %d", ErrContractNotActive, t.ctx.OrderID)
	}
	return nil
}

// latestLocked returns the live task slot or ErrNoTasksYet.
func (t *TaskEscrow) latestLocked() (*Task, int, error) {
	if len(t.tasks) == 0 {
		return nil, 0, fmt.Errorf("%w: order %d", ErrNoTasksYet, t.ctx.OrderID)
	}
	i := len(t.tasks) - 1
	return &t.tasks[i], i + 1, nil
}

// AddTask opens a new task slot. The cost may not exceed 80% of the
// contractor's collateral.
func (t *TaskEscrow) AddTask(caller Address, title, description string, cost uint64) (Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkContractorLocked(caller); err != nil {
		return Task{}, err
	}
	if n := len(t.tasks); n > 0 && t.tasks[n-1].Status != TaskFinished {
		return Task{}, fmt.Errorf("%w: task %d is %s", ErrPreviousTaskNotFinished, n, t.tasks[n-1].Status)
	}
	if cost > math.MaxUint64/10 || cost*10 > t.ctx.CollateralDeposited*8 {
		return Task{}, fmt.Errorf("%w: cost %d, collateral %d", ErrCostGreaterThanCollateral, cost, t.ctx.CollateralDeposited)
	}
	task := Task{Title: title, Description: description, Cost: cost, Status: TaskInitiated}
	t.tasks = append(t.tasks, task)
	t.lastRejected = nil
	t.version++
	t.publish(Event{
		Type:      EventTaskAdded,
		Actor:     caller,
		TaskIndex: len(t.tasks),
		Title:     title,
		Amount:    cost,
		Status:    task.Status.String(),
	})
	return task, nil
}

// ApproveTask accepts the live task once the escrow holds enough to pay it.
func (t *TaskEscrow) ApproveTask(caller Address) (Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkClientLocked(caller); err != nil {
		return Task{}, err
	}
	task, idx, err := t.latestLocked()
	if err != nil {
		return Task{}, err
	}
	if task.Status != TaskInitiated {
		return Task{}, fmt.Errorf("%w: task %d is %s", ErrNotInitiated, idx, task.Status)
	}
	if bal := t.token.BalanceOf(t.ctx.EscrowAddress); bal < task.Cost {
		return Task{}, fmt.Errorf("%w: escrow holds %d, task costs %d", ErrInsufficientFundsForTask, bal, task.Cost)
	}
	task.Status = TaskApproved
	t.publish(Event{
		Type:      EventTaskApproved,
		Actor:     caller,
		TaskIndex: idx,
		Title:     task.Title,
		Status:    task.Status.String(),
	})
	return *task, nil
}

// AvailCost releases the approved task's cost to the contractor.
func (t *TaskEscrow) AvailCost(ctx context.Context, caller Address) (Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkContractorLocked(caller); err != nil {
		return Task{}, err
	}
	task, idx, err := t.latestLocked()
	if err != nil {
		return Task{}, err
	}
	if task.Status != TaskApproved {
		return Task{}, fmt.Errorf("%w: task %d is %s", ErrNotApproved, idx, task.Status)
	}
	if err := t.token.Transfer(ctx, t.ctx.EscrowAddress, t.ctx.ContractorAddress, task.Cost); err != nil {
		return Task{}, fmt.Errorf("release task %d cost: %w", idx, err)
	}
	task.Status = TaskPending
	t.publish(Event{
		Type:      EventAmountTransferred,
		Actor:     caller,
		TaskIndex: idx,
		Amount:    task.Cost,
		Status:    task.Status.String(),
	})
	return *task, nil
}

// FinishTask closes the paid task with a rating between 0 and MaxRating.
func (t *TaskEscrow) FinishTask(caller Address, rating uint8) (Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkClientLocked(caller); err != nil {
		return Task{}, err
	}
	task, idx, err := t.latestLocked()
	if err != nil {
		return Task{}, err
	}
	if task.Status != TaskPending {
		return Task{}, fmt.Errorf("%w: task %d is %s", ErrNotPending, idx, task.Status)
	}
	if rating > MaxRating {
		return Task{}, fmt.Errorf("%w: %d", ErrRatingNotInRange, rating)
	}
	task.Rating = rating
	task.Status = TaskFinished
	t.version = 0
	t.publish(Event{
		Type:      EventTaskFinished,
		Actor:     caller,
		TaskIndex: idx,
		Title:     task.Title,
		Rating:    uint64(rating),
		Status:    task.Status.String(),
	})
	return *task, nil
}

// RejectTask moves the initiated task to the rejected history and frees
// its slot for the next AddTask.
func (t *TaskEscrow) RejectTask(caller Address) (Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkClientLocked(caller); err != nil {
		return Task{}, err
	}
	task, idx, err := t.latestLocked()
	if err != nil {
		return Task{}, err
	}
	if task.Status != TaskInitiated {
		return Task{}, fmt.Errorf("%w: task %d is %s", ErrNotInitiated, idx, task.Status)
	}
	rejected := *task
	rejected.Status = TaskRejected
	t.rejected = append(t.rejected, rejected)
	t.tasks = t.tasks[:len(t.tasks)-1]
	t.lastRejected = &rejected
	t.publish(Event{
		Type:      EventTaskRejected,
		Actor:     caller,
		TaskIndex: idx,
		Title:     rejected.Title,
		Status:    rejected.Status.String(),
	})
	return rejected, nil
}

// AggregateRating is Σ ratings × 100 / n with integer division.
func AggregateRating(ratings []uint8) uint64 {
	if len(ratings) == 0 {
		return 0
	}
	var sum uint64
	for _, r := range ratings {
		sum += uint64(r)
	}
	return sum * 100 / uint64(len(ratings))
}

// FinishWork ends the order: the aggregate rating is written to the
// contractor, who is unlocked, and the order is marked finished.
func (t *TaskEscrow) FinishWork(caller Address) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkClientLocked(caller); err != nil {
		return 0, err
	}
	n := len(t.tasks)
	if n == 0 || t.tasks[n-1].Status != TaskFinished {
		return 0, fmt.Errorf("%w: order %d has no finished latest task", ErrPreviousTaskNotFinished, t.ctx.OrderID)
	}
	ratings := make([]uint8, 0, n)
	for _, task := range t.tasks {
		ratings = append(ratings, task.Rating)
	}
	aggregate := AggregateRating(ratings)

	t.workFinished = true
	prev, err := t.registry.GetContractorInfo(t.ctx.ContractorID)
	if err != nil {
		t.workFinished = false
		return 0, err
	}
	if err := t.registry.ApplyRatingDelta(t.ctx.EscrowAddress, t.ctx.ContractorID, aggregate); err != nil {
		t.workFinished = false
		return 0, fmt.Errorf("rate contractor %s: %w", t.ctx.ContractorID, err)
	}
	if err := t.engine.OnOrderFinished(t.ctx.EscrowAddress, t.ctx.OrderID); err != nil {
		t.workFinished = false
		if rerr := t.registry.restoreRating(t.ctx.EscrowAddress, t.ctx.ContractorID, prev); rerr != nil {
			return 0, fmt.Errorf("finish order %d: %v (restore rating: %w)", t.ctx.OrderID, err, rerr)
		}
		return 0, fmt.Errorf("finish order %d: %w", t.ctx.OrderID, err)
	}
	t.publish(Event{
		Type:   EventWorkFinished,
		Actor:  caller,
		UserID: t.ctx.ClientID,
		Rating: aggregate,
		Status: OrderFinished.String(),
	})
	return aggregate, nil
}

// GetTask returns task i (1-indexed). The slot freed by a reject still
// reads as the rejected task.
func (t *TaskEscrow) GetTask(i int) (Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastRejected != nil && i == len(t.tasks)+1 {
		return *t.lastRejected, nil
	}
	if i < 1 || i > len(t.tasks) {
		return Task{}, fmt.Errorf("%w: %d", ErrTaskNotFound, i)
	}
	return t.tasks[i-1], nil
}

func (t *TaskEscrow) GetAllTasks() []Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Task(nil), t.tasks...)
}

func (t *TaskEscrow) GetAllRejectedTasks() []Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Task(nil), t.rejected...)
}

func (t *TaskEscrow) GetTaskCounter() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}

func (t *TaskEscrow) GetRejectedTaskCounter() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rejected)
}

// GetTaskVersionCounter counts attempts on the current slot.
func (t *TaskEscrow) GetTaskVersionCounter() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

func (t *TaskEscrow) GetTaskRating(i int) (uint8, error) {
	task, err := t.GetTask(i)
	return task.Rating, err
}

func (t *TaskEscrow) IsWorkFinished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.workFinished
}

// EscrowState is the serializable content of a TaskEscrow.
type EscrowState struct {
	Context      EscrowContext `json:"context"`
	Tasks        []Task        `json:"tasks"`
	Rejected     []Task        `json:"rejected"`
	LastRejected *Task         `json:"last_rejected,omitempty"`
	Version      int           `json:"version"`
	WorkFinished bool          `json:"work_finished"`
}

// State copies the escrow for snapshots and API views.
func (t *TaskEscrow) State() EscrowState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return EscrowState{
		Context:      t.ctx,
		Tasks:        append([]Task(nil), t.tasks...),
		Rejected:     append([]Task(nil), t.rejected...),
		LastRejected: copyTask(t.lastRejected),
		Version:      t.version,
		WorkFinished: t.workFinished,
	}
}

func (t *TaskEscrow) restore(st EscrowState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks = append([]Task(nil), st.Tasks...)
	t.rejected = append([]Task(nil), st.Rejected...)
	t.lastRejected = copyTask(st.LastRejected)
	t.version = st.Version
	t.workFinished = st.WorkFinished
}

func copyTask(task *Task) *Task {
	if task == nil {
		return nil
	}
	c := *task
	return &c
}
