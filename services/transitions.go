package services

import (
	"context"
	"fmt"

	"builderbuddy-backend/core/marketplace"
)

// Register starts an asynchronous registration and returns the oracle
// request id.
func (s *MarketplaceService) Register(ctx context.Context, caller marketplace.Address, userID string, role marketplace.Role, name string) (string, error) {
	var id string
	err := s.run("register", caller, func() error {
		var err error
		id, err = s.Registry.Register(ctx, caller, userID, role, name)
		return err
	})
	return id, err
}

// OracleFulfill applies an oracle response. The router calls it as the
// oracle address; the HTTP API forwards manual fulfillments.
func (s *MarketplaceService) OracleFulfill(caller marketplace.Address, requestID string, rawScore uint64) error {
	return s.run("oracle_fulfill", caller, func() error {
		return s.Registry.OracleFulfill(caller, requestID, rawScore)
	})
}

// OracleAbandon clears a registration the router gave up on.
func (s *MarketplaceService) OracleAbandon(caller marketplace.Address, requestID string) error {
	return s.run("oracle_abandon", caller, func() error {
		return s.Registry.OracleAbandon(caller, requestID)
	})
}

func (s *MarketplaceService) Stake(ctx context.Context, caller marketplace.Address, contractorID string, level uint8) (marketplace.ContractorRecord, error) {
	var rec marketplace.ContractorRecord
	err := s.run("stake", caller, func() error {
		var err error
		rec, err = s.Engine.IncrementLevelAndStake(ctx, caller, contractorID, level)
		return err
	})
	return rec, err
}

func (s *MarketplaceService) Withdraw(ctx context.Context, caller marketplace.Address, contractorID string, level uint8) (marketplace.ContractorRecord, error) {
	var rec marketplace.ContractorRecord
	err := s.run("withdraw", caller, func() error {
		var err error
		rec, err = s.Engine.WithdrawStake(ctx, caller, contractorID, level)
		return err
	})
	return rec, err
}

func (s *MarketplaceService) CreateOrder(caller marketplace.Address, customerID string, in marketplace.OrderInput) (marketplace.Order, error) {
	var o marketplace.Order
	err := s.run("create_order", caller, func() error {
		var err error
		o, err = s.Engine.CreateOrder(caller, customerID, in)
		return err
	})
	return o, err
}

func (s *MarketplaceService) AssignContractor(caller marketplace.Address, customerID string, orderID uint64, contractorID string) (marketplace.Order, error) {
	var o marketplace.Order
	err := s.run("assign_contractor", caller, func() error {
		var err error
		o, err = s.Engine.AssignContractorToOrder(caller, customerID, orderID, contractorID)
		return err
	})
	return o, err
}

// ConfirmOrder deploys the escrow of orderID and returns its view.
func (s *MarketplaceService) ConfirmOrder(caller marketplace.Address, contractorID string, orderID uint64) (EscrowView, error) {
	var view EscrowView
	err := s.run("confirm_order", caller, func() error {
		esc, err := s.Engine.ConfirmUserOrder(caller, contractorID, orderID)
		if err != nil {
			return err
		}
		view = newEscrowView(esc)
		return nil
	})
	return view, err
}

func (s *MarketplaceService) CancelOrder(caller marketplace.Address, customerID string, orderID uint64) (marketplace.Order, error) {
	var o marketplace.Order
	err := s.run("cancel_order", caller, func() error {
		var err error
		o, err = s.Engine.CancelOrder(caller, customerID, orderID)
		return err
	})
	return o, err
}

// escrowOp runs fn against the escrow of orderID.
func (s *MarketplaceService) escrowOp(op string, caller marketplace.Address, orderID uint64, fn func(*marketplace.TaskEscrow) error) error {
	return s.run(op, caller, func() error {
		esc, err := s.Engine.GetTaskContract(orderID)
		if err != nil {
			return err
		}
		return fn(esc)
	})
}

func (s *MarketplaceService) AddTask(caller marketplace.Address, orderID uint64, title, description string, cost uint64) (marketplace.Task, error) {
	var task marketplace.Task
	err := s.escrowOp("add_task", caller, orderID, func(esc *marketplace.TaskEscrow) error {
		var err error
		task, err = esc.AddTask(caller, title, description, cost)
		return err
	})
	return task, err
}

func (s *MarketplaceService) ApproveTask(caller marketplace.Address, orderID uint64) (marketplace.Task, error) {
	var task marketplace.Task
	err := s.escrowOp("approve_task", caller, orderID, func(esc *marketplace.TaskEscrow) error {
		var err error
		task, err = esc.ApproveTask(caller)
		return err
	})
	return task, err
}

func (s *MarketplaceService) AvailCost(ctx context.Context, caller marketplace.Address, orderID uint64) (marketplace.Task, error) {
	var task marketplace.Task
	err := s.escrowOp("avail_cost", caller, orderID, func(esc *marketplace.TaskEscrow) error {
		var err error
		task, err = esc.AvailCost(ctx, caller)
		return err
	})
	return task, err
}

func (s *MarketplaceService) FinishTask(caller marketplace.Address, orderID uint64, rating uint8) (marketplace.Task, error) {
	var task marketplace.Task
	err := s.escrowOp("finish_task", caller, orderID, func(esc *marketplace.TaskEscrow) error {
		var err error
		task, err = esc.FinishTask(caller, rating)
		return err
	})
	return task, err
}

func (s *MarketplaceService) RejectTask(caller marketplace.Address, orderID uint64) (marketplace.Task, error) {
	var task marketplace.Task
	err := s.escrowOp("reject_task", caller, orderID, func(esc *marketplace.TaskEscrow) error {
		var err error
		task, err = esc.RejectTask(caller)
		return err
	})
	return task, err
}

// FinishWork closes the escrow and returns the aggregate rating written to
// the contractor.
func (s *MarketplaceService) FinishWork(caller marketplace.Address, orderID uint64) (uint64, error) {
	var rating uint64
	err := s.escrowOp("finish_work", caller, orderID, func(esc *marketplace.TaskEscrow) error {
		var err error
		rating, err = esc.FinishWork(caller)
		return err
	})
	return rating, err
}

func (s *MarketplaceService) Approve(ctx context.Context, caller, spender marketplace.Address, amount uint64) error {
	return s.run("token_approve", caller, func() error {
		return s.Token.Approve(ctx, caller, spender, amount)
	})
}

func (s *MarketplaceService) Transfer(ctx context.Context, caller, to marketplace.Address, amount uint64) error {
	return s.run("token_transfer", caller, func() error {
		return s.Token.Transfer(ctx, caller, to, amount)
	})
}

// Mint creates tokens; only the owner may call it.
func (s *MarketplaceService) Mint(ctx context.Context, caller, to marketplace.Address, amount uint64) error {
	return s.run("token_mint", caller, func() error {
		if caller != s.owner {
			return fmt.Errorf("mint: %w", marketplace.ErrNotOwner)
		}
		return s.Token.Mint(ctx, to, amount)
	})
}

// EscrowView is the read model of one escrow.
type EscrowView struct {
	Context             marketplace.EscrowContext `json:"context"`
	Balance             uint64                    `json:"balance"`
	Tasks               []marketplace.Task        `json:"tasks"`
	RejectedTasks       []marketplace.Task        `json:"rejected_tasks"`
	TaskCounter         int                       `json:"task_counter"`
	RejectedTaskCounter int                       `json:"rejected_task_counter"`
	TaskVersion         int                       `json:"task_version"`
	WorkFinished        bool                      `json:"work_finished"`
}

func newEscrowView(esc *marketplace.TaskEscrow) EscrowView {
	st := esc.State()
	return EscrowView{
		Context:             st.Context,
		Balance:             esc.Balance(),
		Tasks:               st.Tasks,
		RejectedTasks:       st.Rejected,
		TaskCounter:         len(st.Tasks),
		RejectedTaskCounter: len(st.Rejected),
		TaskVersion:         st.Version,
		WorkFinished:        st.WorkFinished,
	}
}

// Escrow returns the view of the escrow deployed for orderID.
func (s *MarketplaceService) Escrow(orderID uint64) (EscrowView, error) {
	esc, err := s.Engine.GetTaskContract(orderID)
	if err != nil {
		return EscrowView{}, err
	}
	return newEscrowView(esc), nil
}

// FundingQR renders a payment request that funds the escrow of orderID.
func (s *MarketplaceService) FundingQR(orderID uint64, amount uint64) ([]byte, error) {
	esc, err := s.Engine.GetTaskContract(orderID)
	if err != nil {
		return nil, err
	}
	return s.QR.GenerateFundingQR(s.Token.Address(), esc.Address(), amount)
}

// SetSubscriptionID updates the oracle subscription; owner only.
func (s *MarketplaceService) SetSubscriptionID(caller marketplace.Address, id uint64) error {
	return s.run("set_subscription", caller, func() error {
		return s.Registry.SetSubscriptionID(caller, id)
	})
}

// SetGasLimit updates the oracle callback gas limit; owner only.
func (s *MarketplaceService) SetGasLimit(caller marketplace.Address, gasLimit uint32) error {
	return s.run("set_gas_limit", caller, func() error {
		return s.Registry.SetGasLimit(caller, gasLimit)
	})
}

// SetOracleSecrets replaces the encrypted secrets reference; owner only.
func (s *MarketplaceService) SetOracleSecrets(caller marketplace.Address, secrets []byte) error {
	return s.run("set_secrets", caller, func() error {
		return s.Registry.SetSecrets(caller, secrets)
	})
}
