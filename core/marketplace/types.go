package marketplace

import (
	"fmt"
	"time"
)

// Address identifies an actor or a custody account (engine, escrow, arbiter).
type Address string

// Role selects the identity namespace a user id is registered in.
type Role uint8

const (
	RoleCustomer Role = iota
	RoleContractor
)

func (r Role) String() string {
	switch r {
	case RoleCustomer:
		return "customer"
	case RoleContractor:
		return "contractor"
	default:
		return fmt.Sprintf("role(%d)", r)
	}
}

// ParseRole accepts the numeric wire form ("0"/"1") or the role name.
func ParseRole(s string) (Role, error) {
	switch s {
	case "0", "customer", "CUSTOMER":
		return RoleCustomer, nil
	case "1", "contractor", "CONTRACTOR":
		return RoleContractor, nil
	}
	return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
}

// CustomerRecord is the materialized identity of a customer.
type CustomerRecord struct {
	Address Address `json:"address"`
	Name    string  `json:"name"`
}

// ContractorRecord is the materialized identity of a contractor.
type ContractorRecord struct {
	Address                  Address `json:"address"`
	Name                     string  `json:"name"`
	Score                    uint64  `json:"score"`
	Level                    uint8   `json:"level"`
	TotalCollateralDeposited uint64  `json:"total_collateral_deposited"`
	IsAssigned               bool    `json:"is_assigned"`
}

// Identity is either a customer or a contractor record. Exactly one of
// Customer/Contractor is set, matching Role.
type Identity struct {
	UserID     string            `json:"user_id"`
	Role       Role              `json:"role"`
	Customer   *CustomerRecord   `json:"customer,omitempty"`
	Contractor *ContractorRecord `json:"contractor,omitempty"`
}

// Address returns the owner address shared by both record shapes.
func (i Identity) Address() Address {
	if i.Contractor != nil {
		return i.Contractor.Address
	}
	if i.Customer != nil {
		return i.Customer.Address
	}
	return ""
}

// Name returns the display name shared by both record shapes.
func (i Identity) Name() string {
	if i.Contractor != nil {
		return i.Contractor.Name
	}
	if i.Customer != nil {
		return i.Customer.Name
	}
	return ""
}

// PendingRegistration waits for the oracle to deliver a score.
type PendingRegistration struct {
	RequestID   string    `json:"request_id"`
	UserID      string    `json:"user_id"`
	Role        Role      `json:"role"`
	Name        string    `json:"name"`
	Caller      Address   `json:"caller"`
	RequestedAt time.Time `json:"requested_at"`
}

// Category is the kind of project work an order asks for.
type Category uint8

const (
	CategoryConstruction Category = iota
	CategoryRenovation
	CategoryInterior
	CategoryPlumbing
	CategoryElectrical
	CategoryLandscaping
)

var categoryNames = []string{"Construction", "Renovation", "Interior", "Plumbing", "Electrical", "Landscaping"}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", c)
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool { return int(c) < len(categoryNames) }

// OrderStatus follows the order lifecycle. Values match the original wire enum.
type OrderStatus uint8

const (
	OrderCreated OrderStatus = iota
	OrderConfirmed
	OrderCancelled
	OrderFinished
)

func (s OrderStatus) String() string {
	switch s {
	case OrderCreated:
		return "Created"
	case OrderConfirmed:
		return "Confirmed"
	case OrderCancelled:
		return "Cancelled"
	case OrderFinished:
		return "Finished"
	default:
		return fmt.Sprintf("status(%d)", s)
	}
}

// Order is a customer's request for project work.
type Order struct {
	ID                uint64      `json:"id"`
	CustomerID        string      `json:"customer_id"`
	CustomerAddress   Address     `json:"customer_address"`
	Title             string      `json:"title"`
	Description       string      `json:"description"`
	Category          Category    `json:"category"`
	Locality          string      `json:"locality"`
	Level             uint8       `json:"level"`
	Budget            uint64      `json:"budget"`
	ExpectedStartDate time.Time   `json:"expected_start_date"`
	Status            OrderStatus `json:"status"`
	ContractorID      string      `json:"contractor_id,omitempty"`
	ContractorAddress Address     `json:"contractor_address,omitempty"`
	EscrowAddress     Address     `json:"escrow_address,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}

// OrderInput carries the customer-supplied fields of a new order.
type OrderInput struct {
	Title             string
	Description       string
	Category          Category
	Locality          string
	Level             uint8
	Budget            uint64
	ExpectedStartDate time.Time
}

// TaskStatus numbering follows the original wire enum.
type TaskStatus uint8

const (
	TaskPending TaskStatus = iota
	TaskApproved
	TaskFinished
	TaskInitiated
	TaskRejected
)

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "Pending"
	case TaskApproved:
		return "Approved"
	case TaskFinished:
		return "Finished"
	case TaskInitiated:
		return "Initiated"
	case TaskRejected:
		return "Rejected"
	default:
		return fmt.Sprintf("task_status(%d)", s)
	}
}

// Terminal reports whether a new task may follow one in this status.
func (s TaskStatus) Terminal() bool {
	return s == TaskFinished || s == TaskRejected
}

// Task is one billable step of work inside an escrow.
type Task struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Cost        uint64     `json:"cost"`
	Status      TaskStatus `json:"status"`
	Rating      uint8      `json:"rating"`
}
