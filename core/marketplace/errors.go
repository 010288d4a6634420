package marketplace

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way callers need to react to it.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthorization
	KindStateConflict
	KindNotFound
	KindValidation
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindStateConflict:
		return "state_conflict"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindResource:
		return "resource"
	default:
		return "internal"
	}
}

// Error is a precondition failure raised by a marketplace transition.
// Sentinels are compared with errors.Is; call sites add context with %w.
type Error struct {
	Code    string `json:"code"`
	Kind    Kind   `json:"-"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newErr(kind Kind, code, msg string) *Error {
	return &Error{Code: code, Kind: kind, Message: msg}
}

var (
	ErrInvalidCustomer   = newErr(KindAuthorization, "InvalidCustomer", "caller is not the registered customer")
	ErrInvalidContractor = newErr(KindAuthorization, "InvalidContractor", "caller is not the registered contractor")
	ErrNotClient         = newErr(KindAuthorization, "NotClient", "caller is not the order client")
	ErrNotContractor     = newErr(KindAuthorization, "NotContractor", "caller is not the order contractor")
	ErrNotOracle         = newErr(KindAuthorization, "NotOracle", "caller is not the reputation oracle")
	ErrNotOwner          = newErr(KindAuthorization, "NotOwner", "caller is not the owner")
	ErrNotMarketplace    = newErr(KindAuthorization, "NotMarketplace", "caller is not the marketplace")
	ErrNotTaskContract   = newErr(KindAuthorization, "NotTaskContract", "caller is not the escrow of this order")

	ErrContractorAlreadySet    = newErr(KindStateConflict, "ContractorAlreadySet", "contractor already set or assigned")
	ErrOrderCantBeCancelled    = newErr(KindStateConflict, "OrderCantBeCancelled", "order is no longer in created state")
	ErrOrderNotOpen            = newErr(KindStateConflict, "OrderNotOpen", "order is not open for assignment")
	ErrNotInitiated            = newErr(KindStateConflict, "NotInitiated", "task is not initiated")
	ErrNotApproved             = newErr(KindStateConflict, "NotApproved", "task is not approved")
	ErrNotPending              = newErr(KindStateConflict, "NotPending", "task is not pending")
	ErrPreviousTaskNotFinished = newErr(KindStateConflict, "PreviousTaskNotFinished", "previous task is not finished")
	ErrContractNotActive       = newErr(KindStateConflict, "ContractNotActive", "work already finished")
	ErrUserAlreadyRegistered   = newErr(KindStateConflict, "UserAlreadyRegistered", "user id already registered or pending for this role")
	ErrMarketplaceAlreadySet   = newErr(KindStateConflict, "MarketplaceAlreadySet", "marketplace already bound")

	ErrContractorNotFound = newErr(KindNotFound, "ContractorNotFound", "contractor not registered")
	ErrCustomerNotFound   = newErr(KindNotFound, "CustomerNotFound", "customer not registered")
	ErrOrderNotFound      = newErr(KindNotFound, "OrderNotFound", "order not found")
	ErrNoTasksYet         = newErr(KindNotFound, "NoTasksYet", "no tasks added yet")
	ErrUnknownRequest     = newErr(KindNotFound, "UnknownRequest", "oracle request is not pending")
	ErrTaskNotFound       = newErr(KindNotFound, "TaskNotFound", "task not found")

	ErrInvalidLevel              = newErr(KindValidation, "InvalidLevel", "level out of range")
	ErrInvalidCategory           = newErr(KindValidation, "InvalidCategory", "unknown order category")
	ErrInvalidInput              = newErr(KindValidation, "InvalidInput", "invalid input")
	ErrOrderCantHavePastDate     = newErr(KindValidation, "OrderCantHavePastDate", "expected start date must be in the future")
	ErrRatingNotInRange          = newErr(KindValidation, "RatingNotInRange", "rating must be between 0 and 10")
	ErrCostGreaterThanCollateral = newErr(KindValidation, "CostGreaterThanCollateral", "task cost exceeds 80% of deposited collateral")
	ErrInvalidLevelTable         = newErr(KindValidation, "InvalidLevelTable", "level table must be strictly increasing")

	ErrInsufficientFundsForTask = newErr(KindResource, "InsufficientFundsForTask", "escrow balance below task cost")
	ErrContractorHasNotStaked   = newErr(KindResource, "ContractorHasNotStaked", "contractor has no collateral deposited")
	ErrContractorIneligible     = newErr(KindResource, "ContractorIneligible", "contractor level or score too low")
	ErrInsufficientBalance      = newErr(KindResource, "InsufficientBalance", "token balance too low")
	ErrInsufficientAllowance    = newErr(KindResource, "InsufficientAllowance", "token allowance too low")
)

// KindOf reports the classification of err, KindInternal when err is not a
// marketplace error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the error code of a marketplace error, or "" otherwise.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
