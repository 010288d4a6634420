package marketplace

import "context"

// ScoreRequest asks the reputation oracle for a user's score.
type ScoreRequest struct {
	UserID   string `json:"user_id"`
	Role     Role   `json:"role"`
	ScorerID string `json:"scorer_id"`
}

// ReputationOracle accepts outbound score requests. The answer arrives later
// through IdentityRegistry.OracleFulfill, called with the oracle's address.
type ReputationOracle interface {
	SubmitScoreRequest(ctx context.Context, req ScoreRequest) (string, error)
}

// Fulfiller is the inbound half of the oracle round trip.
// OracleAbandon gives up on a request so the user can register again.
type Fulfiller interface {
	OracleFulfill(caller Address, requestID string, rawScore uint64) error
	OracleAbandon(caller Address, requestID string) error
}
