package marketplace

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// RegistryConfig is the owner-managed oracle subscription configuration.
type RegistryConfig struct {
	ScorerID       string `json:"scorer_id"`
	MinScore       string `json:"min_score"`
	SubscriptionID uint64 `json:"subscription_id"`
	GasLimit       uint32 `json:"gas_limit"`
	DonID          string `json:"don_id"`
	HasSecrets     bool   `json:"has_secrets"`
}

// DefaultRegistryConfig matches the deployed scorer settings.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		ScorerID: "5919",
		MinScore: "1",
		GasLimit: 300000,
		DonID:    "fun-polygon-mumbai-1",
	}
}

// RegistryOptions configures NewIdentityRegistry.
type RegistryOptions struct {
	Address Address
	Owner   Address
	// OracleAddress is the only caller accepted by OracleFulfill.
	OracleAddress Address
	Oracle        ReputationOracle
	Config        RegistryConfig
	Events        *EventBus
	Now           func() time.Time
}

// IdentityRegistry owns customer and contractor identities.
type IdentityRegistry struct {
	mu            sync.Mutex
	address       Address
	owner         Address
	oracleAddress Address
	oracle        ReputationOracle
	marketplace   Address
	escrows       map[Address]string // escrow address -> contractor id it may rate
	customers     map[string]CustomerRecord
	contractors   map[string]ContractorRecord
	pending       map[string]PendingRegistration
	pendingByUser map[string]string // role/user -> request id
	secrets       []byte
	cfg           RegistryConfig
	events        *EventBus
	now           func() time.Time
}

// NewIdentityRegistry builds an empty registry.
func NewIdentityRegistry(opts RegistryOptions) *IdentityRegistry {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	addr := opts.Address
	if addr == "" {
		addr = DeriveAddress(opts.Owner, "registry")
	}
	return &IdentityRegistry{
		address:       addr,
		owner:         opts.Owner,
		oracleAddress: opts.OracleAddress,
		oracle:        opts.Oracle,
		escrows:       make(map[Address]string),
		customers:     make(map[string]CustomerRecord),
		contractors:   make(map[string]ContractorRecord),
		pending:       make(map[string]PendingRegistration),
		pendingByUser: make(map[string]string),
		cfg:           opts.Config,
		events:        opts.Events,
		now:           now,
	}
}

func userKey(role Role, userID string) string {
	return fmt.Sprintf("%d/%s", role, userID)
}

func (r *IdentityRegistry) Address() Address { return r.address }

// Owner is the administrative address.
func (r *IdentityRegistry) Owner() Address { return r.owner }

// OracleAddress is the address allowed to fulfill score requests.
func (r *IdentityRegistry) OracleAddress() Address { return r.oracleAddress }

// Register submits a score request for userID and parks the registration
// until the oracle answers. No record exists when Register returns.
func (r *IdentityRegistry) Register(ctx context.Context, caller Address, userID string, role Role, name string) (string, error) {
	userID = strings.TrimSpace(userID)
	name = strings.TrimSpace(name)
	if caller == "" || userID == "" || name == "" {
		return "", fmt.Errorf("%w: caller, user id and name are required", ErrInvalidInput)
	}
	if role != RoleCustomer && role != RoleContractor {
		return "", fmt.Errorf("%w: role %d", ErrInvalidInput, role)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.oracle == nil {
		return "", fmt.Errorf("register %s: no oracle configured", userID)
	}
	if r.existsLocked(role, userID) {
		return "", fmt.Errorf("%w: %s %s", ErrUserAlreadyRegistered, role, userID)
	}
	if _, ok := r.pendingByUser[userKey(role, userID)]; ok {
		return "", fmt.Errorf("%w: %s %s is awaiting its score", ErrUserAlreadyRegistered, role, userID)
	}

	requestID, err := r.oracle.SubmitScoreRequest(ctx, ScoreRequest{UserID: userID, Role: role, ScorerID: r.cfg.ScorerID})
	if err != nil {
		return "", fmt.Errorf("submit score request for %s: %w", userID, err)
	}
	if _, dup := r.pending[requestID]; dup || requestID == "" {
		return "", fmt.Errorf("oracle returned unusable request id %q", requestID)
	}
	r.pending[requestID] = PendingRegistration{
		RequestID:   requestID,
		UserID:      userID,
		Role:        role,
		Name:        name,
		Caller:      caller,
		RequestedAt: r.now(),
	}
	r.pendingByUser[userKey(role, userID)] = requestID
	r.events.Publish(Event{
		Type:      EventRegistrationRequested,
		Actor:     caller,
		UserID:    userID,
		Role:      roleRef(role),
		RequestID: requestID,
		Address:   caller,
	})
	return requestID, nil
}

func (r *IdentityRegistry) existsLocked(role Role, userID string) bool {
	if role == RoleCustomer {
		_, ok := r.customers[userID]
		return ok
	}
	_, ok := r.contractors[userID]
	return ok
}

// OracleFulfill materializes the parked registration for requestID.
func (r *IdentityRegistry) OracleFulfill(caller Address, requestID string, rawScore uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller == "" || caller != r.oracleAddress {
		return fmt.Errorf("%w: %s", ErrNotOracle, caller)
	}
	p, ok := r.pending[requestID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	switch p.Role {
	case RoleCustomer:
		r.customers[p.UserID] = CustomerRecord{Address: p.Caller, Name: p.Name}
	case RoleContractor:
		r.contractors[p.UserID] = ContractorRecord{Address: p.Caller, Name: p.Name, Score: rawScore}
	}
	delete(r.pending, requestID)
	delete(r.pendingByUser, userKey(p.Role, p.UserID))
	r.events.Publish(Event{
		Type:      EventRegistered,
		Actor:     caller,
		UserID:    p.UserID,
		Role:      roleRef(p.Role),
		RequestID: requestID,
		Address:   p.Caller,
		Score:     rawScore,
	})
	return nil
}

// OracleAbandon drops a pending registration the oracle could not score.
// No record is created; the user may call Register again.
func (r *IdentityRegistry) OracleAbandon(caller Address, requestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller == "" || caller != r.oracleAddress {
		return fmt.Errorf("%w: %s", ErrNotOracle, caller)
	}
	p, ok := r.pending[requestID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	delete(r.pending, requestID)
	delete(r.pendingByUser, userKey(p.Role, p.UserID))
	return nil
}

func (r *IdentityRegistry) GetCustomerInfo(userID string) (CustomerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.customers[userID]
	if !ok {
		return CustomerRecord{}, fmt.Errorf("%w: %s", ErrCustomerNotFound, userID)
	}
	return c, nil
}

func (r *IdentityRegistry) GetContractorInfo(userID string) (ContractorRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contractors[userID]
	if !ok {
		return ContractorRecord{}, fmt.Errorf("%w: %s", ErrContractorNotFound, userID)
	}
	return c, nil
}

// GetIdentity returns the record for userID in the role namespace.
func (r *IdentityRegistry) GetIdentity(role Role, userID string) (Identity, error) {
	switch role {
	case RoleCustomer:
		c, err := r.GetCustomerInfo(userID)
		if err != nil {
			return Identity{}, err
		}
		return Identity{UserID: userID, Role: role, Customer: &c}, nil
	case RoleContractor:
		c, err := r.GetContractorInfo(userID)
		if err != nil {
			return Identity{}, err
		}
		return Identity{UserID: userID, Role: role, Contractor: &c}, nil
	}
	return Identity{}, fmt.Errorf("%w: role %d", ErrInvalidInput, role)
}

func (r *IdentityRegistry) GetPendingRegistration(requestID string) (PendingRegistration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[requestID]
	if !ok {
		return PendingRegistration{}, fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	return p, nil
}

// PendingCount reports registrations still waiting for the oracle.
func (r *IdentityRegistry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *IdentityRegistry) GetCustomerAddress(userID string) (Address, error) {
	c, err := r.GetCustomerInfo(userID)
	return c.Address, err
}

func (r *IdentityRegistry) GetContractorAddress(userID string) (Address, error) {
	c, err := r.GetContractorInfo(userID)
	return c.Address, err
}

func (r *IdentityRegistry) GetCollateralDeposited(userID string) (uint64, error) {
	c, err := r.GetContractorInfo(userID)
	return c.TotalCollateralDeposited, err
}

// TotalCollateral sums the deposits of every contractor.
func (r *IdentityRegistry) TotalCollateral() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total uint64
	for _, c := range r.contractors {
		total += c.TotalCollateralDeposited
	}
	return total
}

// ApplyRatingDelta overwrites the contractor's score with ratingScaled and
// releases the assignment lock. Callers: the marketplace, or an escrow the
// marketplace authorized for this contractor.
func (r *IdentityRegistry) ApplyRatingDelta(caller Address, userID string, ratingScaled uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkRaterLocked(caller, userID); err != nil {
		return err
	}
	c, ok := r.contractors[userID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrContractorNotFound, userID)
	}
	c.Score = ratingScaled
	c.IsAssigned = false
	r.contractors[userID] = c
	return nil
}

// restoreRating undoes ApplyRatingDelta when the rest of a finishing
// transition fails.
func (r *IdentityRegistry) restoreRating(caller Address, userID string, prev ContractorRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkRaterLocked(caller, userID); err != nil {
		return err
	}
	c, ok := r.contractors[userID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrContractorNotFound, userID)
	}
	c.Score = prev.Score
	c.IsAssigned = prev.IsAssigned
	r.contractors[userID] = c
	return nil
}

func (r *IdentityRegistry) checkRaterLocked(caller Address, userID string) error {
	if caller != "" && caller == r.marketplace {
		return nil
	}
	if bound, ok := r.escrows[caller]; ok && bound == userID {
		return nil
	}
	return fmt.Errorf("%w: %s may not rate %s", ErrNotMarketplace, caller, userID)
}

// SetCollateralState records a stake change made by the marketplace.
func (r *IdentityRegistry) SetCollateralState(caller Address, userID string, deposited uint64, level uint8) error {
	if level > MaxLevel {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, level)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkMarketplaceLocked(caller); err != nil {
		return err
	}
	c, ok := r.contractors[userID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrContractorNotFound, userID)
	}
	c.TotalCollateralDeposited = deposited
	c.Level = level
	r.contractors[userID] = c
	return nil
}

// SetAssigned flips the contractor's assignment lock.
func (r *IdentityRegistry) SetAssigned(caller Address, userID string, assigned bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkMarketplaceLocked(caller); err != nil {
		return err
	}
	c, ok := r.contractors[userID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrContractorNotFound, userID)
	}
	c.IsAssigned = assigned
	r.contractors[userID] = c
	return nil
}

// AuthorizeEscrow lets escrow call ApplyRatingDelta for contractorID.
func (r *IdentityRegistry) AuthorizeEscrow(caller, escrow Address, contractorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkMarketplaceLocked(caller); err != nil {
		return err
	}
	if escrow == "" {
		return fmt.Errorf("%w: empty escrow address", ErrInvalidInput)
	}
	r.escrows[escrow] = contractorID
	return nil
}

func (r *IdentityRegistry) checkMarketplaceLocked(caller Address) error {
	if r.marketplace == "" || caller != r.marketplace {
		return fmt.Errorf("%w: %s", ErrNotMarketplace, caller)
	}
	return nil
}

func (r *IdentityRegistry) checkOwnerLocked(caller Address) error {
	if caller == "" || caller != r.owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller)
	}
	return nil
}

// SetMarketplace binds the engine to the registry. It can only happen once.
func (r *IdentityRegistry) SetMarketplace(caller, marketplace Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOwnerLocked(caller); err != nil {
		return err
	}
	if r.marketplace != "" {
		return fmt.Errorf("%w: bound to %s", ErrMarketplaceAlreadySet, r.marketplace)
	}
	if marketplace == "" {
		return fmt.Errorf("%w: empty marketplace address", ErrInvalidInput)
	}
	r.marketplace = marketplace
	return nil
}

// Marketplace returns the bound engine address, empty until SetMarketplace.
func (r *IdentityRegistry) Marketplace() Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.marketplace
}

func (r *IdentityRegistry) SetSubscriptionID(caller Address, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOwnerLocked(caller); err != nil {
		return err
	}
	r.cfg.SubscriptionID = id
	return nil
}

// SetSecrets stores the encrypted oracle secrets reference.
func (r *IdentityRegistry) SetSecrets(caller Address, secrets []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOwnerLocked(caller); err != nil {
		return err
	}
	r.secrets = append([]byte(nil), secrets...)
	r.cfg.HasSecrets = len(secrets) > 0
	return nil
}

func (r *IdentityRegistry) SetGasLimit(caller Address, gasLimit uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOwnerLocked(caller); err != nil {
		return err
	}
	if gasLimit == 0 {
		return fmt.Errorf("%w: gas limit must be positive", ErrInvalidInput)
	}
	r.cfg.GasLimit = gasLimit
	return nil
}

// Config returns the current oracle configuration. Secrets are never exposed.
func (r *IdentityRegistry) Config() RegistryConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// RegistryState is the serializable content of an IdentityRegistry.
type RegistryState struct {
	Marketplace Address                        `json:"marketplace"`
	Escrows     map[Address]string             `json:"escrows"`
	Customers   map[string]CustomerRecord      `json:"customers"`
	Contractors map[string]ContractorRecord    `json:"contractors"`
	Pending     map[string]PendingRegistration `json:"pending"`
	Secrets     []byte                         `json:"secrets,omitempty"`
	Config      RegistryConfig                 `json:"config"`
}

// State copies the registry for snapshotting.
func (r *IdentityRegistry) State() RegistryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := RegistryState{
		Marketplace: r.marketplace,
		Escrows:     make(map[Address]string, len(r.escrows)),
		Customers:   make(map[string]CustomerRecord, len(r.customers)),
		Contractors: make(map[string]ContractorRecord, len(r.contractors)),
		Pending:     make(map[string]PendingRegistration, len(r.pending)),
		Secrets:     append([]byte(nil), r.secrets...),
		Config:      r.cfg,
	}
	for k, v := range r.escrows {
		st.Escrows[k] = v
	}
	for k, v := range r.customers {
		st.Customers[k] = v
	}
	for k, v := range r.contractors {
		st.Contractors[k] = v
	}
	for k, v := range r.pending {
		st.Pending[k] = v
	}
	return st
}

// Restore replaces the registry contents with st.
func (r *IdentityRegistry) Restore(st RegistryState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marketplace = st.Marketplace
	r.escrows = make(map[Address]string, len(st.Escrows))
	for k, v := range st.Escrows {
		r.escrows[k] = v
	}
	r.customers = make(map[string]CustomerRecord, len(st.Customers))
	for k, v := range st.Customers {
		r.customers[k] = v
	}
	r.contractors = make(map[string]ContractorRecord, len(st.Contractors))
	for k, v := range st.Contractors {
		r.contractors[k] = v
	}
	r.pending = make(map[string]PendingRegistration, len(st.Pending))
	r.pendingByUser = make(map[string]string, len(st.Pending))
	for k, v := range st.Pending {
		r.pending[k] = v
		r.pendingByUser[userKey(v.Role, v.UserID)] = k
	}
	r.secrets = append([]byte(nil), st.Secrets...)
	r.cfg = st.Config
}

// PendingRequests lists parked registrations, oldest first.
func (r *IdentityRegistry) PendingRequests() []PendingRegistration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PendingRegistration, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}
