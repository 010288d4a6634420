package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"builderbuddy-backend/config"
	"builderbuddy-backend/core/marketplace"
	"builderbuddy-backend/metrics"
	"builderbuddy-backend/oracle"
	mpstore "builderbuddy-backend/storage/marketplace"
)

// MarketplaceService wires the token ledger, the identity registry, the
// marketplace engine and the oracle router, and persists their state.
//
// Transitions run under tx.RLock (the aggregates serialize themselves);
// Snapshot takes tx.Lock to get a consistent cut across all of them.
type MarketplaceService struct {
	cfg      config.Config
	tx       sync.RWMutex
	Bus      *marketplace.EventBus
	Token    *marketplace.MemoryToken
	Registry *marketplace.IdentityRegistry
	Engine   *marketplace.MarketplaceEngine
	Router   *oracle.Router
	// Manual is set when the oracle provider is "manual": requests wait
	// for POST /oracle/fulfill instead of the router.
	Manual *oracle.ManualOracle
	Hub      *EventHub
	QR       *QRCodeService

	store   mpstore.Store
	metrics *metrics.Metrics
	owner   marketplace.Address

	snapMu  sync.Mutex
	lastSeq uint64
	// dirty marks changes that publish no event (token moves, oracle settings).
	dirty atomic.Bool
}

// Options configures NewMarketplaceService. Provider overrides the score
// provider selected by the config.
type Options struct {
	Config   config.Config
	Store    mpstore.Store
	Metrics  *metrics.Metrics
	Provider oracle.ScoreProvider
	Now      func() time.Time
}

// NewMarketplaceService builds the components, binds the engine to the
// registry and restores the latest snapshot from the store.
func NewMarketplaceService(ctx context.Context, opts Options) (*MarketplaceService, error) {
	cfg := opts.Config
	if opts.Store == nil {
		opts.Store = mpstore.NewMemoryStore(mpstore.DefaultMemoryEvents)
	}
	levels, err := cfg.LevelTable()
	if err != nil {
		return nil, err
	}
	provider := opts.Provider
	if provider == nil {
		provider = oracle.NewScoreProvider(cfg.Oracle.Provider, cfg.Oracle.APIBase, cfg.Oracle.APIKey, cfg.Oracle.MockScore)
	}

	s := &MarketplaceService{
		cfg:     cfg,
		Bus:     marketplace.NewEventBus(),
		Hub:     NewEventHub(DefaultHubBuffer),
		QR:      NewQRCodeService(),
		store:   opts.Store,
		metrics: opts.Metrics,
		owner:   marketplace.Address(cfg.OwnerAddress),
	}
	s.Router = oracle.NewRouter(oracle.RouterOptions{
		Address:     marketplace.Address(cfg.OracleAddress),
		Provider:    provider,
		MaxAttempts: cfg.Oracle.MaxAttempts,
		Observe:     opts.Metrics.ObserveOracleFetch,
	})
	var submitter marketplace.ReputationOracle = s.Router
	if cfg.Oracle.Provider == "manual" {
		s.Manual = oracle.NewManualOracle(s.Router.Address())
		submitter = s.Manual
	}
	s.Token = marketplace.NewMemoryToken(marketplace.Address(cfg.Token.Address), cfg.Token.Symbol, cfg.Token.Decimals)
	s.Registry = marketplace.NewIdentityRegistry(marketplace.RegistryOptions{
		Owner:         s.owner,
		OracleAddress: s.Router.Address(),
		Oracle:        submitter,
		Config:        cfg.RegistryConfig(),
		Events:        s.Bus,
		Now:           opts.Now,
	})
	s.Engine, err = marketplace.NewMarketplaceEngine(marketplace.EngineOptions{
		Owner:    s.owner,
		Registry: s.Registry,
		Token:    s.Token,
		Levels:   levels,
		Events:   s.Bus,
		Now:      opts.Now,
	})
	if err != nil {
		return nil, err
	}

	if err := s.restore(ctx); err != nil {
		return nil, err
	}
	if s.Registry.Marketplace() == "" {
		if err := s.Registry.SetMarketplace(s.owner, s.Engine.Address()); err != nil {
			return nil, fmt.Errorf("bind marketplace: %w", err)
		}
	}

	s.Bus.RegisterSink(s.sink)
	s.updateGauges()
	return s, nil
}

// restore loads the newest snapshot, if any, and requeues the registrations
// that were still waiting for the oracle.
func (s *MarketplaceService) restore(ctx context.Context) error {
	seq, data, err := s.store.LoadSnapshot(ctx)
	if errors.Is(err, mpstore.ErrNoSnapshot) {
		return s.resumeSeq(ctx, 0)
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	snap, err := mpstore.DecodeSnapshot(data)
	if err != nil {
		return fmt.Errorf("decode snapshot %d: %w", seq, err)
	}
	if snap.Token != nil {
		s.Token.Restore(*snap.Token)
	}
	s.Registry.Restore(snap.Registry)
	s.Engine.Restore(snap.Engine)
	if err := s.resumeSeq(ctx, snap.Seq); err != nil {
		return err
	}
	s.lastSeq = snap.Seq

	// manual requests wait for the operator, not the router
	if s.Manual == nil {
		for _, p := range s.Registry.PendingRequests() {
			s.Router.Enqueue(p.RequestID, marketplace.ScoreRequest{
				UserID:   p.UserID,
				Role:     p.Role,
				ScorerID: s.Registry.Config().ScorerID,
			})
		}
	}
	log.Printf("marketplace: restored snapshot seq=%d orders=%d pending=%d",
		snap.Seq, s.Engine.GetOrderCounter(), s.Registry.PendingCount())
	return nil
}

// resumeSeq continues numbering after both the snapshot and the journal so
// new events never collide with stored ones.
func (s *MarketplaceService) resumeSeq(ctx context.Context, snapSeq uint64) error {
	last, err := s.store.ListEvents(ctx, mpstore.EventFilter{Limit: 1})
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	seq := snapSeq
	if len(last) == 1 && last[0].Seq > seq {
		seq = last[0].Seq
	}
	s.Bus.Resume(seq)
	return nil
}

// sink journals, counts and broadcasts every event. It runs while the
// publishing aggregate holds its lock and must not call back into the core.
func (s *MarketplaceService) sink(evt marketplace.Event) {
	if err := s.store.AppendEvent(context.Background(), evt); err != nil {
		log.Printf("marketplace: journal event %d (%s): %v", evt.Seq, evt.Type, err)
	}
	s.metrics.ObserveEvent(evt)
	s.Hub.Broadcast(evt)
}

// Start launches the oracle worker and the periodic snapshot loop.
func (s *MarketplaceService) Start(ctx context.Context) {
	if s.Manual == nil {
		s.Router.Start(ctx, s, s.cfg.Oracle.Interval)
	}
	if s.cfg.SnapshotEvery <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(s.cfg.SnapshotEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := s.Snapshot(ctx); err != nil && ctx.Err() == nil {
					log.Printf("marketplace: snapshot failed: %v", err)
				}
			}
		}
	}()
}

// Snapshot persists the full state if anything changed since the last one.
func (s *MarketplaceService) Snapshot(ctx context.Context) error {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()

	s.tx.Lock()
	seq := s.Bus.Seq()
	if seq == s.lastSeq && !s.dirty.Load() {
		s.tx.Unlock()
		return nil
	}
	s.dirty.Store(false)
	token := s.Token.State()
	snap := marketplace.Snapshot{
		Version:  marketplace.SnapshotVersion,
		Seq:      seq,
		TakenAt:  time.Now().UTC(),
		Registry: s.Registry.State(),
		Engine:   s.Engine.State(),
		Token:    &token,
	}
	s.tx.Unlock()

	data, err := mpstore.EncodeSnapshot(snap)
	if err == nil {
		err = s.store.SaveSnapshot(ctx, seq, data)
	}
	s.metrics.ObserveSnapshot(err)
	if err != nil {
		s.dirty.Store(true)
		return err
	}
	s.lastSeq = seq
	log.Printf("marketplace: snapshot seq=%d (%d bytes)", seq, len(data))
	return nil
}

// Close writes a final snapshot and closes the store.
func (s *MarketplaceService) Close(ctx context.Context) error {
	err := s.Snapshot(ctx)
	s.store.Close()
	return err
}

// Owner is the administrative identity of the deployment.
func (s *MarketplaceService) Owner() marketplace.Address { return s.owner }

// Config returns the configuration the service was built with.
func (s *MarketplaceService) Config() config.Config { return s.cfg }

// Events lists journaled events.
func (s *MarketplaceService) Events(ctx context.Context, filter mpstore.EventFilter) ([]marketplace.Event, error) {
	return s.store.ListEvents(ctx, filter)
}

func (s *MarketplaceService) updateGauges() {
	s.metrics.SetPending(s.Registry.PendingCount())
	s.metrics.SetCollateral(s.Registry.TotalCollateral())
}

// run executes a transition under the shared lock and records its outcome.
func (s *MarketplaceService) run(op string, caller marketplace.Address, fn func() error) error {
	s.tx.RLock()
	err := fn()
	if err == nil {
		s.dirty.Store(true)
	}
	s.tx.RUnlock()
	s.metrics.ObserveTransition(op, err)
	s.updateGauges()
	if err != nil && marketplace.KindOf(err) == marketplace.KindInternal {
		log.Printf("marketplace: %s by %s failed: %v", op, caller, err)
	}
	return err
}
