package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"EscrowSettle/internal/auth"
	"EscrowSettle/internal/escrow"
	"EscrowSettle/internal/observability"
	"EscrowSettle/internal/registry"
	"EscrowSettle/internal/trade"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine applies settlement instructions against the escrow store.
// One engine instance manages one chain's ledger. All settlement calls
// serialize on the engine mutex; per-call work is bounded, so nothing
// blocks indefinitely and there are no internal retries.
type Engine struct {
	chainID   int64
	store     *escrow.Store
	validator *trade.Validator
	registry  *registry.Registry
	guard     *auth.Guard
	mover     escrow.AssetMover

	mu       chan struct{} // buffered-1 semaphore, see lock()
	sequence int64
	nonces   map[nonceKey]int64

	persistChan chan<- Output
	publishChan chan<- Output

	metrics *observability.Metrics
	logger  zerolog.Logger
}

type nonceKey struct {
	Account uuid.UUID
	Asset   string
}

// Config wires an engine instance.
type Config struct {
	ChainID int64
	// StartSequence resumes numbering above anything already persisted.
	StartSequence int64
	Operator      uuid.UUID
	Store         *escrow.Store
	Registry      *registry.Registry
	Mover         escrow.AssetMover
	PersistChan   chan<- Output
	PublishChan   chan<- Output
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

func New(cfg Config) (*Engine, error) {
	guard, err := auth.NewGuard(cfg.Operator)
	if err != nil {
		return nil, err
	}

	store := cfg.Store
	if store == nil {
		store = escrow.NewStore()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New(nil)
	}
	mover := cfg.Mover
	if mover == nil {
		mover = escrow.NopMover{}
	}

	e := &Engine{
		chainID:     cfg.ChainID,
		store:       store,
		validator:   trade.NewValidator(store, reg, cfg.ChainID),
		registry:    reg,
		guard:       guard,
		mover:       mover,
		mu:          make(chan struct{}, 1),
		sequence:    cfg.StartSequence,
		nonces:      make(map[nonceKey]int64),
		persistChan: cfg.PersistChan,
		publishChan: cfg.PublishChan,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
	return e, nil
}

// lock acquires the engine mutex, respecting context cancellation.
func (e *Engine) lock(ctx context.Context) error {
	select {
	case e.mu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) unlock() {
	<-e.mu
}

// ChainID returns the chain this engine instance manages.
func (e *Engine) ChainID() int64 {
	return e.chainID
}

// Operator returns the current settlement operator.
func (e *Engine) Operator() uuid.UUID {
	return e.guard.Operator()
}

// TransferOperator hands settlement control to a new operator.
func (e *Engine) TransferOperator(caller, newOperator uuid.UUID) error {
	old := e.guard.Operator()
	if err := e.guard.Transfer(caller, newOperator); err != nil {
		return err
	}
	e.logger.Info().
		Str("old_operator", old.String()).
		Str("new_operator", newOperator.String()).
		Msg("operator transferred")
	return nil
}

// ============================================================================
// Self-service balance operations
// ============================================================================

// Deposit credits escrow for an account. Strictly self-service: only
// the account itself may fund its escrow.
func (e *Engine) Deposit(ctx context.Context, caller, account uuid.UUID, asset string, amount int64) error {
	if err := e.requireSelf(caller, account); err != nil {
		e.countBalanceRejection("deposit", err)
		return err
	}
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.unlock()

	if err := e.store.Deposit(account, asset, amount); err != nil {
		e.countBalanceRejection("deposit", err)
		return err
	}

	e.sequence++
	now := time.Now()
	e.emit(Output{
		Sequence: e.sequence,
		Entries: []Entry{{
			EntryID:   uuid.New(),
			Sequence:  e.sequence,
			EntryType: EntryDeposit,
			Account:   account,
			Asset:     asset,
			Amount:    amount,
			CreatedAt: now,
		}},
		Timestamp: now,
	})

	if e.metrics != nil {
		e.metrics.DepositsApplied.WithLabelValues(asset).Inc()
	}
	e.logger.Debug().
		Str("account", account.String()).
		Str("asset", asset).
		Int64("amount", amount).
		Msg("deposit applied")
	return nil
}

// Withdraw debits the available portion of an account's escrow.
// Strictly self-service, like Deposit.
func (e *Engine) Withdraw(ctx context.Context, caller, account uuid.UUID, asset string, amount int64) error {
	if err := e.requireSelf(caller, account); err != nil {
		e.countBalanceRejection("withdraw", err)
		return err
	}
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.unlock()

	if err := e.store.Withdraw(account, asset, amount); err != nil {
		e.countBalanceRejection("withdraw", err)
		return err
	}

	e.sequence++
	now := time.Now()
	e.emit(Output{
		Sequence: e.sequence,
		Entries: []Entry{{
			EntryID:   uuid.New(),
			Sequence:  e.sequence,
			EntryType: EntryWithdrawal,
			Account:   account,
			Asset:     asset,
			Amount:    -amount,
			CreatedAt: now,
		}},
		Timestamp: now,
	})

	if e.metrics != nil {
		e.metrics.WithdrawalsApplied.WithLabelValues(asset).Inc()
	}
	e.logger.Debug().
		Str("account", account.String()).
		Str("asset", asset).
		Int64("amount", amount).
		Msg("withdrawal applied")
	return nil
}

// Balance reports (total, available, locked) for a pair.
func (e *Engine) Balance(account uuid.UUID, asset string) (total, available, locked int64) {
	return e.store.Balance(account, asset)
}

// Nonce returns the last recorded trade nonce for (account, asset).
func (e *Engine) Nonce(account uuid.UUID, asset string) int64 {
	e.mu <- struct{}{}
	defer e.unlock()
	return e.nonces[nonceKey{Account: account, Asset: asset}]
}

// SettlementStatus reports per-leg progress for an order.
func (e *Engine) SettlementStatus(orderID string) registry.Status {
	return e.registry.Status(orderID)
}

// ============================================================================
// Settlement
// ============================================================================

// SettleCrossChainTrade settles one leg of a split trade on this chain.
// isSourceLeg selects the base delivery (source chain) or the quote
// delivery (destination chain).
func (e *Engine) SettleCrossChainTrade(ctx context.Context, caller uuid.UUID, t *trade.Trade, isSourceLeg bool) (*SettlementRecord, error) {
	kind := trade.LegDestination
	if isSourceLeg {
		kind = trade.LegSource
	}
	return e.settle(ctx, caller, t, kind)
}

// SettleSameChainTrade settles both deliveries atomically on this chain.
func (e *Engine) SettleSameChainTrade(ctx context.Context, caller uuid.UUID, t *trade.Trade) (*SettlementRecord, error) {
	return e.settle(ctx, caller, t, trade.LegSameChain)
}

func (e *Engine) settle(ctx context.Context, caller uuid.UUID, t *trade.Trade, kind trade.LegKind) (*SettlementRecord, error) {
	start := time.Now()

	if err := e.guard.Require(caller); err != nil {
		e.countSettlementRejection(kind, err)
		return nil, err
	}

	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	defer e.unlock()

	if err := e.validator.Validate(t, kind); err != nil {
		e.countSettlementRejection(kind, err)
		return nil, err
	}

	legs := t.Legs(kind)

	// Locking phase: lock the combined owed amount per (payer, asset)
	// pool unless a prior partial flow already holds enough. Deliveries
	// sharing one pool lock once for their sum, so a lock is never
	// counted toward two deliveries.
	var taken []trade.Requirement
	for _, req := range trade.Requirements(legs) {
		if e.store.Locked(req.Payer, req.Asset) >= req.Amount {
			continue
		}
		if err := e.store.Lock(req.Payer, req.Asset, req.Amount); err != nil {
			e.releaseLocks(taken)
			e.countSettlementRejection(kind, err)
			return nil, err
		}
		if e.metrics != nil {
			e.metrics.LocksTaken.WithLabelValues(req.Asset).Inc()
		}
		taken = append(taken, req)
	}

	// Transfer phase: external credits execute as one all-or-nothing
	// batch. On failure, locks taken above are released and nothing
	// observable changed.
	credits := make([]escrow.Credit, len(legs))
	for i, leg := range legs {
		credits[i] = escrow.Credit{
			OrderID: t.OrderID,
			Leg:     kind.String(),
			Wallet:  leg.Wallet,
			Asset:   leg.Asset,
			Amount:  leg.Amount,
		}
	}
	if err := e.mover.Execute(ctx, credits); err != nil {
		e.releaseLocks(taken)
		e.countSettlementRejection(kind, err)
		return nil, fmt.Errorf("asset mover: %w", err)
	}

	// Accounting phase: consume locked funds. Cannot fail after the
	// locking phase; a failure here is a broken invariant.
	for _, leg := range legs {
		if err := e.store.SettleTransfer(leg.Payer, leg.Asset, leg.Amount); err != nil {
			e.countSettlementRejection(kind, err)
			return nil, err
		}
		if e.metrics != nil {
			e.metrics.TransfersExecuted.WithLabelValues(leg.Asset).Inc()
		}
	}

	settledAt := time.Now()
	if err := e.registry.MarkSettled(t.OrderID, kind, settledAt); err != nil {
		e.countSettlementRejection(kind, err)
		return nil, err
	}
	e.recordNonces(t)

	e.sequence++
	rec := &SettlementRecord{
		Sequence:  e.sequence,
		OrderID:   t.OrderID,
		Leg:       kind.String(),
		SettledAt: settledAt,
	}
	entries := make([]Entry, 0, len(legs))
	for _, leg := range legs {
		rec.Transfers = append(rec.Transfers, Transfer{
			Payer:  leg.Payer,
			Wallet: leg.Wallet,
			Asset:  leg.Asset,
			Amount: leg.Amount,
		})
		entries = append(entries, Entry{
			EntryID:   uuid.New(),
			Sequence:  e.sequence,
			EntryType: EntrySettlement,
			Account:   leg.Payer,
			Asset:     leg.Asset,
			Amount:    -leg.Amount,
			OrderID:   t.OrderID,
			CreatedAt: settledAt,
		})
	}

	e.emit(Output{
		Sequence:   e.sequence,
		Settlement: rec,
		Entries:    entries,
		Timestamp:  settledAt,
	})

	if e.metrics != nil {
		e.metrics.SettlementsApplied.WithLabelValues(kind.String()).Inc()
		e.metrics.SettlementDuration.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
		e.metrics.SettlementSequence.Set(float64(e.sequence))
		e.metrics.RegistrySize.Set(float64(e.registry.Size()))
	}
	e.logger.Info().
		Str("order_id", t.OrderID).
		Str("leg", kind.String()).
		Int64("sequence", e.sequence).
		Int("transfers", len(rec.Transfers)).
		Msg("trade leg settled")

	return rec, nil
}

func (e *Engine) releaseLocks(taken []trade.Requirement) {
	for _, req := range taken {
		if err := e.store.Release(req.Payer, req.Asset, req.Amount); err != nil {
			e.logger.Error().
				Err(err).
				Str("payer", req.Payer.String()).
				Str("asset", req.Asset).
				Msg("lock release failed during settlement abort")
		} else if e.metrics != nil {
			e.metrics.LocksReleased.WithLabelValues(req.Asset).Inc()
		}
	}
}

// recordNonces keeps the highest trade nonce seen per (party, asset).
// Nonces impose no ordering; they are recorded for the query surface only.
func (e *Engine) recordNonces(t *trade.Trade) {
	k1 := nonceKey{Account: t.Party1, Asset: t.BaseAsset}
	if t.Nonce1 > e.nonces[k1] {
		e.nonces[k1] = t.Nonce1
	}
	k2 := nonceKey{Account: t.Party2, Asset: t.QuoteAsset}
	if t.Nonce2 > e.nonces[k2] {
		e.nonces[k2] = t.Nonce2
	}
}

// emit sends the output downstream: blocking to persistence so no
// applied operation is lost, non-blocking to the publish channel.
func (e *Engine) emit(out Output) {
	if e.persistChan != nil {
		if e.metrics != nil && len(e.persistChan) == cap(e.persistChan) {
			e.metrics.PersistBackpressure.Inc()
		}
		e.persistChan <- out
	}

	if e.publishChan != nil {
		select {
		case e.publishChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}
}

// requireSelf restricts balance operations to the owning account. The
// operator settles trades but never moves another account's escrow.
func (e *Engine) requireSelf(caller, account uuid.UUID) error {
	if caller == account {
		return nil
	}
	return fmt.Errorf("caller %s acting on account %s: %w", caller, account, auth.ErrUnauthorized)
}

func (e *Engine) countSettlementRejection(kind trade.LegKind, err error) {
	if e.metrics == nil {
		return
	}
	e.metrics.SettlementsRejected.WithLabelValues(kind.String(), rejectionReason(err)).Inc()
	if errors.Is(err, trade.ErrAlreadySettled) {
		e.metrics.ReplayRejections.WithLabelValues(kind.String()).Inc()
	}
}

func (e *Engine) countBalanceRejection(op string, err error) {
	if e.metrics != nil {
		e.metrics.BalanceOpRejected.WithLabelValues(op, rejectionReason(err)).Inc()
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, trade.ErrInvalidWallet):
		return "invalid_wallet"
	case errors.Is(err, trade.ErrOppositeSidesRequired):
		return "same_sides"
	case errors.Is(err, trade.ErrWrongChain):
		return "wrong_chain"
	case errors.Is(err, trade.ErrAlreadySettled):
		return "already_settled"
	case errors.Is(err, trade.ErrInsufficientEscrow):
		return "insufficient_escrow"
	case errors.Is(err, escrow.ErrInsufficientAvailable):
		return "insufficient_available"
	case errors.Is(err, escrow.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, escrow.ErrInvariantViolation):
		return "invariant_violation"
	default:
		return "other"
	}
}
