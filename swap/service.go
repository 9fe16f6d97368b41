package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/sync/semaphore"

	"github.com/bookingswap/swapengine/escrow"
	"github.com/bookingswap/swapengine/ledger"
	"github.com/bookingswap/swapengine/logger"
	"github.com/bookingswap/swapengine/verifier"
)

const (
	DefaultLedgerTimeout           = 30 * time.Second
	DefaultRollbackInitialInterval = 100 * time.Millisecond
	DefaultRollbackMaxInterval     = 5 * time.Second
	DefaultRollbackMaxRetries      = 5
	DefaultRollbackSettleTimeout   = time.Minute
)

type (
	EscrowClient interface {
		GetAsset(ctx context.Context, assetID string) (*escrow.AssetRecord, error)
		LockAsset(ctx context.Context, swapID, assetID string) (ledger.TxID, error)
		UnlockAsset(ctx context.Context, swapID, assetID string) (ledger.TxID, error)
		ExecuteSwap(ctx context.Context, attr *escrow.SwapAttributes) (ledger.TxID, error)
		GetSwap(ctx context.Context, swapID string) (*escrow.SwapRecord, error)
		AwaitTransaction(ctx context.Context, txID ledger.TxID, timeout uint64) (*ledger.Receipt, error)
	}

	TxVerifier interface {
		VerifyTransaction(ctx context.Context, txID ledger.TxID) verifier.Verification
		VerifyOrdering(ctx context.Context, txIDs ...ledger.TxID) (bool, error)
	}

	RollbackConfig struct {
		InitialInterval time.Duration
		MaxInterval     time.Duration
		// MaxRetries is the number of retries after the first unlock attempt.
		MaxRetries uint64
		// SettleTimeout bounds the wait for lock transactions with unknown
		// outcome to become final or expire, zero means DefaultRollbackSettleTimeout.
		SettleTimeout time.Duration
	}

	/*
	Service executes atomic swaps of two assets using the escrow contract.

	Execution locks both assets (in asset id order), submits the swap transaction
	and verifies its outcome. When a step fails the locks taken are released by
	compensating unlock transactions.
	*/
	Service struct {
		escrow   EscrowClient
		verifier TxVerifier
		registry *Registry
		log      *slog.Logger
		metrics  *metrics

		ledgerTimeout time.Duration
		rollbackCfg   RollbackConfig
		slots         *semaphore.Weighted
		clock         func() time.Time
	}

	Option func(*options)

	options struct {
		ledgerTimeout time.Duration
		rollback      RollbackConfig
		maxConcurrent int64
		clock         func() time.Time
		meter         metric.Meter
	}

	// execution is the state of a single ExecuteAtomicSwap call.
	execution struct {
		req   *SwapExecutionRequest
		token Token
		state State
		// assets which are (possibly) locked by the execution, in lock order
		locked  []string
		lockTxs []ledger.TxID
		// lock transactions the ledger may still execute
		unconfirmed []unconfirmedLock
		swapTx  ledger.TxID
		lastTx  ledger.TxID
		log     *slog.Logger
	}

	unconfirmedLock struct {
		assetID string
		txID    ledger.TxID
		timeout uint64
	}
)

var (
	_ EscrowClient = (*escrow.Client)(nil)
	_ TxVerifier   = (*verifier.Verifier)(nil)
)

// WithLedgerTimeout sets the timeout of a single escrow contract call.
func WithLedgerTimeout(d time.Duration) Option {
	return func(o *options) {
		o.ledgerTimeout = d
	}
}

func WithRollback(cfg RollbackConfig) Option {
	return func(o *options) {
		o.rollback = cfg
	}
}

// WithMaxConcurrent limits the number of simultaneous executions, zero means no limit.
func WithMaxConcurrent(n int64) Option {
	return func(o *options) {
		o.maxConcurrent = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

func WithMeter(m metric.Meter) Option {
	return func(o *options) {
		o.meter = m
	}
}

func New(ec EscrowClient, v TxVerifier, log *slog.Logger, opts ...Option) (*Service, error) {
	if ec == nil {
		return nil, errors.New("escrow client is nil")
	}
	if v == nil {
		return nil, errors.New("verifier is nil")
	}
	if log == nil {
		return nil, errors.New("logger is nil")
	}
	o := &options{
		ledgerTimeout: DefaultLedgerTimeout,
		rollback: RollbackConfig{
			InitialInterval: DefaultRollbackInitialInterval,
			MaxInterval:     DefaultRollbackMaxInterval,
			MaxRetries:      DefaultRollbackMaxRetries,
			SettleTimeout:   DefaultRollbackSettleTimeout,
		},
		clock: time.Now,
		meter: noop.NewMeterProvider().Meter("swap"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.ledgerTimeout <= 0 {
		return nil, fmt.Errorf("ledger timeout must be positive, got %s", o.ledgerTimeout)
	}
	if o.rollback.InitialInterval <= 0 || o.rollback.MaxInterval < o.rollback.InitialInterval {
		return nil, fmt.Errorf("invalid rollback intervals: initial %s, max %s", o.rollback.InitialInterval, o.rollback.MaxInterval)
	}
	if o.rollback.SettleTimeout < 0 {
		return nil, fmt.Errorf("rollback settle timeout must not be negative, got %s", o.rollback.SettleTimeout)
	}
	if o.rollback.SettleTimeout == 0 {
		o.rollback.SettleTimeout = DefaultRollbackSettleTimeout
	}
	if o.maxConcurrent < 0 {
		return nil, fmt.Errorf("max concurrent executions must not be negative, got %d", o.maxConcurrent)
	}

	m, err := newMetrics(o.meter)
	if err != nil {
		return nil, fmt.Errorf("creating metrics: %w", err)
	}
	s := &Service{
		escrow:        ec,
		verifier:      v,
		registry:      NewRegistry(o.clock),
		log:           log,
		metrics:       m,
		ledgerTimeout: o.ledgerTimeout,
		rollbackCfg:   o.rollback,
		clock:         o.clock,
	}
	if o.maxConcurrent > 0 {
		s.slots = semaphore.NewWeighted(o.maxConcurrent)
	}
	return s, nil
}

/*
ExecuteAtomicSwap exchanges the owners of the source and target asset.

Either both assets change owner or neither does. Calling it again with the
same swap ID returns the result recorded by the escrow contract without
executing anything. The result is never nil, failures are described by
the Error and Outcome fields.
*/
func (s *Service) ExecuteAtomicSwap(ctx context.Context, req *SwapExecutionRequest) *SwapExecutionResult {
	start := time.Now()
	res := s.executeAtomicSwap(ctx, req)
	s.metrics.recordExecution(context.WithoutCancel(ctx), res, start)
	return res
}

// GetActiveSwaps returns the executions currently tracked by this service.
func (s *Service) GetActiveSwaps() []ActiveSwapExecution {
	return s.registry.Active()
}

// CleanupExpiredExecutions stops tracking executions older than maxAge.
func (s *Service) CleanupExpiredExecutions(maxAge time.Duration) int {
	n := s.registry.CleanupExpired(maxAge)
	if n > 0 {
		s.log.Info(fmt.Sprintf("removed %d executions older than %s", n, maxAge))
	}
	return n
}

func (s *Service) executeAtomicSwap(ctx context.Context, req *SwapExecutionRequest) *SwapExecutionResult {
	if err := req.valid(); err != nil {
		res := &SwapExecutionResult{Error: err, Outcome: OutcomeFailed, FinalState: StateInitiated}
		if req != nil {
			res.SwapID = req.SwapID
		}
		return res
	}
	log := s.log.With(logger.SwapID(req.SwapID))

	if s.slots != nil {
		if err := s.slots.Acquire(ctx, 1); err != nil {
			return notStarted(req.SwapID, newError(CodeCancelled, err, "waiting for execution slot"))
		}
		defer s.slots.Release(1)
	}

	if res := s.replay(ctx, req.SwapID, false, log); res != nil {
		return res
	}
	token, ok := s.registry.TryBegin(req.SwapID)
	if !ok {
		return s.inProgress(req.SwapID)
	}
	defer s.registry.End(token)

	// the swap might have been finished by an execution which ended after the first check
	if res := s.replay(ctx, req.SwapID, true, log); res != nil {
		return res
	}

	e := &execution{req: req, token: token, state: StateInitiated, log: log}
	log.DebugContext(ctx, fmt.Sprintf("executing swap of %s and %s", req.SourceAssetID, req.TargetAssetID))
	return s.run(ctx, e)
}

/*
replay returns the result derived from the swap record of the escrow contract,
nil when the contract has no record of the swap. Pending swap is reported as
in progress when it is tracked by the registry, unless recheck is true (the
caller owns the registry entry of the swap).
*/
func (s *Service) replay(ctx context.Context, swapID string, recheck bool, log *slog.Logger) *SwapExecutionResult {
	rec, err := s.getSwap(ctx, swapID)
	if err != nil {
		log.WarnContext(ctx, "reading swap record", logger.Error(err))
		if errors.Is(err, context.Canceled) {
			return notStarted(swapID, newError(CodeCancelled, err, "reading swap record"))
		}
		return notStarted(swapID, newError(CodeLedgerFailure, err, "reading swap record"))
	}

	switch rec.Status {
	case escrow.SwapStatusNone:
		return nil
	case escrow.SwapStatusCompleted:
		log.DebugContext(ctx, "swap has been completed", logger.TxID(string(rec.SwapTxID)))
		ts := time.UnixMilli(int64(rec.Timestamp)).UTC()
		return &SwapExecutionResult{
			SwapID:             swapID,
			Success:            true,
			TransactionID:      rec.SwapTxID,
			ConsensusTimestamp: &ts,
			Outcome:            OutcomeSuccess,
			FinalState:         StateCompleted,
		}
	case escrow.SwapStatusRolledBack:
		log.DebugContext(ctx, "swap has been rolled back", logger.TxID(string(rec.RollbackTxID)))
		return &SwapExecutionResult{
			SwapID:                swapID,
			Error:                 newError(CodeSwapRolledBack, nil, "swap was rolled back by transaction %s", rec.RollbackTxID),
			RollbackTransactionID: rec.RollbackTxID,
			Outcome:               OutcomeFailed,
			FinalState:            StateRolledBack,
		}
	}

	if !recheck {
		if _, ok := s.registry.Get(swapID); ok {
			return s.inProgress(swapID)
		}
		// the execution might have ended after the swap record was read
		return s.replay(ctx, swapID, true, log)
	}
	log.Log(ctx, logger.LevelCritical, "swap is pending in the escrow contract but not executed by this engine", logger.AssetID(rec.LockedAssets...))
	return notStarted(swapID, &ExecutionError{
		Code:    CodeExecutionUnknownState,
		Message: fmt.Sprintf("swap is pending with locked assets %v but not executed by this engine, requires manual verification", rec.LockedAssets),
	}).withOutcome(OutcomeUnknown)
}

func (s *Service) run(ctx context.Context, e *execution) *SwapExecutionResult {
	if err := s.validate(ctx, e); err != nil {
		return e.result(err, OutcomeFailed)
	}
	if err := s.transition(ctx, e, StateValidated, ""); err != nil {
		return s.abort(ctx, e, err)
	}
	if err := ctx.Err(); err != nil {
		return e.result(newError(CodeCancelled, err, "execution cancelled before locking assets"), OutcomeFailed)
	}
	// reading the assets may take a while, the request must not expire before locking
	if err := s.checkExpiration(e.req); err != nil {
		return e.result(err, OutcomeFailed)
	}
	// from the first lock on the execution must run to a final state
	ctx = context.WithoutCancel(ctx)

	first, second := e.req.lockOrder()
	txID, err := s.lock(ctx, e, first)
	if err != nil {
		if notExecuted(txID, err) {
			return e.result(lockError(first, err), OutcomeFailed)
		}
		return s.rollback(ctx, e, lockError(first, err))
	}
	if err := s.transition(ctx, e, StateSourceLocked, txID); err != nil {
		return s.abort(ctx, e, err)
	}

	if txID, err = s.lock(ctx, e, second); err != nil {
		return s.rollback(ctx, e, lockError(second, err))
	}
	if err := s.transition(ctx, e, StateTargetLocked, txID); err != nil {
		return s.abort(ctx, e, err)
	}

	txID, err = s.executeSwap(ctx, e)
	if err != nil && notExecuted(txID, err) {
		return s.rollback(ctx, e, newError(CodeLedgerFailure, err, "swap transaction was rejected"))
	}
	if err := s.transition(ctx, e, StateSwapped, txID); err != nil {
		return s.abort(ctx, e, err)
	}
	if err != nil {
		return s.unresolved(ctx, e, newError(CodeExecutionUnknownState, err, "swap transaction outcome unknown, requires manual verification"))
	}

	v := s.verifier.VerifyTransaction(ctx, txID)
	switch v.Status {
	case verifier.StatusSuccess:
		if err := s.transition(ctx, e, StateCompleted, ""); err != nil {
			return s.abort(ctx, e, err)
		}
		s.auditOrdering(ctx, e)
		e.log.InfoContext(ctx, "swap completed", logger.TxID(string(txID)))
		ts := v.ConsensusTimestamp
		return &SwapExecutionResult{
			SwapID:             e.req.SwapID,
			Success:            true,
			TransactionID:      txID,
			ConsensusTimestamp: &ts,
			Outcome:            OutcomeSuccess,
			FinalState:         e.state,
		}
	case verifier.StatusFailed:
		return s.rollback(ctx, e, newError(CodeLedgerFailure, nil, "swap transaction %s failed: %s", txID, v.ErrorCode))
	default:
		return s.unresolved(ctx, e, newError(CodeExecutionUnknownState, nil, "swap transaction %s could not be verified, requires manual verification", txID))
	}
}

// validate checks the preconditions of the INITIATED -> VALIDATED transition.
func (s *Service) validate(ctx context.Context, e *execution) *ExecutionError {
	if err := s.checkExpiration(e.req); err != nil {
		return err
	}
	for _, id := range []string{e.req.SourceAssetID, e.req.TargetAssetID} {
		if _, err := s.getAsset(ctx, id); err != nil {
			switch {
			case errors.Is(err, escrow.ErrAssetNotFound):
				return newError(CodeAssetNotFound, err, "asset %q not found", id)
			case errors.Is(err, context.Canceled):
				return newError(CodeCancelled, err, "reading asset %q", id)
			default:
				return newError(CodeLedgerFailure, err, "reading asset %q", id)
			}
		}
	}
	return nil
}

func (s *Service) checkExpiration(req *SwapExecutionRequest) *ExecutionError {
	if now := s.clock(); !now.Before(req.ExpirationTime) {
		return newError(CodeRequestExpired, nil, "swap request expired at %s", req.ExpirationTime.UTC().Format(time.RFC3339))
	}
	return nil
}

func (s *Service) transition(ctx context.Context, e *execution, to State, txID ledger.TxID) error {
	if !e.state.CanTransition(to) {
		return fmt.Errorf("%w from %s to %s", errInvalidStateTransition, e.state, to)
	}
	e.log.DebugContext(ctx, fmt.Sprintf("state %s -> %s", e.state, to), logger.TxID(string(txID)))
	e.state = to
	if txID != "" {
		e.lastTx = txID
	}
	s.registry.Update(e.token, to, txID)
	return nil
}

// lock locks the asset for the swap, the asset is tracked as locked unless the ledger rejected the lock.
func (s *Service) lock(ctx context.Context, e *execution, assetID string) (ledger.TxID, error) {
	ctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
	defer cancel()

	txID, err := s.escrow.LockAsset(ctx, e.req.SwapID, assetID)
	if txID != "" {
		e.lastTx = txID
	}
	if err == nil || !notExecuted(txID, err) {
		e.locked = append(e.locked, assetID)
		s.registry.addLockedAsset(e.token, assetID)
	}
	if err != nil {
		if !notExecuted(txID, err) {
			ul := unconfirmedLock{assetID: assetID, txID: txID}
			var uErr *escrow.UnconfirmedTxError
			if errors.As(err, &uErr) {
				ul.timeout = uErr.Timeout
			}
			e.unconfirmed = append(e.unconfirmed, ul)
		}
		e.log.WarnContext(ctx, "locking asset failed", logger.AssetID(assetID), logger.TxID(string(txID)), logger.Error(err))
		return txID, err
	}
	e.lockTxs = append(e.lockTxs, txID)
	return txID, nil
}

func (s *Service) executeSwap(ctx context.Context, e *execution) (ledger.TxID, error) {
	ctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
	defer cancel()

	txID, err := s.escrow.ExecuteSwap(ctx, &escrow.SwapAttributes{
		SwapID:            e.req.SwapID,
		SourceAssetID:     e.req.SourceAssetID,
		TargetAssetID:     e.req.TargetAssetID,
		Proposer:          e.req.ProposerAccount,
		Acceptor:          e.req.AcceptorAccount,
		AdditionalPayment: e.req.AdditionalPayment,
	})
	if txID != "" {
		e.swapTx = txID
		e.lastTx = txID
	}
	if err != nil {
		e.log.WarnContext(ctx, "swap transaction failed", logger.TxID(string(txID)), logger.Error(err))
	}
	return txID, err
}

func (s *Service) getSwap(ctx context.Context, swapID string) (*escrow.SwapRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
	defer cancel()
	return s.escrow.GetSwap(ctx, swapID)
}

func (s *Service) getAsset(ctx context.Context, assetID string) (*escrow.AssetRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
	defer cancel()
	return s.escrow.GetAsset(ctx, assetID)
}

// auditOrdering checks that consensus ordered the locks before the swap transaction.
func (s *Service) auditOrdering(ctx context.Context, e *execution) {
	txs := append(slices.Clone(e.lockTxs), e.swapTx)
	ok, err := s.verifier.VerifyOrdering(ctx, txs...)
	switch {
	case err != nil:
		e.log.WarnContext(ctx, "verifying transaction ordering", logger.Error(err))
	case !ok:
		e.log.ErrorContext(ctx, "lock transactions were not ordered before the swap transaction", logger.Data(txs))
	}
}

/*
unresolved ends the execution whose swap transaction outcome is not known.
Such execution is neither retried nor rolled back.
*/
func (s *Service) unresolved(ctx context.Context, e *execution, err *ExecutionError) *SwapExecutionResult {
	e.log.Log(ctx, logger.LevelCritical, "swap outcome unknown, requires manual verification",
		logger.AssetID(e.req.SourceAssetID, e.req.TargetAssetID), logger.TxID(string(e.lastTx)), logger.Error(err))
	res := e.result(err, OutcomeUnknown)
	res.TransactionID = e.swapTx
	return res
}

// abort ends the execution which reached an inconsistent state.
func (s *Service) abort(ctx context.Context, e *execution, err error) *SwapExecutionResult {
	e.log.Log(ctx, logger.LevelCritical, "swap execution aborted, requires manual verification",
		logger.State(e.state), logger.AssetID(e.locked...), logger.TxID(string(e.lastTx)), logger.Error(err))
	return e.result(newError(CodeExecutionUnknownState, err, "execution aborted in state %s", e.state), OutcomeUnknown)
}

func (s *Service) inProgress(swapID string) *SwapExecutionResult {
	state := StateInitiated
	if a, ok := s.registry.Get(swapID); ok {
		state = a.State
	}
	return &SwapExecutionResult{
		SwapID:     swapID,
		Error:      newError(CodeExecutionInProgress, nil, "swap is being executed"),
		Outcome:    OutcomeFailed,
		FinalState: state,
	}
}

func lockError(assetID string, err error) *ExecutionError {
	switch {
	case errors.Is(err, escrow.ErrAssetLocked):
		return newError(CodeAssetUnavailable, err, "asset %q is locked by another swap", assetID)
	case errors.Is(err, escrow.ErrAssetNotFound):
		return newError(CodeAssetNotFound, err, "asset %q not found", assetID)
	default:
		return newError(CodeLedgerFailure, err, "locking asset %q", assetID)
	}
}

/*
notExecuted returns true when the failed transaction was definitely not
executed: it was never submitted or the ledger rejected it.
*/
func notExecuted(txID ledger.TxID, err error) bool {
	return txID == "" || escrow.Rejected(err)
}

func notStarted(swapID string, err *ExecutionError) *SwapExecutionResult {
	return &SwapExecutionResult{SwapID: swapID, Error: err, Outcome: OutcomeFailed, FinalState: StateInitiated}
}

func (r *SwapExecutionResult) withOutcome(o Outcome) *SwapExecutionResult {
	r.Outcome = o
	return r
}

func (e *execution) result(err *ExecutionError, o Outcome) *SwapExecutionResult {
	return &SwapExecutionResult{
		SwapID:     e.req.SwapID,
		Error:      err,
		Outcome:    o,
		FinalState: e.state,
	}
}
