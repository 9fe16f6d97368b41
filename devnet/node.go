package devnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bookingswap/swapengine/keyvaluedb"
	"github.com/bookingswap/swapengine/ledger"
	"github.com/bookingswap/swapengine/logger"
)

const (
	NoFault Fault = iota
	// FaultRejectSubmit fails the submission, the transaction is not executed.
	FaultRejectSubmit
	// FaultLoseResponse executes the transaction but fails the submission.
	FaultLoseResponse
	// FaultDropTx accepts the transaction but never executes it.
	FaultDropTx
	// FaultHoldTx accepts the transaction and keeps it pending until ReleaseHeld is called.
	FaultHoldTx
)

var (
	ErrUnsupportedTxType = errors.New("unsupported transaction type")
	errInjectedFault     = errors.New("injected fault")
)

type (
	Fault int

	// FaultFunc decides which fault, if any, is injected for the submitted transaction.
	FaultFunc func(tx *ledger.TransactionOrder) Fault

	/*
	Node is a single process escrow ledger for development and tests.

	Transactions are executed one at a time. With zero round interval every
	submitted transaction is executed immediately in a round of its own,
	otherwise transactions are buffered and executed at round boundaries
	by Run.
	*/
	Node struct {
		db            keyvaluedb.KeyValueDB
		log           *slog.Logger
		roundInterval time.Duration
		clock         func() time.Time

		mu      sync.Mutex
		round   roundInfo
		buffer  []*bufferedTx
		held    []*bufferedTx
		pending map[ledger.TxID]struct{}
		faultFn FaultFunc
		txCount atomic.Uint64
	}

	bufferedTx struct {
		id ledger.TxID
		tx *ledger.TransactionOrder
	}

	Option func(*Node)
)

var _ ledger.Client = (*Node)(nil)

func WithRoundInterval(d time.Duration) Option {
	return func(n *Node) {
		n.roundInterval = d
	}
}

func WithFaults(f FaultFunc) Option {
	return func(n *Node) {
		n.faultFn = f
	}
}

func WithClock(now func() time.Time) Option {
	return func(n *Node) {
		n.clock = now
	}
}

func New(db keyvaluedb.KeyValueDB, log *slog.Logger, opts ...Option) (*Node, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if log == nil {
		return nil, errors.New("logger is nil")
	}
	n := &Node{
		db:      db,
		log:     log,
		clock:   time.Now,
		pending: make(map[ledger.TxID]struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	if _, err := db.Read(roundKey, &n.round); err != nil {
		return nil, fmt.Errorf("loading round info: %w", err)
	}
	return n, nil
}

// SetFaults replaces the fault injection function, nil disables faults.
func (n *Node) SetFaults(f FaultFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.faultFn = f
}

// TxCount returns the number of transactions accepted by the node.
func (n *Node) TxCount() uint64 {
	return n.txCount.Load()
}

/*
Run executes buffered transactions at round boundaries until ctx is cancelled.
Returns immediately when the node executes transactions on submit.
*/
func (n *Node) Run(ctx context.Context) error {
	if n.roundInterval <= 0 {
		return nil
	}
	n.log.InfoContext(ctx, fmt.Sprintf("devnet producing rounds every %s", n.roundInterval))
	ticker := time.NewTicker(n.roundInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := n.runRound(ctx); err != nil {
				return fmt.Errorf("executing round: %w", err)
			}
		}
	}
}

/*
ProduceRound executes the buffered transactions in a new round, the round is
empty when nothing is buffered.
*/
func (n *Node) ProduceRound(ctx context.Context) error {
	return n.runRound(ctx)
}

/*
ReleaseHeld executes the transactions held by FaultHoldTx in a new round.
Held transactions are dropped when their timeout round passes.
*/
func (n *Node) ReleaseHeld(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	txs := n.held
	n.held = nil
	return n.executeRound(ctx, txs)
}

func (n *Node) runRound(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	txs := n.buffer
	n.buffer = nil
	return n.executeRound(ctx, txs)
}

func (n *Node) SubmitTransaction(ctx context.Context, tx *ledger.TransactionOrder) (ledger.TxID, error) {
	if tx == nil {
		return "", errors.New("transaction is nil")
	}
	if _, ok := txHandlers[tx.Type]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedTxType, tx.Type)
	}
	txID, err := tx.ID()
	if err != nil {
		return "", err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	fault := NoFault
	if n.faultFn != nil {
		fault = n.faultFn(tx)
	}
	switch fault {
	case FaultRejectSubmit:
		n.log.DebugContext(ctx, "rejecting transaction submission", logger.TxID(string(txID)))
		return "", fmt.Errorf("submitting %s transaction: %w", tx.Type, errInjectedFault)
	case FaultDropTx:
		n.log.DebugContext(ctx, "dropping transaction", logger.TxID(string(txID)))
		n.txCount.Add(1)
		return txID, nil
	}

	if _, ok := n.pending[txID]; ok {
		return txID, nil
	}
	if found, err := n.db.Read(receiptKey(txID), &ledger.Receipt{}); err != nil || found {
		return txID, err
	}

	n.txCount.Add(1)
	if fault == FaultHoldTx {
		n.log.DebugContext(ctx, "holding transaction", logger.TxID(string(txID)))
		n.pending[txID] = struct{}{}
		n.held = append(n.held, &bufferedTx{id: txID, tx: tx})
		return txID, nil
	}
	if n.roundInterval > 0 {
		n.pending[txID] = struct{}{}
		n.buffer = append(n.buffer, &bufferedTx{id: txID, tx: tx})
	} else if err := n.executeRound(ctx, []*bufferedTx{{id: txID, tx: tx}}); err != nil {
		return "", err
	}

	if fault == FaultLoseResponse {
		n.log.DebugContext(ctx, "losing transaction submission response", logger.TxID(string(txID)))
		return "", fmt.Errorf("reading %s transaction submission response: %w", tx.Type, errInjectedFault)
	}
	return txID, nil
}

func (n *Node) QueryTransaction(ctx context.Context, txID ledger.TxID) (*ledger.Receipt, error) {
	rec := &ledger.Receipt{}
	found, err := n.db.Read(receiptKey(txID), rec)
	if err != nil {
		return nil, fmt.Errorf("reading receipt: %w", err)
	}
	if found {
		return rec, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.pending[txID]; ok {
		return &ledger.Receipt{TxID: txID, Status: ledger.TxStatusPending}, nil
	}
	return nil, fmt.Errorf("transaction %s: %w", txID, ledger.ErrTxNotFound)
}

func (n *Node) GetUnit(ctx context.Context, unitID ledger.UnitID) (*ledger.Unit, error) {
	s := &unitState{rw: n.db}
	unit, err := s.getUnit(unitID)
	if err != nil {
		return nil, fmt.Errorf("unit %s: %w", unitID, err)
	}
	return unit, nil
}

func (n *Node) GetRoundNumber(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.round.Round, nil
}

// executeRound must be called holding n.mu.
func (n *Node) executeRound(ctx context.Context, txs []*bufferedTx) error {
	next := roundInfo{Round: n.round.Round + 1, Timestamp: uint64(n.clock().UnixMilli())}
	if next.Timestamp <= n.round.Timestamp {
		next.Timestamp = n.round.Timestamp + 1
	}

	var index uint32
	for _, btx := range txs {
		delete(n.pending, btx.id)
		if timeout := btx.tx.Timeout(); timeout > 0 && timeout < next.Round {
			n.log.DebugContext(ctx, fmt.Sprintf("transaction timed out (timeout %d, round %d)", timeout, next.Round), logger.TxID(string(btx.id)))
			continue
		}
		exeCtx := &execContext{txID: btx.id, round: next.Round, timestamp: next.Timestamp}
		rec, err := n.executeTx(btx.tx, exeCtx, index)
		if err != nil {
			return fmt.Errorf("executing transaction %s: %w", btx.id, err)
		}
		index++
		n.log.DebugContext(ctx, fmt.Sprintf("executed %s transaction in round %d: %s %s", btx.tx.Type, rec.Round, rec.Status, rec.Error), logger.TxID(string(btx.id)))
	}

	if err := n.db.Write(roundKey, &next); err != nil {
		return fmt.Errorf("storing round info: %w", err)
	}
	n.round = next
	// held transactions can't be executed after their timeout round
	n.held = slices.DeleteFunc(n.held, func(btx *bufferedTx) bool {
		if timeout := btx.tx.Timeout(); timeout > 0 && timeout <= next.Round {
			delete(n.pending, btx.id)
			return true
		}
		return false
	})
	n.log.Log(ctx, logger.LevelTrace, fmt.Sprintf("round %d finished with %d transactions", next.Round, index))
	return nil
}

func (n *Node) executeTx(tx *ledger.TransactionOrder, exeCtx *execContext, index uint32) (_ *ledger.Receipt, rErr error) {
	rec := &ledger.Receipt{
		TxID:      exeCtx.txID,
		Status:    ledger.TxStatusSuccessful,
		Round:     exeCtx.round,
		Index:     index,
		Timestamp: exeCtx.timestamp,
	}

	dbTx, err := n.db.StartTx()
	if err != nil {
		return nil, err
	}
	defer func() {
		if rErr != nil {
			rErr = errors.Join(rErr, dbTx.Rollback())
		}
	}()

	var cErr *contractError
	if err := txHandlers[tx.Type](&unitState{rw: dbTx}, tx, exeCtx); err != nil {
		if !errors.As(err, &cErr) {
			return nil, err
		}
		// state changes of the rejected transaction are discarded
		if err := dbTx.Rollback(); err != nil {
			return nil, err
		}
		rec.Status = ledger.TxStatusFailed
		rec.ErrorCode = cErr.code
		rec.Error = cErr.msg
		if err := n.db.Write(receiptKey(rec.TxID), rec); err != nil {
			return nil, fmt.Errorf("storing receipt: %w", err)
		}
		return rec, nil
	}

	if err := dbTx.Write(receiptKey(rec.TxID), rec); err != nil {
		return nil, fmt.Errorf("storing receipt: %w", err)
	}
	return rec, dbTx.Commit()
}
