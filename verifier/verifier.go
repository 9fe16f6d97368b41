package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bookingswap/swapengine/ledger"
	"github.com/bookingswap/swapengine/logger"
)

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusUnknown Status = "UNKNOWN"

	defaultPollInterval = 200 * time.Millisecond
	defaultMaxAttempts  = 50
	defaultTimeout      = 15 * time.Second
)

var errNotFinal = errors.New("transaction is not final")

type (
	Status string

	Verification struct {
		TxID    ledger.TxID `json:"txId"`
		IsValid bool        `json:"isValid"`
		Status  Status      `json:"status"`
		// ConsensusTimestamp is zero when status is UNKNOWN.
		ConsensusTimestamp time.Time `json:"consensusTimestamp"`
		Round              uint64    `json:"round,string"`
		Index              uint32    `json:"index"`
		ErrorCode          string    `json:"errorCode,omitempty"`
	}

	/*
	Verifier confirms transaction outcome independently of the party which
	submitted it. Verification polls the ledger for a bounded number of
	attempts within a bounded time.
	*/
	Verifier struct {
		ledger       ledger.Client
		pollInterval time.Duration
		maxAttempts  uint64
		timeout      time.Duration
		log          *slog.Logger
	}

	Option func(*Verifier)
)

func WithPollInterval(d time.Duration) Option {
	return func(v *Verifier) {
		v.pollInterval = d
	}
}

func WithMaxAttempts(n uint64) Option {
	return func(v *Verifier) {
		v.maxAttempts = n
	}
}

func WithTimeout(d time.Duration) Option {
	return func(v *Verifier) {
		v.timeout = d
	}
}

func New(lc ledger.Client, log *slog.Logger, opts ...Option) (*Verifier, error) {
	if lc == nil {
		return nil, errors.New("ledger client is nil")
	}
	if log == nil {
		return nil, errors.New("logger is nil")
	}
	v := &Verifier{
		ledger:       lc,
		pollInterval: defaultPollInterval,
		maxAttempts:  defaultMaxAttempts,
		timeout:      defaultTimeout,
		log:          log,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.maxAttempts == 0 {
		return nil, errors.New("max attempts must be positive")
	}
	if v.timeout <= 0 {
		return nil, errors.New("timeout must be positive")
	}
	return v, nil
}

/*
VerifyTransaction polls the ledger until the transaction has a final receipt.
When the outcome can not be confirmed in time the result has status UNKNOWN,
so that "confirmed failed" and "confirmation unavailable" are distinguishable.
*/
func (v *Verifier) VerifyTransaction(ctx context.Context, txID ledger.TxID) Verification {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	var rec *ledger.Receipt
	query := func() error {
		r, err := v.ledger.QueryTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if !r.Final() {
			return errNotFinal
		}
		rec = r
		return nil
	}
	// maxAttempts includes the first query
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(v.pollInterval), v.maxAttempts-1), ctx)
	err := backoff.RetryNotify(query, b, func(err error, d time.Duration) {
		if !errors.Is(err, errNotFinal) && !errors.Is(err, ledger.ErrTxNotFound) {
			v.log.DebugContext(ctx, fmt.Sprintf("querying transaction failed, retrying in %s", d), logger.TxID(string(txID)), logger.Error(err))
		}
	})
	if err != nil {
		v.log.WarnContext(ctx, "transaction outcome could not be verified", logger.TxID(string(txID)), logger.Error(err))
		return Verification{TxID: txID, Status: StatusUnknown}
	}

	res := Verification{
		TxID:               txID,
		IsValid:            rec.Successful(),
		Status:             StatusFailed,
		ConsensusTimestamp: rec.ConsensusTime(),
		Round:              rec.Round,
		Index:              rec.Index,
		ErrorCode:          rec.ErrorCode,
	}
	if res.IsValid {
		res.Status = StatusSuccess
	}
	return res
}

/*
VerifyOrdering returns true when all the transactions are final and consensus
ordered them in the given order. Error is returned when the outcome of some
transaction could not be verified.
*/
func (v *Verifier) VerifyOrdering(ctx context.Context, txIDs ...ledger.TxID) (bool, error) {
	var prev *ledger.Receipt
	for _, id := range txIDs {
		res := v.VerifyTransaction(ctx, id)
		if res.Status == StatusUnknown {
			return false, fmt.Errorf("transaction %s: outcome unknown", id)
		}
		cur := &ledger.Receipt{Round: res.Round, Index: res.Index}
		if prev != nil && !prev.Before(cur) {
			return false, nil
		}
		prev = cur
	}
	return true, nil
}
