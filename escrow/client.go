package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bookingswap/swapengine/ledger"
	"github.com/bookingswap/swapengine/logger"
)

const defaultTxTimeoutRounds = 10

type (
	// Client executes typed escrow contract operations, each write is one
	// ledger transaction which is submitted and then awaited.
	Client struct {
		ledger          ledger.Client
		txTimeoutRounds uint64
		pollInterval    time.Duration
		log             *slog.Logger
	}

	Option func(*Client)
)

// WithTxTimeoutRounds sets the number of rounds a submitted transaction stays valid.
func WithTxTimeoutRounds(rounds uint64) Option {
	return func(c *Client) {
		c.txTimeoutRounds = rounds
	}
}

// WithPollInterval sets how often the receipt of a submitted transaction is queried.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

func New(lc ledger.Client, log *slog.Logger, opts ...Option) (*Client, error) {
	if lc == nil {
		return nil, errors.New("ledger client is nil")
	}
	if log == nil {
		return nil, errors.New("logger is nil")
	}
	c := &Client{
		ledger:          lc,
		txTimeoutRounds: defaultTxTimeoutRounds,
		pollInterval:    ledger.DefaultPollInterval,
		log:             log,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.txTimeoutRounds == 0 {
		return nil, errors.New("tx timeout must be at least one round")
	}
	return c, nil
}

func (c *Client) RegisterAsset(ctx context.Context, rec *AssetRecord) (ledger.TxID, error) {
	if rec == nil {
		return "", errors.New("asset record is nil")
	}
	return c.submit(ctx, TxTypeRegister, AssetUnitID(rec.AssetID), &RegisterAttributes{
		AssetID:       rec.AssetID,
		Owner:         rec.Owner,
		DeclaredValue: rec.DeclaredValue,
		MetadataRef:   rec.MetadataRef,
	})
}

// GetAsset returns ErrAssetNotFound when the asset has not been registered.
func (c *Client) GetAsset(ctx context.Context, assetID string) (*AssetRecord, error) {
	unit, err := c.ledger.GetUnit(ctx, AssetUnitID(assetID))
	if err != nil {
		if errors.Is(err, ledger.ErrUnitNotFound) {
			return nil, fmt.Errorf("asset %q: %w", assetID, ErrAssetNotFound)
		}
		return nil, fmt.Errorf("reading asset %q: %w", assetID, err)
	}
	rec := &AssetRecord{}
	if err := unit.UnmarshalData(rec); err != nil {
		return nil, fmt.Errorf("decoding asset %q: %w", assetID, err)
	}
	rec.Counter = unit.Counter
	return rec, nil
}

// LockAsset locks the asset for the swap, fails with ErrAssetLocked when the asset is already locked.
func (c *Client) LockAsset(ctx context.Context, swapID, assetID string) (ledger.TxID, error) {
	return c.submit(ctx, TxTypeLock, AssetUnitID(assetID), &LockAttributes{SwapID: swapID, AssetID: assetID})
}

/*
UnlockAsset releases the lock the swap holds on the asset. Unlocking an asset
which is not locked succeeds without effect, unlocking an asset locked by
another swap fails with ErrNotLockHolder.
*/
func (c *Client) UnlockAsset(ctx context.Context, swapID, assetID string) (ledger.TxID, error) {
	return c.submit(ctx, TxTypeUnlock, AssetUnitID(assetID), &UnlockAttributes{SwapID: swapID, AssetID: assetID})
}

// ExecuteSwap exchanges the owners of the assets locked by the swap.
func (c *Client) ExecuteSwap(ctx context.Context, attr *SwapAttributes) (ledger.TxID, error) {
	if err := attr.Valid(); err != nil {
		return "", err
	}
	return c.submit(ctx, TxTypeSwap, SwapUnitID(attr.SwapID), attr)
}

// GetSwap returns swap record with status NONE when the contract does not know the swap.
func (c *Client) GetSwap(ctx context.Context, swapID string) (*SwapRecord, error) {
	unit, err := c.ledger.GetUnit(ctx, SwapUnitID(swapID))
	if err != nil {
		if errors.Is(err, ledger.ErrUnitNotFound) {
			return &SwapRecord{SwapID: swapID, Status: SwapStatusNone}, nil
		}
		return nil, fmt.Errorf("reading swap %q: %w", swapID, err)
	}
	rec := &SwapRecord{}
	if err := unit.UnmarshalData(rec); err != nil {
		return nil, fmt.Errorf("decoding swap %q: %w", swapID, err)
	}
	return rec, nil
}

// QueryTransaction returns the receipt of the transaction.
func (c *Client) QueryTransaction(ctx context.Context, txID ledger.TxID) (*ledger.Receipt, error) {
	return c.ledger.QueryTransaction(ctx, txID)
}

/*
AwaitTransaction waits until the transaction is final. Returns ledger.ErrTxExpired
when the ledger passed the timeout round without executing the transaction,
zero timeout means the transaction is awaited until ctx is done.
*/
func (c *Client) AwaitTransaction(ctx context.Context, txID ledger.TxID, timeout uint64) (*ledger.Receipt, error) {
	return ledger.AwaitReceipt(ctx, c.ledger, txID, ledger.ConfirmOptions{
		PollInterval: c.pollInterval,
		Timeout:      timeout,
		Log:          c.log.With(logger.TxID(string(txID))),
	})
}

/*
submit sends transaction to the ledger and waits for its receipt. Transaction
ID is returned whenever the transaction was built, also in case of error.
*/
func (c *Client) submit(ctx context.Context, txType string, unitID ledger.UnitID, attr any) (ledger.TxID, error) {
	roundNr, err := c.ledger.GetRoundNumber(ctx)
	if err != nil {
		return "", fmt.Errorf("reading round number: %w", err)
	}
	tx := &ledger.TransactionOrder{
		Type:           txType,
		UnitID:         unitID,
		Nonce:          uuid.NewString(),
		ClientMetadata: &ledger.ClientMetadata{Timeout: roundNr + c.txTimeoutRounds},
	}
	if err := tx.SetAttributes(attr); err != nil {
		return "", err
	}
	txID, err := tx.ID()
	if err != nil {
		return "", err
	}
	log := c.log.With(logger.TxID(string(txID)))

	log.DebugContext(ctx, fmt.Sprintf("submitting %s transaction for unit %s", txType, unitID))
	if _, err := c.ledger.SubmitTransaction(ctx, tx); err != nil {
		return txID, &UnconfirmedTxError{TxID: txID, Timeout: tx.Timeout(), Err: fmt.Errorf("submitting %s transaction: %w", txType, err)}
	}

	rec, err := ledger.AwaitReceipt(ctx, c.ledger, txID, ledger.ConfirmOptions{
		PollInterval: c.pollInterval,
		Timeout:      tx.Timeout(),
		Log:          log,
	})
	if err != nil {
		err = fmt.Errorf("awaiting %s transaction receipt: %w", txType, err)
		if errors.Is(err, ledger.ErrTxExpired) {
			return txID, err
		}
		return txID, &UnconfirmedTxError{TxID: txID, Timeout: tx.Timeout(), Err: err}
	}
	if !rec.Successful() {
		return txID, newTxError(rec)
	}
	return txID, nil
}
