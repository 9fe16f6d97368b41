package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/bookingswap/swapengine/ledger"
)

const (
	TransactionsPath = "api/v1/transactions"
	UnitsPath        = "api/v1/units"
	RoundNumberPath  = "api/v1/round-number"

	defaultScheme   = "http://"
	contentType     = "Content-Type"
	applicationCbor = "application/cbor"
)

type (
	// LedgerClient talks to the REST API of a ledger node.
	LedgerClient struct {
		BaseUrl    *url.URL
		HttpClient http.Client

		transactionsURL *url.URL
		unitsURL        *url.URL
		roundNumberURL  *url.URL
	}

	SubmitTxResponse struct {
		TxID ledger.TxID `json:"txId"`
	}

	RoundNumberResponse struct {
		RoundNumber uint64 `json:"roundNumber,string"`
	}
)

var _ ledger.Client = (*LedgerClient)(nil)

func New(baseUrl string) (*LedgerClient, error) {
	if !strings.HasPrefix(baseUrl, "http://") && !strings.HasPrefix(baseUrl, "https://") {
		baseUrl = defaultScheme + baseUrl
	}
	u, err := url.Parse(baseUrl)
	if err != nil {
		return nil, fmt.Errorf("error parsing ledger client base URL (%s): %w", baseUrl, err)
	}
	return &LedgerClient{
		BaseUrl:         u,
		HttpClient:      http.Client{Timeout: time.Minute},
		transactionsURL: u.JoinPath(TransactionsPath),
		unitsURL:        u.JoinPath(UnitsPath),
		roundNumberURL:  u.JoinPath(RoundNumberPath),
	}, nil
}

func (c *LedgerClient) SubmitTransaction(ctx context.Context, tx *ledger.TransactionOrder) (ledger.TxID, error) {
	b, err := cbor.Marshal(tx)
	if err != nil {
		return "", fmt.Errorf("failed to encode transaction: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.transactionsURL.String(), bytes.NewBuffer(b))
	if err != nil {
		return "", fmt.Errorf("failed to create send transaction request: %w", err)
	}
	req.Header.Set(contentType, applicationCbor)
	res, err := c.HttpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send transaction (technical error): %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("failed to send transaction: %w", readErrorResponse(res))
	}
	rsp := &SubmitTxResponse{}
	if err := json.NewDecoder(res.Body).Decode(rsp); err != nil {
		return "", fmt.Errorf("failed to decode send transaction response: %w", err)
	}
	return rsp.TxID, nil
}

func (c *LedgerClient) QueryTransaction(ctx context.Context, txID ledger.TxID) (*ledger.Receipt, error) {
	rec := &ledger.Receipt{}
	found, err := c.get(ctx, c.transactionsURL.JoinPath(string(txID)), rec)
	if err != nil {
		return nil, fmt.Errorf("request QueryTransaction failed: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("transaction %s: %w", txID, ledger.ErrTxNotFound)
	}
	return rec, nil
}

func (c *LedgerClient) GetUnit(ctx context.Context, unitID ledger.UnitID) (*ledger.Unit, error) {
	unit := &ledger.Unit{}
	found, err := c.get(ctx, c.unitsURL.JoinPath(unitID.String()), unit)
	if err != nil {
		return nil, fmt.Errorf("request GetUnit failed: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("unit %s: %w", unitID, ledger.ErrUnitNotFound)
	}
	return unit, nil
}

func (c *LedgerClient) GetRoundNumber(ctx context.Context) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.roundNumberURL.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build get round number request: %w", err)
	}
	res, err := c.HttpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request GetRoundNumber failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected response status code: %d", res.StatusCode)
	}
	rsp := &RoundNumberResponse{}
	if err := json.NewDecoder(res.Body).Decode(rsp); err != nil {
		return 0, fmt.Errorf("failed to decode GetRoundNumber response: %w", err)
	}
	return rsp.RoundNumber, nil
}

// get decodes CBOR response into data, returns false when server responded with 404.
func (c *LedgerClient) get(ctx context.Context, u *url.URL, data any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}
	res, err := c.HttpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return false, nil
	default:
		return false, readErrorResponse(res)
	}
	if err := cbor.NewDecoder(res.Body).Decode(data); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return true, nil
}

func readErrorResponse(res *http.Response) error {
	msg := struct {
		Message string `json:"message"`
	}{}
	b, err := io.ReadAll(res.Body)
	if err != nil || json.Unmarshal(b, &msg) != nil || msg.Message == "" {
		return fmt.Errorf("status %s", res.Status)
	}
	return fmt.Errorf("status %s - %s", res.Status, msg.Message)
}
