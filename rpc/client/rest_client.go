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

	"github.com/bookingswap/swapengine/ledger"
	"github.com/bookingswap/swapengine/pkg/restapi"
	"github.com/bookingswap/swapengine/rpc"
	"github.com/bookingswap/swapengine/swap"
	"github.com/bookingswap/swapengine/verifier"
)

const (
	SwapsPath        = "api/v1/swaps"
	ActiveSwapsPath  = "api/v1/swaps/active"
	CleanupPath      = "api/v1/maintenance/cleanup"
	TransactionsPath = "api/v1/transactions"
	InfoPath         = "api/v1/info"

	defaultScheme = "http://"
)

// EngineClient talks to the REST API of the swap engine.
type EngineClient struct {
	BaseUrl    *url.URL
	HttpClient http.Client
}

func New(baseUrl string) (*EngineClient, error) {
	if !strings.HasPrefix(baseUrl, "http://") && !strings.HasPrefix(baseUrl, "https://") {
		baseUrl = defaultScheme + baseUrl
	}
	u, err := url.Parse(baseUrl)
	if err != nil {
		return nil, fmt.Errorf("error parsing engine client base URL (%s): %w", baseUrl, err)
	}
	return &EngineClient{
		BaseUrl:    u,
		HttpClient: http.Client{Timeout: 5 * time.Minute},
	}, nil
}

/*
ExecuteSwap asks the engine to execute the swap. Swap which didn't succeed is
not an error, the returned result describes the outcome. Error is returned when
the engine didn't produce execution result (ie request couldn't be decoded).
*/
func (c *EngineClient) ExecuteSwap(ctx context.Context, req *swap.SwapExecutionRequest) (*swap.SwapExecutionResult, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode swap request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseUrl.JoinPath(SwapsPath).String(), bytes.NewBuffer(b))
	if err != nil {
		return nil, fmt.Errorf("failed to create execute swap request: %w", err)
	}
	httpReq.Header.Set(restapi.ContentType, restapi.ApplicationJson)
	res, err := c.HttpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send execute swap request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read execute swap response: %w", err)
	}
	rsp := struct {
		swap.SwapExecutionResult
		Message string `json:"message"`
	}{}
	if err := json.Unmarshal(body, &rsp); err != nil {
		return nil, fmt.Errorf("failed to decode execute swap response (status %s): %w", res.Status, err)
	}
	if rsp.Outcome == "" {
		if rsp.Message != "" {
			return nil, fmt.Errorf("status %s - %s", res.Status, rsp.Message)
		}
		return nil, fmt.Errorf("status %s", res.Status)
	}
	return &rsp.SwapExecutionResult, nil
}

func (c *EngineClient) ActiveSwaps(ctx context.Context) ([]swap.ActiveSwapExecution, error) {
	var active []swap.ActiveSwapExecution
	if err := c.do(ctx, http.MethodGet, c.BaseUrl.JoinPath(ActiveSwapsPath), &active); err != nil {
		return nil, fmt.Errorf("request ActiveSwaps failed: %w", err)
	}
	return active, nil
}

func (c *EngineClient) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	u := c.BaseUrl.JoinPath(CleanupPath)
	u.RawQuery = url.Values{"maxAge": []string{maxAge.String()}}.Encode()
	rsp := &rpc.CleanupResponse{}
	if err := c.do(ctx, http.MethodPost, u, rsp); err != nil {
		return 0, fmt.Errorf("request Cleanup failed: %w", err)
	}
	return rsp.Removed, nil
}

func (c *EngineClient) VerifyTransaction(ctx context.Context, txID ledger.TxID) (*verifier.Verification, error) {
	v := &verifier.Verification{}
	if err := c.do(ctx, http.MethodGet, c.BaseUrl.JoinPath(TransactionsPath, string(txID), "verification"), v); err != nil {
		return nil, fmt.Errorf("request VerifyTransaction failed: %w", err)
	}
	return v, nil
}

func (c *EngineClient) Info(ctx context.Context) (*rpc.InfoResponse, error) {
	info := &rpc.InfoResponse{}
	if err := c.do(ctx, http.MethodGet, c.BaseUrl.JoinPath(InfoPath), info); err != nil {
		return nil, fmt.Errorf("request Info failed: %w", err)
	}
	return info, nil
}

func (c *EngineClient) do(ctx context.Context, method string, u *url.URL, data any) error {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	res, err := c.HttpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return readErrorResponse(res)
	}
	if err := json.NewDecoder(res.Body).Decode(data); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func readErrorResponse(res *http.Response) error {
	msg := restapi.ErrorResponse{}
	b, err := io.ReadAll(res.Body)
	if err != nil || json.Unmarshal(b, &msg) != nil || msg.Message == "" {
		return fmt.Errorf("status %s", res.Status)
	}
	return fmt.Errorf("status %s - %s", res.Status, msg.Message)
}
