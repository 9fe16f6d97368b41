package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bookingswap/swapengine/ledger"
	"github.com/bookingswap/swapengine/rpc/client"
	"github.com/bookingswap/swapengine/swap"
)

const (
	engineURLCmdName = "engine-url"
	swapIDCmdName    = "id"
)

func newSwapCmd(baseConfig *baseConfiguration) *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "swap",
		Short: "executes and inspects asset swaps",
	}
	cmd.AddCommand(swapExecuteCmd())
	cmd.AddCommand(swapStatusCmd(baseConfig))
	cmd.AddCommand(swapActiveCmd())
	cmd.AddCommand(swapCleanupCmd())
	cmd.AddCommand(swapVerifyCmd())
	cmd.PersistentFlags().StringP(engineURLCmdName, "e", defaultEngineAddress, "URL of the swap engine REST API")
	return cmd
}

func swapExecuteCmd() *cobra.Command {
	req := &swap.SwapExecutionRequest{}
	var expiresIn time.Duration
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "asks the engine to execute the swap",
		Long:  "asks the engine to execute the swap and prints the execution result, exits with error when the swap did not succeed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.SwapID == "" {
				req.SwapID = uuid.NewString()
			}
			if expiresIn <= 0 {
				return fmt.Errorf("expiration must be positive, got %s", expiresIn)
			}
			req.ExpirationTime = time.Now().Add(expiresIn).UTC()

			ec, err := newEngineClient(cmd)
			if err != nil {
				return err
			}
			res, err := ec.ExecuteSwap(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("executing swap: %w", err)
			}
			if err := printJSON(res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("swap %s outcome %s: %w", res.SwapID, res.Outcome, res.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.SwapID, swapIDCmdName, "", "swap id, generated when not set")
	cmd.Flags().StringVar(&req.SourceAssetID, "source", "", "id of the asset offered by the proposer")
	cmd.Flags().StringVar(&req.TargetAssetID, "target", "", "id of the asset offered by the acceptor")
	cmd.Flags().StringVar(&req.ProposerAccount, "proposer", "", "account of the proposer")
	cmd.Flags().StringVar(&req.AcceptorAccount, "acceptor", "", "account of the acceptor")
	cmd.Flags().Uint64Var(&req.AdditionalPayment, "payment", 0, "additional payment recorded with the swap")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", time.Hour, "how long the swap request stays valid")
	return cmd
}

func swapStatusCmd(baseConfig *baseConfiguration) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "prints the swap record of the escrow contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			swapID, err := cmd.Flags().GetString(swapIDCmdName)
			if err != nil {
				return err
			}
			ec, err := newEscrowClient(cmd, baseConfig)
			if err != nil {
				return err
			}
			rec, err := ec.GetSwap(cmd.Context(), swapID)
			if err != nil {
				return fmt.Errorf("reading swap record: %w", err)
			}
			return printJSON(rec)
		},
	}
	cmd.Flags().String(swapIDCmdName, "", "swap id")
	cmd.Flags().StringP(ledgerURLCmdName, "u", defaultLedgerURL, "URL of the escrow ledger REST API")
	_ = cmd.MarkFlagRequired(swapIDCmdName)
	return cmd
}

func swapActiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "lists swap executions in progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			ec, err := newEngineClient(cmd)
			if err != nil {
				return err
			}
			active, err := ec.ActiveSwaps(cmd.Context())
			if err != nil {
				return err
			}
			if len(active) == 0 {
				consoleWriter.Println("No active swap executions")
				return nil
			}
			return printJSON(active)
		},
	}
}

func swapCleanupCmd() *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "drops executions older than max age from the engine registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			ec, err := newEngineClient(cmd)
			if err != nil {
				return err
			}
			n, err := ec.Cleanup(cmd.Context(), maxAge)
			if err != nil {
				return err
			}
			printf("Removed %d executions", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", time.Hour, "age after which an execution is considered stale")
	return cmd
}

func swapVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "verifies transaction against the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := cmd.Flags().GetString("tx-id")
			if err != nil {
				return err
			}
			txID, err := ledger.ParseTxID(s)
			if err != nil {
				return fmt.Errorf("invalid transaction id: %w", err)
			}
			ec, err := newEngineClient(cmd)
			if err != nil {
				return err
			}
			v, err := ec.VerifyTransaction(cmd.Context(), txID)
			if err != nil {
				return err
			}
			return printJSON(v)
		},
	}
	cmd.Flags().String("tx-id", "", "transaction id (hex prefixed with 0x)")
	_ = cmd.MarkFlagRequired("tx-id")
	return cmd
}

func newEngineClient(cmd *cobra.Command) (*client.EngineClient, error) {
	uri, err := cmd.Flags().GetString(engineURLCmdName)
	if err != nil {
		return nil, err
	}
	if uri == "" {
		return nil, errors.New("engine URL is required")
	}
	return client.New(uri)
}
