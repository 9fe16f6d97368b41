package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bookingswap/swapengine/escrow"
	"github.com/bookingswap/swapengine/ledger/client"
)

const (
	ledgerURLCmdName = "ledger-url"
	assetIDCmdName   = "id"
)

func newAssetCmd(baseConfig *baseConfiguration) *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "asset",
		Short: "escrow contract asset operations",
	}
	cmd.AddCommand(assetRegisterCmd(baseConfig))
	cmd.AddCommand(assetGetCmd(baseConfig))
	cmd.PersistentFlags().StringP(ledgerURLCmdName, "u", defaultLedgerURL, "URL of the escrow ledger REST API")
	return cmd
}

func assetRegisterCmd(baseConfig *baseConfiguration) *cobra.Command {
	rec := &escrow.AssetRecord{}
	cmd := &cobra.Command{
		Use:   "register",
		Short: "registers new asset with the escrow contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rec.AssetID == "" || rec.Owner == "" {
				return errors.New("asset id and owner are required")
			}
			ec, err := newEscrowClient(cmd, baseConfig)
			if err != nil {
				return err
			}
			txID, err := ec.RegisterAsset(cmd.Context(), rec)
			if err != nil {
				return fmt.Errorf("registering asset: %w", err)
			}
			printf("Asset %s registered, transaction %s", rec.AssetID, txID)
			return nil
		},
	}
	cmd.Flags().StringVar(&rec.AssetID, assetIDCmdName, "", "asset id")
	cmd.Flags().StringVar(&rec.Owner, "owner", "", "account of the owner")
	cmd.Flags().Uint64Var(&rec.DeclaredValue, "value", 0, "declared value of the asset")
	cmd.Flags().StringVar(&rec.MetadataRef, "metadata", "", "reference to the asset metadata")
	return cmd
}

func assetGetCmd(baseConfig *baseConfiguration) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "prints the asset record",
		RunE: func(cmd *cobra.Command, args []string) error {
			assetID, err := cmd.Flags().GetString(assetIDCmdName)
			if err != nil {
				return err
			}
			ec, err := newEscrowClient(cmd, baseConfig)
			if err != nil {
				return err
			}
			a, err := ec.GetAsset(cmd.Context(), assetID)
			if err != nil {
				return fmt.Errorf("reading asset: %w", err)
			}
			return printJSON(a)
		},
	}
	cmd.Flags().String(assetIDCmdName, "", "asset id")
	_ = cmd.MarkFlagRequired(assetIDCmdName)
	return cmd
}

func newEscrowClient(cmd *cobra.Command, baseConfig *baseConfiguration) (*escrow.Client, error) {
	uri, err := cmd.Flags().GetString(ledgerURLCmdName)
	if err != nil {
		return nil, err
	}
	lc, err := client.New(uri)
	if err != nil {
		return nil, err
	}
	return escrow.New(lc, baseConfig.observe.Logger(), escrow.WithPollInterval(50*time.Millisecond))
}
