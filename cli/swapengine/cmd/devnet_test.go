package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bookingswap/swapengine/escrow"
	ledgerclient "github.com/bookingswap/swapengine/ledger/client"
	testnet "github.com/bookingswap/swapengine/testutils/net"
)

func TestDevnetConfig(t *testing.T) {
	homeDir := t.TempDir()
	var cfg *devnetConfiguration
	runFn := func(ctx context.Context, c *devnetConfiguration) error {
		cfg = c
		return nil
	}
	require.NoError(t, execCmd(context.Background(), t, "devnet --home "+homeDir, WithDevnetRunFn(runFn)))
	require.NotNil(t, cfg)
	require.Equal(t, defaultLedgerURL, cfg.Address)
	require.False(t, cfg.InMemory)
	require.Equal(t, 500*time.Millisecond, cfg.RoundInterval)

	db, err := cfg.initStore()
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.FileExists(t, filepath.Join(homeDir, devnetDBFileName))
}

func TestDevnet_PersistsState(t *testing.T) {
	ctx := context.Background()
	console := captureConsole(t)
	dbFile := filepath.Join(t.TempDir(), "ledger", "state.db")
	addr := testnet.FreeAddress(t)
	args := fmt.Sprintf("devnet --home %s --db %s --round-interval 0 --address %s", t.TempDir(), dbFile, addr)

	lc, err := ledgerclient.New(addr)
	require.NoError(t, err)
	waitUp := func() {
		require.Eventually(t, func() bool {
			_, err := lc.GetRoundNumber(ctx)
			return err == nil
		}, 5*time.Second, 20*time.Millisecond, "devnet did not start")
	}

	stop := startCmd(t, args)
	waitUp()
	require.NoError(t, execCmd(ctx, t, fmt.Sprintf("asset register -u %s --id A --owner U1 --value 10", addr)))
	require.ErrorIs(t, stop(), context.Canceled)
	require.FileExists(t, dbFile)

	// restart on the same database, asset must still be there
	stop = startCmd(t, args)
	waitUp()
	console.reset()
	require.NoError(t, execCmd(ctx, t, fmt.Sprintf("asset get -u %s --id A", addr)))
	asset := &escrow.AssetRecord{}
	require.NoError(t, json.Unmarshal([]byte(console.String()), asset))
	require.Equal(t, "U1", asset.Owner)
	require.EqualValues(t, 10, asset.DeclaredValue)

	err = execCmd(ctx, t, fmt.Sprintf("asset register -u %s --id A --owner U2", addr))
	require.ErrorIs(t, err, escrow.ErrAssetExists)
	require.ErrorIs(t, stop(), context.Canceled)
}
