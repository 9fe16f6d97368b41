package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ainvaltin/httpsrv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bookingswap/swapengine/devnet"
	"github.com/bookingswap/swapengine/keyvaluedb"
	"github.com/bookingswap/swapengine/keyvaluedb/boltdb"
	"github.com/bookingswap/swapengine/keyvaluedb/memorydb"
)

const devnetDBFileName = "devnet.db"

type (
	devnetConfiguration struct {
		Base *baseConfiguration
		httpServerFlags

		DBFile        string
		InMemory      bool
		RoundInterval time.Duration
	}

	devnetRunnable func(ctx context.Context, cfg *devnetConfiguration) error
)

func newDevnetCmd(baseConfig *baseConfiguration, devnetRunFn devnetRunnable) *cobra.Command {
	config := &devnetConfiguration{Base: baseConfig}
	var cmd = &cobra.Command{
		Use:   "devnet",
		Short: "Starts the development escrow ledger",
		Long:  `Starts single node ledger running the escrow contract, for development and testing of the swap engine.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if devnetRunFn != nil {
				return devnetRunFn(cmd.Context(), config)
			}
			return runDevnet(cmd.Context(), config)
		},
	}

	config.addHTTPServerFlags(cmd, defaultLedgerURL)
	cmd.Flags().StringVar(&config.DBFile, "db", "", fmt.Sprintf("path to the ledger database (default %s)", filepath.Join("$SWAPENGINE_HOME", devnetDBFileName)))
	cmd.Flags().BoolVar(&config.InMemory, "in-memory", false, "keep the ledger state in memory only")
	cmd.Flags().DurationVar(&config.RoundInterval, "round-interval", 500*time.Millisecond, "how often a round is produced, 0 executes transactions on submit")
	return cmd
}

func (c *devnetConfiguration) initStore() (keyvaluedb.KeyValueDB, error) {
	if c.InMemory {
		return memorydb.New(), nil
	}
	dbFile := c.DBFile
	if dbFile == "" {
		dbFile = devnetDBFileName
	}
	dbFile = c.Base.pathInHome(dbFile)
	if err := os.MkdirAll(filepath.Dir(dbFile), 0700); err != nil {
		return nil, fmt.Errorf("creating directory for the ledger database: %w", err)
	}
	db, err := boltdb.New(dbFile)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}
	return db, nil
}

func runDevnet(ctx context.Context, cfg *devnetConfiguration) (rErr error) {
	log := cfg.Base.observe.Logger()
	if cfg.IsAddressEmpty() {
		return errors.New("devnet requires server address")
	}

	db, err := cfg.initStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			rErr = errors.Join(rErr, fmt.Errorf("closing ledger database: %w", err))
		}
	}()

	node, err := devnet.New(db, log, devnet.WithRoundInterval(cfg.RoundInterval))
	if err != nil {
		return fmt.Errorf("creating devnet node: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return node.Run(ctx) })
	g.Go(func() error {
		srv := http.Server{
			Addr:              cfg.Address,
			Handler:           http.MaxBytesHandler(devnet.NewRestAPI(node, log).Router(), cfg.MaxBodyBytes),
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		}
		log.InfoContext(ctx, fmt.Sprintf("devnet REST API starting on %s", cfg.Address))
		return httpsrv.Run(ctx, srv, httpsrv.ShutdownTimeout(5*time.Second))
	})
	return g.Wait()
}
