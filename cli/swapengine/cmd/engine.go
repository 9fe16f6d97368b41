package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ainvaltin/httpsrv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/bookingswap/swapengine/escrow"
	"github.com/bookingswap/swapengine/ledger"
	"github.com/bookingswap/swapengine/ledger/client"
	"github.com/bookingswap/swapengine/logger"
	"github.com/bookingswap/swapengine/rpc"
	"github.com/bookingswap/swapengine/swap"
	"github.com/bookingswap/swapengine/verifier"
)

const (
	defaultEngineAddress = "localhost:8080"
	defaultLedgerURL     = "localhost:9080"
)

type (
	engineConfiguration struct {
		Base *baseConfiguration
		httpServerFlags
		GRPC grpcServerConfiguration

		LedgerURL       string
		LedgerTimeout   time.Duration
		PollInterval    time.Duration
		TxTimeoutRounds uint64

		VerifyInterval time.Duration
		VerifyAttempts uint64
		VerifyTimeout  time.Duration

		RollbackRetries         uint64
		RollbackInitialInterval time.Duration
		RollbackMaxInterval     time.Duration
		RollbackSettleTimeout   time.Duration

		MaxConcurrent   int64
		CleanupInterval time.Duration
		CleanupMaxAge   time.Duration
	}

	engineRunnable func(ctx context.Context, cfg *engineConfiguration) error
)

func newEngineCmd(baseConfig *baseConfiguration, engineRunFn engineRunnable) *cobra.Command {
	config := &engineConfiguration{Base: baseConfig}
	var cmd = &cobra.Command{
		Use:   "engine",
		Short: "Starts the swap execution engine",
		Long:  `Starts the swap execution engine which executes asset swaps on the escrow ledger and serves the engine REST and JSON-RPC APIs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if engineRunFn != nil {
				return engineRunFn(cmd.Context(), config)
			}
			return runEngine(cmd.Context(), config)
		},
	}

	config.addHTTPServerFlags(cmd, defaultEngineAddress)
	config.GRPC.addConfigurationFlags(cmd)

	cmd.Flags().StringVar(&config.LedgerURL, "ledger-url", defaultLedgerURL, "URL of the escrow ledger REST API")
	cmd.Flags().DurationVar(&config.LedgerTimeout, "ledger-timeout", swap.DefaultLedgerTimeout, "timeout of a single ledger operation")
	cmd.Flags().DurationVar(&config.PollInterval, "poll-interval", ledger.DefaultPollInterval, "how often the receipt of a submitted transaction is queried")
	cmd.Flags().Uint64Var(&config.TxTimeoutRounds, "tx-timeout-rounds", 10, "number of ledger rounds a submitted transaction stays valid")

	cmd.Flags().DurationVar(&config.VerifyInterval, "verify-interval", 200*time.Millisecond, "how often the ledger is polled when verifying transaction")
	cmd.Flags().Uint64Var(&config.VerifyAttempts, "verify-attempts", 50, "maximum number of ledger queries when verifying transaction")
	cmd.Flags().DurationVar(&config.VerifyTimeout, "verify-timeout", 15*time.Second, "maximum time verifying transaction may take")

	cmd.Flags().Uint64Var(&config.RollbackRetries, "rollback-retries", swap.DefaultRollbackMaxRetries, "number of times unlocking an asset is retried during rollback")
	cmd.Flags().DurationVar(&config.RollbackInitialInterval, "rollback-initial-interval", swap.DefaultRollbackInitialInterval, "initial wait between rollback retries")
	cmd.Flags().DurationVar(&config.RollbackMaxInterval, "rollback-max-interval", swap.DefaultRollbackMaxInterval, "maximum wait between rollback retries")
	cmd.Flags().DurationVar(&config.RollbackSettleTimeout, "rollback-settle-timeout", swap.DefaultRollbackSettleTimeout, "how long rollback waits for lock transactions with unknown outcome to become final or expire")

	cmd.Flags().Int64Var(&config.MaxConcurrent, "max-concurrent", 0, "maximum number of simultaneous swap executions, 0 means no limit")
	cmd.Flags().DurationVar(&config.CleanupInterval, "cleanup-interval", 10*time.Minute, "how often stale executions are dropped from the registry, 0 disables cleanup")
	cmd.Flags().DurationVar(&config.CleanupMaxAge, "cleanup-max-age", time.Hour, "age after which an execution is considered stale")
	return cmd
}

func runEngine(ctx context.Context, cfg *engineConfiguration) error {
	obs := cfg.Base.observe
	log := obs.Logger()

	lc, err := client.New(cfg.LedgerURL)
	if err != nil {
		return fmt.Errorf("creating ledger client: %w", err)
	}
	ec, err := escrow.New(lc, log, escrow.WithPollInterval(cfg.PollInterval), escrow.WithTxTimeoutRounds(cfg.TxTimeoutRounds))
	if err != nil {
		return fmt.Errorf("creating escrow client: %w", err)
	}
	v, err := verifier.New(lc, log,
		verifier.WithPollInterval(cfg.VerifyInterval),
		verifier.WithMaxAttempts(cfg.VerifyAttempts),
		verifier.WithTimeout(cfg.VerifyTimeout))
	if err != nil {
		return fmt.Errorf("creating verifier: %w", err)
	}
	svc, err := swap.New(ec, v, log,
		swap.WithLedgerTimeout(cfg.LedgerTimeout),
		swap.WithRollback(swap.RollbackConfig{
			InitialInterval: cfg.RollbackInitialInterval,
			MaxInterval:     cfg.RollbackMaxInterval,
			SettleTimeout:   cfg.RollbackSettleTimeout,
			MaxRetries:      cfg.RollbackRetries,
		}),
		swap.WithMaxConcurrent(cfg.MaxConcurrent),
		swap.WithMeter(obs.Meter("swap")))
	if err != nil {
		return fmt.Errorf("creating swap service: %w", err)
	}

	log.InfoContext(ctx, fmt.Sprintf("starting swap engine %s, ledger %s", Version, lc.BaseUrl))
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if cfg.IsAddressEmpty() {
			return nil // return nil in this case in order not to kill the group!
		}
		conf := cfg.ServerConfiguration
		conf.APIs = []rpc.API{{Namespace: rpc.SwapAPINamespace, Service: rpc.NewSwapAPI(svc, v)}}
		srv, err := rpc.NewHTTPServer(&conf, obs,
			rpc.SwapEndpoints(svc, v, log),
			rpc.InfoEndpoints(svc, "swap engine", Version, log),
		)
		if err != nil {
			return fmt.Errorf("creating HTTP server: %w", err)
		}
		log.InfoContext(ctx, fmt.Sprintf("engine HTTP server starting on %s", srv.Addr))
		return httpsrv.Run(ctx, *srv, httpsrv.ShutdownTimeout(5*time.Second))
	})

	g.Go(func() error {
		if cfg.GRPC.Address == "" {
			return nil
		}
		return runHealthServer(ctx, cfg)
	})

	g.Go(func() error {
		if cfg.CleanupInterval <= 0 {
			return nil
		}
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				svc.CleanupExpiredExecutions(cfg.CleanupMaxAge)
			}
		}
	})

	return g.Wait()
}

func runHealthServer(ctx context.Context, cfg *engineConfiguration) error {
	log := cfg.Base.observe.Logger()
	srv, hs, err := rpc.NewGRPCServer(cfg.Base.observe,
		rpc.WithMaxRecvMsgSize(cfg.GRPC.MaxRecvMsgSize),
		rpc.WithKeepAlive(cfg.GRPC.GrpcKeepAliveServerParameters()))
	if err != nil {
		return fmt.Errorf("creating gRPC server: %w", err)
	}
	listener, err := net.Listen("tcp", cfg.GRPC.Address)
	if err != nil {
		return fmt.Errorf("listening gRPC address: %w", err)
	}

	errch := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, fmt.Sprintf("gRPC health server starting on %s", listener.Addr()))
		errch <- srv.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		hs.SetServingStatus(rpc.SwapServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		hs.Shutdown()
		srv.GracefulStop()
		if err := <-errch; err != nil {
			log.WarnContext(ctx, "gRPC health server exited with error", logger.Error(err))
		}
		return ctx.Err()
	case err := <-errch:
		return errors.Join(errors.New("gRPC health server stopped"), err)
	}
}
