package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bookingswap/swapengine/observability"
)

// Version is set at build time with -ldflags "-X github.com/bookingswap/swapengine/cli/swapengine/cmd.Version=..."
var Version = "dev"

type (
	swapEngineApp struct {
		baseCmd    *cobra.Command
		baseConfig *baseConfiguration
		opts       *Options
	}

	// Options allows to replace the functions which run the long-living commands (used by tests).
	Options struct {
		engineRunFn engineRunnable
		devnetRunFn devnetRunnable
	}

	Option func(*Options)
)

func WithEngineRunFn(fn engineRunnable) Option {
	return func(o *Options) {
		o.engineRunFn = fn
	}
}

func WithDevnetRunFn(fn devnetRunnable) Option {
	return func(o *Options) {
		o.devnetRunFn = fn
	}
}

// New creates a new swap engine application
func New(logF LoggerFactory, opts ...Option) *swapEngineApp {
	baseCmd, baseConfig := newBaseCmd(logF)
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}
	return &swapEngineApp{baseCmd, baseConfig, options}
}

// Execute adds all child commands and runs the application
func (a *swapEngineApp) Execute(ctx context.Context) (err error) {
	defer func() {
		if a.baseConfig.observe != nil {
			err = errors.Join(err, a.baseConfig.observe.Shutdown())
		}
	}()

	return a.addAndExecuteCommand(ctx)
}

func (a *swapEngineApp) addAndExecuteCommand(ctx context.Context) error {
	a.baseCmd.AddCommand(newEngineCmd(a.baseConfig, a.opts.engineRunFn))
	a.baseCmd.AddCommand(newDevnetCmd(a.baseConfig, a.opts.devnetRunFn))
	a.baseCmd.AddCommand(newAssetCmd(a.baseConfig))
	a.baseCmd.AddCommand(newSwapCmd(a.baseConfig))
	return a.baseCmd.ExecuteContext(ctx)
}

func newBaseCmd(logF LoggerFactory) (*cobra.Command, *baseConfiguration) {
	config := &baseConfiguration{loggerBuilder: logF}
	var baseCmd = &cobra.Command{
		Use:           "swapengine",
		Short:         "The atomic swap engine CLI",
		Long:          `The swap engine CLI includes commands for running the swap execution engine and the development ledger, and for calling them.`,
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		// subcommands must not define their own PersistentPreRunE as it would replace this one
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.initialize(cmd); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			return nil
		},
	}
	config.addConfigurationFlags(baseCmd)

	return baseCmd, config
}

// initialize loads the configuration of the command and sets up logging and metrics.
func (r *baseConfiguration) initialize(cmd *cobra.Command) error {
	r.initConfigFileLocation()
	if err := r.applyConfigSources(cmd); err != nil {
		return fmt.Errorf("reading configuration: %w", err)
	}

	log, err := r.initLogger(cmd)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	metrics, err := cmd.Flags().GetString(keyMetrics)
	if err != nil {
		return fmt.Errorf("reading flag %q: %w", keyMetrics, err)
	}
	if r.observe, err = observability.New(metrics, Version, log); err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	return nil
}

/*
applyConfigSources sets the flags not given on the command line from the
environment (SWAPENGINE_<FLAG_NAME>) or from the configuration file, in that
order of precedence.
*/
func (r *baseConfiguration) applyConfigSources(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if r.configFileExists() {
		v.SetConfigFile(r.CfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", r.CfgFile, err)
		}
	}

	var errs []error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		// resolved by initConfigFileLocation
		if f.Name == keyHome || f.Name == keyConfig {
			return
		}
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		if err := cmd.Flags().Set(f.Name, v.GetString(f.Name)); err != nil {
			errs = append(errs, fmt.Errorf("setting flag %q value: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}
