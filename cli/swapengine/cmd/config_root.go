package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bookingswap/swapengine/logger"
	"github.com/bookingswap/swapengine/observability"
)

type (
	LoggerFactory func(cfg *logger.LogConfiguration) (*slog.Logger, error)

	// baseConfiguration is shared by all the commands.
	baseConfiguration struct {
		HomeDir string
		// CfgFile is resolved against HomeDir when relative.
		CfgFile    string
		LogCfgFile string

		loggerBuilder LoggerFactory
		observe       *observability.Observability
	}
)

const (
	// environment variables are named SWAPENGINE_<FLAG>, ie SWAPENGINE_LEDGER_URL
	envPrefix = "SWAPENGINE"

	defaultConfigFile       = "config.props"
	defaultSwapEngineDir    = ".swapengine"
	defaultLoggerConfigFile = "logger-config.yaml"

	keyHome    = "home"
	keyConfig  = "config"
	keyMetrics = "metrics"

	flagNameLoggerCfgFile = "logger-config"
	flagNameLogOutputFile = "log-file"
	flagNameLogLevel      = "log-level"
	flagNameLogFormat     = "log-format"
)

func (r *baseConfiguration) addConfigurationFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&r.HomeDir, keyHome, "", fmt.Sprintf("set the SWAPENGINE_HOME for this invocation (default is %s)", swapEngineHomeDir()))
	cmd.PersistentFlags().StringVar(&r.CfgFile, keyConfig, "", fmt.Sprintf("config file URL (default is $SWAPENGINE_HOME/%s)", defaultConfigFile))

	cmd.PersistentFlags().String(keyMetrics, "", "metrics exporter, disabled when not set. One of: stdout, prometheus")

	cmd.PersistentFlags().StringVar(&r.LogCfgFile, flagNameLoggerCfgFile, defaultLoggerConfigFile, "logger config file URL. Considered absolute if starts with '/'. Otherwise relative from $SWAPENGINE_HOME.")
	// do not set default values for these flags as then we can easily determine whether to load the value from cfg file or not
	cmd.PersistentFlags().String(flagNameLogOutputFile, "", "log file path or one of the special values: stdout, stderr, discard")
	cmd.PersistentFlags().String(flagNameLogLevel, "", "logging level, one of: TRACE, DEBUG, INFO, WARN, ERROR, CRITICAL, NONE")
	cmd.PersistentFlags().String(flagNameLogFormat, "", "log format, one of: text, json, console, ecs")
}

/*
initConfigFileLocation resolves the home directory and the configuration file.
Both are needed to load the rest of the configuration so viper can't be used
for them: the flag wins, then the environment and then the default.
*/
func (r *baseConfiguration) initConfigFileLocation() {
	r.HomeDir = firstNonEmpty(r.HomeDir, os.Getenv(envKey(keyHome)), swapEngineHomeDir())
	r.CfgFile = r.pathInHome(firstNonEmpty(r.CfgFile, os.Getenv(envKey(keyConfig)), defaultConfigFile))
}

// LoggerCfgFilename returns the flag value (or the default) resolved against the home directory.
func (r *baseConfiguration) LoggerCfgFilename() string {
	return r.pathInHome(r.LogCfgFile)
}

func (r *baseConfiguration) configFileExists() bool {
	_, err := os.Stat(r.CfgFile)
	return err == nil
}

// pathInHome resolves file name relative to the home directory, absolute paths are returned as is.
func (r *baseConfiguration) pathInHome(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(r.HomeDir, name)
}

/*
initLogger builds the logger from the logger configuration file, values of
the log flags given on the command line override the ones in the file.
*/
func (r *baseConfiguration) initLogger(cmd *cobra.Command) (*slog.Logger, error) {
	cfg, err := r.loadLoggerConfig()
	if err != nil {
		return nil, err
	}

	// the flags have no defaults so Changed tells whether the file value must be overridden
	for flagName, value := range map[string]*string{
		flagNameLogLevel:      &cfg.Level,
		flagNameLogFormat:     &cfg.Format,
		flagNameLogOutputFile: &cfg.OutputPath,
	} {
		if !cmd.Flags().Changed(flagName) {
			continue
		}
		if *value, err = cmd.Flags().GetString(flagName); err != nil {
			return nil, fmt.Errorf("reading %s flag value: %w", flagName, err)
		}
	}

	l, err := r.loggerBuilder(cfg)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return l, nil
}

// loadLoggerConfig returns empty configuration when the default logger
// configuration file doesn't exist, any other file must exist.
func (r *baseConfiguration) loadLoggerConfig() (*logger.LogConfiguration, error) {
	cfg := &logger.LogConfiguration{}
	fileName := filepath.Clean(r.LoggerCfgFilename())
	f, err := os.Open(fileName)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && fileName == r.pathInHome(defaultLoggerConfigFile) {
			return cfg, nil
		}
		return nil, fmt.Errorf("opening logger configuration file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decoding logger configuration (%s): %w", fileName, err)
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func envKey(key string) string {
	return strings.ToUpper(envPrefix + "_" + key)
}

// swapEngineHomeDir is the default home, falls back to the working directory
// when the user has no home directory.
func swapEngineHomeDir() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return defaultSwapEngineDir
	}
	return filepath.Join(dir, defaultSwapEngineDir)
}
