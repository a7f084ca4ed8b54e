package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dj-oyu/ppe-safety-monitor/internal/logger"
)

const (
	envPrefix             = "SAFETY"
	defaultConfigFilename = "safety-monitor"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "safety-monitor",
		Short:        "PPE safety violation monitor",
		SilenceUsage: true,
		Long: `Watches a camera or an uploaded video for PPE violations, records each one
with a snapshot and serves the live annotated stream and violation log.

Flags can also be set through SAFETY_<FLAG> environment variables (dashes become
underscores), a .env file, or a safety-monitor.yaml in the working directory.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initializeConfig(cmd, viper.New()); err != nil {
				return err
			}
			return initLogger(cmd)
		},
	}

	root.PersistentFlags().String("config", "", "Config file (default ./safety-monitor.yaml)")
	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	root.PersistentFlags().Bool("log-color", true, "Enable colored log output")

	root.AddCommand(newServeCommand(), newMigrateCommand())
	return root
}

func initLogger(cmd *cobra.Command) error {
	raw, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return err
	}
	level, err := logger.ParseLevel(raw)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	color, err := cmd.Flags().GetBool("log-color")
	if err != nil {
		return err
	}
	logger.Init(level, os.Stderr, color)
	return nil
}

// initializeConfig layers .env, the optional config file and SAFETY_*
// environment variables under the command line flags.
func initializeConfig(cmd *cobra.Command, v *viper.Viper) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(defaultConfigFilename)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	return bindFlags(cmd, v)
}

// bindFlags copies config values onto every flag the user did not set.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if bindErr != nil {
			return
		}
		if !f.Changed && v.IsSet(f.Name) {
			if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil {
				bindErr = fmt.Errorf("flag --%s: %w", f.Name, err)
				return
			}
		}
		if err := v.BindPFlag(f.Name, f); err != nil {
			bindErr = fmt.Errorf("bind --%s: %w", f.Name, err)
		}
	})
	return bindErr
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
