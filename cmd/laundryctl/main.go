// Command laundryctl scans laundry machine QR codes and starts orders against
// a laundry_scan server.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tphummel/laundry_scan/internal/apiclient"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type app struct {
	configPath string
	endpoint   string
	token      string
	verbose    bool

	cfg Config
	log *zap.Logger
}

// client returns an API client using the user token.
func (a *app) client() (*apiclient.Client, error) {
	if a.cfg.Token == "" {
		return nil, fmt.Errorf("no token configured: set --token, LAUNDRY_TOKEN or %s", a.configPath)
	}
	return apiclient.NewClient(a.cfg.Endpoint, a.cfg.Token), nil
}

// adminClient returns an API client using the operator token, falling back
// to the user token.
func (a *app) adminClient() (*apiclient.Client, error) {
	if a.cfg.AdminToken == "" {
		return a.client()
	}
	return apiclient.NewClient(a.cfg.Endpoint, a.cfg.AdminToken), nil
}

// slogger returns the logger handed to the scanner and decoder packages.
func (a *app) slogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

func newRootCmd() *cobra.Command {
	a := &app{log: zap.NewNop()}

	root := &cobra.Command{
		Use:           "laundryctl",
		Short:         "Scan laundry machines and start orders",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(a.verbose)
			if err != nil {
				return err
			}
			a.log = logger

			cfg, err := loadConfig(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg.resolve(os.Getenv, a.endpoint, a.token)
			a.log.Debug("config loaded", zap.String("path", a.configPath), zap.String("endpoint", a.cfg.Endpoint))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.log.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", configPath(), "config file")
	pf.StringVar(&a.endpoint, "endpoint", "", "server URL (overrides LAUNDRY_ENDPOINT)")
	pf.StringVar(&a.token, "token", "", "user token (overrides LAUNDRY_TOKEN)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newScanCmd(a), newOrdersCmd(a), newQRCmd(a))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
