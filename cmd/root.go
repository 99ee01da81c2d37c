// Package cmd defines the copertine command line: ingest, gaps and serve.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Isagog/copertinefull/internal/api"
	"github.com/Isagog/copertinefull/internal/app"
	"github.com/Isagog/copertinefull/internal/config"
	"github.com/Isagog/copertinefull/internal/edition"
	"github.com/Isagog/copertinefull/internal/gaps"
	"github.com/Isagog/copertinefull/internal/logging"
	"github.com/Isagog/copertinefull/internal/pipeline"
)

// App is the service container the subcommands use. Tests swap newApp to
// inject in-memory stores.
type App interface {
	Pipeline(source edition.SourceKind) (*pipeline.Pipeline, error)
	Detector() (*gaps.Detector, error)
	Calendar() (gaps.Calendar, error)
	APIServer(ctx context.Context) *api.Server
	Close()
}

var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.Build(ctx, cfg, logger)
}

type runtimeKey struct{}

// runtime is what PersistentPreRunE hands to subcommands.
type runtime struct {
	cfg     config.Config
	logger  *zap.Logger
	restore func()
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "copertine",
		Short: "Ingests newspaper front-page editions into the edition store.",
		Long: `copertine fetches each day's front page from the publisher's site or CMS,
stores the cover image and upserts one edition record per calendar day.
It can also report days missing from the store and serve them over HTTP.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
				Service:     "copertine",
			})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			rt := &runtime{cfg: cfg, logger: logger, restore: logging.Install(logger)}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey{}, rt))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			rt, ok := cmd.Context().Value(runtimeKey{}).(*runtime)
			if !ok {
				return
			}
			_ = rt.logger.Sync()
			rt.restore()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); COP_* environment variables override it")

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newGapsCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func runtimeFrom(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey{}).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
