package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/HwangHoYoon/trust/internal/application"
	appai "github.com/HwangHoYoon/trust/internal/application/ai"
	appscans "github.com/HwangHoYoon/trust/internal/application/scans"
	"github.com/HwangHoYoon/trust/internal/config"
	domain "github.com/HwangHoYoon/trust/internal/domain/scans"
	"github.com/HwangHoYoon/trust/internal/infra/ai/openai"
	"github.com/HwangHoYoon/trust/internal/infra/db/memory"
	"github.com/HwangHoYoon/trust/internal/infra/executor/nuclei"
	"github.com/HwangHoYoon/trust/internal/observability"
)

var errScanFailed = errors.New("scan failed")

type options struct {
	configPath string
	enrich     bool
	jsonOut    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "trust-scan",
		Short:         "Run nuclei against a URL and grade the result.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "config file")

	root.AddCommand(newRunCmd(opts), newVersionCmd(opts))
	return root
}

// build wires a service over an in-memory store.
// Logs go to stderr so stdout carries only scan output.
func build(opts *options) (*appscans.Service, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	observability.Initialize(cfg.Logger, zapcore.Lock(os.Stderr))
	logger := observability.GetLogger()

	store := memory.NewStore()
	svc := &appscans.Service{
		Repo:    store,
		Runner:  nuclei.NewRunner(cfg.Scanner.Mode, cfg.Scanner.Path, cfg.Scanner.Image, logger.Named("nuclei")),
		Errors:  store.Errors(),
		Clock:   application.SystemClock{},
		Logger:  logger.Named("scans"),
		Options: cfg.ScanOptions(),
	}
	if cfg.AI.Provider == "openai" {
		client := openai.NewClient(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.Model, cfg.AI.MaxTokens)
		svc.Enricher = appai.NewService(client, store, store, application.SystemClock{}, logger.Named("ai"))
	}
	return svc, nil
}

func newRunCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <url>",
		Short: "Scan a target and stream events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := build(opts)
			if err != nil {
				return err
			}
			defer observability.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var sink domain.Sink = newPrinter(cmd.OutOrStdout())
			if opts.jsonOut {
				sink = newJSONPrinter(cmd.OutOrStdout())
			}
			job, err := svc.RunScan(ctx, args[0], sink, opts.enrich)
			if err != nil {
				return err
			}
			// wait past ctx so the interrupted job can finish its terminal write
			final, err := job.Wait(context.WithoutCancel(ctx))
			if err != nil {
				return fmt.Errorf("%w: %v", errScanFailed, err)
			}
			if final.Status != domain.StatusCompleted {
				return fmt.Errorf("%w: %s", errScanFailed, final.ErrorMessage)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.enrich, "enrich", false, "explain each finding with the configured model")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print events as JSON lines")
	return cmd
}

func newVersionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the scanner version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := build(opts)
			if err != nil {
				return err
			}
			v, err := svc.Version(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}
}
