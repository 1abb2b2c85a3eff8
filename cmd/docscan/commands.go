package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docscan/internal/app"
	"github.com/dgallion1/docscan/internal/config"
	"github.com/dgallion1/docscan/internal/match"
	"github.com/dgallion1/docscan/internal/pipeline"
	"github.com/dgallion1/docscan/internal/preprocess"
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "docscan",
		Short:         "Batch OCR keyword search over scanned documents",
		SilenceUsage: true,
	}
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")

	root.AddCommand(runCmd(), serveCmd())
	return root
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the job API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.Serve(ctx, cfg, newLogger(cmd))
		},
	}
}

type runOptions struct {
	keywords    []string
	language    string
	strategy    string
	transcript  bool
	highlight   bool
	output      string
	pageWorkers int
}

func runCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [flags] FILE...",
		Short: "Scan files for keywords and write the result documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRun(cmd, opts, args)
		},
	}
	f := cmd.Flags()
	f.StringSliceVarP(&opts.keywords, "keywords", "k", nil, "Comma-separated keywords to search for (required)")
	f.StringVarP(&opts.language, "language", "l", "", "OCR language, e.g. deu or deu+eng (default from config)")
	f.StringVarP(&opts.strategy, "strategy", "s", "", "Preprocessing strategy: none, enhance, denoise, combined")
	f.BoolVar(&opts.transcript, "transcript", false, "Write the full OCR transcript")
	f.BoolVar(&opts.highlight, "highlight", false, "Highlight keywords in the transcript")
	f.StringVarP(&opts.output, "output", "o", "", "Output directory (default: current directory)")
	f.IntVar(&opts.pageWorkers, "page-workers", 0, "Pages recognized concurrently per file (default from config)")
	cmd.MarkFlagRequired("keywords")
	return cmd
}

func executeRun(cmd *cobra.Command, opts runOptions, files []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.pageWorkers > 0 {
		cfg.PageWorkers = opts.pageWorkers
	}

	job, err := buildJob(cfg, opts, files)
	if err != nil {
		return err
	}
	if err := job.Validate(); err != nil {
		return err
	}

	log := newLogger(cmd)
	worker, _ := app.NewWorker(cfg, nil, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res := worker.Process(ctx, job, logObserver{log: log})

	out := json.NewEncoder(cmd.OutOrStdout())
	out.SetIndent("", "  ")
	if err := out.Encode(res); err != nil {
		return err
	}
	if res.Status == pipeline.StatusFailed {
		return fmt.Errorf("run failed: %w", res.Err)
	}
	return nil
}

func buildJob(cfg config.Config, opts runOptions, files []string) (pipeline.Job, error) {
	strategyName := opts.strategy
	if strategyName == "" {
		strategyName = cfg.Strategy
	}
	strategy, err := preprocess.ParseStrategy(strategyName)
	if err != nil {
		return pipeline.Job{}, err
	}
	lang := opts.language
	if lang == "" {
		lang = cfg.Language
	}
	outDir := opts.output
	if outDir == "" {
		outDir = cfg.OutputDir
	}

	abs := make([]string, 0, len(files))
	for _, f := range files {
		p, err := filepath.Abs(f)
		if err != nil {
			return pipeline.Job{}, err
		}
		abs = append(abs, p)
	}

	return pipeline.Job{
		Files:          abs,
		Keywords:       match.NormalizeKeywords(opts.keywords),
		Language:       lang,
		Strategy:       strategy,
		FullTranscript: opts.transcript,
		Highlight:      opts.highlight,
		OutputDir:      outDir,
	}, nil
}

// logObserver reports run progress through the structured logger.
type logObserver struct {
	log *slog.Logger
}

func (o logObserver) Status(msg string) { o.log.Info("status", "message", msg) }

func (o logObserver) Progress(percent int) { o.log.Debug("progress", "percent", percent) }

var _ pipeline.Observer = logObserver{}
