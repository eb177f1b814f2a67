package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/CanopyNet/canopy-core/internal/cli"
	"github.com/CanopyNet/canopy-core/internal/logger"
	"github.com/CanopyNet/canopy-core/internal/transfer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serverURL    string
	userID       string
	concurrent   int
	excludes     []string
	outputFormat string
	outputFile   string
	showProgress bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload [directory]",
	Short: "Upload a directory to a canopy server",
	Long:  `Scan a directory, declare its files and push them in integrity-checked chunks to a canopy-core server. The current directory is uploaded when none is given.`,
	Args:  cobra.MaximumNArgs(1),
	Run:   runUpload,
}

func init() {
	uploadCmd.Flags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "Canopy server base URL")
	uploadCmd.Flags().StringVarP(&userID, "user", "u", defaultUserID(), "User id recorded on the session")
	uploadCmd.Flags().IntVarP(&concurrent, "concurrent", "j", 0, "Parallel read workers (default: transfer config)")
	uploadCmd.Flags().StringSliceVarP(&excludes, "exclude", "x", []string{}, "Glob patterns to skip, matched against relative paths and path segments")
	uploadCmd.Flags().StringVarP(&outputFormat, "format", "f", "table", "Output format: table, json, csv")
	uploadCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	uploadCmd.Flags().BoolVar(&showProgress, "progress", true, "Show a live progress line")
}

func defaultUserID() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "anonymous"
}

func runUpload(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	logger, err := logger.InitForCLI(cfg.App.LogLevel)
	if err != nil {
		fmt.Println("Failed to initialize logger:", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	workers := cfg.Transfer.Workers
	if concurrent > 0 {
		workers = concurrent
	}

	mgr := transfer.NewManager(transfer.Opts{
		Workers:       workers,
		TaskTimeout:   cfg.Transfer.TaskTimeout,
		RetryAttempts: cfg.Transfer.RetryAttempts,
		RetryBackoff:  cfg.Transfer.RetryBackoff,
		QueueSize:     cfg.Transfer.QueueSize,
		ChunkSize:     cfg.Transfer.ChunkSize,
		LookAhead:     cfg.Transfer.LookAhead,
	}, logger)
	mgr.Start()
	defer mgr.Shutdown(true)

	// Ctrl-C cancels the run; the uploader then cancels the session on
	// the server so no orphaned directory is left behind.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	uploader := cli.NewUploader(serverURL, mgr, logger)
	report, err := uploader.Upload(ctx, dir, cli.UploadOptions{
		UserID:       userID,
		Exclude:      excludes,
		ShowProgress: showProgress,
	})
	if err != nil {
		logger.Error("Upload failed", zap.Error(err))
		if report == nil {
			os.Exit(1)
		}
	}

	outputManager := cli.NewOutputManager()
	if outErr := outputManager.Output(report.Results, cli.OutputOptions{
		Format:   outputFormat,
		Filename: outputFile,
	}); outErr != nil {
		logger.Error("failed to output results", zap.Error(outErr))
	}

	cli.NewSummaryPrinter().PrintSummary(report)

	failed := err != nil
	for _, res := range report.Results {
		if res.Status == cli.UploadStatusFailed {
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}
