package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CanopyNet/canopy-core/internal/api"
	"github.com/CanopyNet/canopy-core/internal/geo"
	"github.com/CanopyNet/canopy-core/internal/logger"
	"github.com/CanopyNet/canopy-core/internal/mirror"
	"github.com/CanopyNet/canopy-core/internal/notify"
	"github.com/CanopyNet/canopy-core/internal/qr"
	"github.com/CanopyNet/canopy-core/internal/session"
	"github.com/CanopyNet/canopy-core/internal/store"
	"github.com/CanopyNet/canopy-core/internal/transfer"
	"github.com/CanopyNet/canopy-core/internal/ws"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the upload API server",
	Long:  `Start the canopy-core API server that receives chunked directory uploads and serves downloads.`,
	Run:   runAPIServer,
}

func runAPIServer(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	logger, err := logger.InitForAPI(cfg.App.LogLevel, cfg.App.FileLogging)
	if err != nil {
		fmt.Println("Failed to initialize logger:", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Starting canopy-core",
		zap.String("version", version),
		zap.String("commit", commit))

	// Redis backs session tokens and content dedup marks. An empty addr
	// runs the server open, for local use.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		logger.Info("Connected to Redis successfully", zap.String("addr", cfg.Redis.Addr))
	} else {
		logger.Warn("Redis disabled, session token auth is off")
	}

	resolver := geo.NewResolver(cfg.App.GeoIPPath, logger)
	defer func() {
		_ = resolver.Close()
	}()

	st, err := store.Open(cfg.Storage.HistoryDB)
	if err != nil {
		logger.Fatal("Failed to open history store", zap.Error(err))
	}
	defer func() {
		_ = st.Close()
	}()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := ws.NewHub(logger)

	qrGen := qr.NewGenerator(cfg.Server.PublicURL)

	var telegram *notify.Telegram
	var tgLimiter *rate.Limiter
	if cfg.Telegram.Enabled() {
		telegram = notify.NewTelegram(
			cfg.Telegram.BotToken,
			cfg.Telegram.Channel,
			cfg.Telegram.Template,
			qrGen,
			&http.Client{Timeout: 10 * time.Second},
		)
		tgLimiter = rate.NewLimiter(rate.Every(cfg.Telegram.SendingInterval), 1)
		logger.Info("Telegram notifications enabled", zap.String("channel", cfg.Telegram.Channel))
	}

	var manifestMirror *mirror.Mirror
	if cfg.Mirror.Enabled() {
		manifestMirror, err = mirror.New(
			cfg.Mirror.SSHKeyPath,
			cfg.Mirror.Owner,
			cfg.Mirror.Repo,
			[]byte(cfg.Mirror.EncryptionKey),
		)
		if err != nil {
			logger.Fatal("Failed to create manifest mirror", zap.Error(err))
		}
		if err := manifestMirror.HealthCheck(); err != nil {
			logger.Fatal("Mirror SSH connectivity test failed", zap.Error(err))
		}
		logger.Info("Manifest mirror initialized",
			zap.String("repo", fmt.Sprintf("%s/%s", cfg.Mirror.Owner, cfg.Mirror.Repo)),
			zap.String("ssh_key", cfg.Mirror.SSHKeyPath))
	}

	mgr := transfer.NewManager(transfer.Opts{
		Workers:       cfg.Transfer.Workers,
		TaskTimeout:   cfg.Transfer.TaskTimeout,
		RetryAttempts: cfg.Transfer.RetryAttempts,
		RetryBackoff:  cfg.Transfer.RetryBackoff,
		QueueSize:     cfg.Transfer.QueueSize,
		ChunkSize:     cfg.Transfer.ChunkSize,
		LookAhead:     cfg.Transfer.LookAhead,
	}, logger)
	mgr.Start()

	// Runs on its own goroutine per terminal session; blocking on the
	// notification rate limit here is fine.
	onTerminal := func(info session.Info) {
		if manifestMirror != nil && info.Status == session.StatusCompleted {
			data, merr := json.MarshalIndent(session.NewManifest(info), "", "  ")
			if merr == nil {
				merr = manifestMirror.PushManifest(info.ID, data)
			}
			if merr != nil {
				logger.Error("Failed to mirror manifest",
					zap.String("session_id", info.ID),
					zap.Error(merr))
			}
		}

		if telegram == nil {
			return
		}
		evt := notify.Event{Info: info, ShareLink: qrGen.ShareLink(info.ID)}
		if err := tgLimiter.Wait(context.Background()); err != nil {
			logger.Error("Rate limit error", zap.Error(err))
			return
		}
		var sendErr error
		switch info.Status {
		case session.StatusCompleted:
			sendErr = telegram.SessionCompleted(evt)
		case session.StatusFailed:
			sendErr = telegram.SessionFailed(evt)
		default:
			return
		}
		if sendErr != nil {
			logger.Error("Failed to send Telegram notification", zap.Error(sendErr))
		}
	}

	handler := api.NewHandler(api.HandlerOpts{
		Manager:  mgr,
		Registry: session.NewRegistry(),
		Redis:    redisClient,
		Store:    st,
		Hub:      hub,
		Geo:      resolver,
		Logger:   logger,
		Version: api.VersionInfo{
			Version:   version,
			Commit:    commit,
			Date:      date,
			GoVersion: goVersion,
			Platform:  platform,
		},
		StorageDir:      cfg.Storage.Dir,
		MaxFileBytes:    cfg.Storage.MaxFileBytes,
		MaxSessionBytes: cfg.Storage.MaxSessionBytes,
		TokenTTL:        cfg.Redis.TokenTTL,
		OnTerminal:      onTerminal,
	})
	// The handler installs the hub's pause/resume callback, so the hub
	// starts only after it exists.
	go hub.Run(hubCtx)

	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Server starting",
			zap.String("address", server.Addr),
			zap.String("storage_dir", cfg.Storage.Dir),
			zap.Int64("chunk_size", cfg.Transfer.ChunkSize),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Drain in-flight chunk operations so no write is abandoned
	// mid-range.
	mgr.Shutdown(true)
	logger.Info("Shutdown complete")
}
