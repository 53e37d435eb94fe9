package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mclarke/eventide/internal/backup"
	"github.com/mclarke/eventide/internal/database"
	"github.com/mclarke/eventide/internal/logging"
	"github.com/mclarke/eventide/internal/push"
	"github.com/mclarke/eventide/internal/server"
)

func main() {
	godotenv.Load()

	logger := logging.Setup(os.Getenv("EVENTIDE_LOG_LEVEL"))

	port := os.Getenv("EVENTIDE_PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("EVENTIDE_DB_PATH")
	if dbPath == "" {
		dbPath = "eventide.db"
	}

	db, err := database.Open(dbPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	backupCfg := backup.Config{
		S3: backup.S3Config{
			Endpoint:  os.Getenv("EVENTIDE_S3_ENDPOINT"),
			Bucket:    os.Getenv("EVENTIDE_S3_BUCKET"),
			Region:    os.Getenv("EVENTIDE_S3_REGION"),
			AccessKey: os.Getenv("EVENTIDE_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("EVENTIDE_S3_SECRET_KEY"),
		},
		DBPath:        dbPath,
		Passphrase:    os.Getenv("EVENTIDE_BACKUP_PASSPHRASE"),
		ScheduleHour:  envInt("EVENTIDE_BACKUP_SCHEDULE_HOUR", 3),
		RetentionDays: envInt("EVENTIDE_BACKUP_RETENTION_DAYS", 30),
	}

	pushCfg := push.Config{
		VAPIDPublicKey:  os.Getenv("EVENTIDE_VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("EVENTIDE_VAPID_PRIVATE_KEY"),
	}
	if pushCfg.VAPIDPublicKey == "" || pushCfg.VAPIDPrivateKey == "" {
		logger.Warn("VAPID keys not configured, push notifications disabled")
	}

	srv := server.New(db, backupCfg, pushCfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv.BackupManager().Start(ctx)
	if sched := srv.PushScheduler(); sched != nil {
		sched.Start(ctx)
	}

	// Expired rate limit entries accumulate without a periodic sweep.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			}
		}
	}()

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		fmt.Printf("Eventide running at http://localhost:%s\n", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	fmt.Println("\nShutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	if sched := srv.PushScheduler(); sched != nil {
		sched.Stop()
	}
	srv.BackupManager().Stop()
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
