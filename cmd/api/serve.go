package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"kiritara/api/db"
	"kiritara/api/internal/app"
	"kiritara/api/internal/blob"
	"kiritara/api/internal/config"
	"kiritara/api/internal/content"
	"kiritara/api/internal/email"
	"kiritara/api/internal/gallery"
	"kiritara/api/internal/notify"
	"kiritara/api/internal/search"
	"kiritara/api/internal/session"
	"kiritara/api/internal/store"
	"kiritara/api/internal/submissions"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Bool("skip-migrations", false, "do not apply pending migrations on startup")
}

func blobConfig(cfg config.Config) blob.Config {
	return blob.Config{
		Endpoint:      cfg.Blob.Endpoint,
		AccessKey:     cfg.Blob.AccessKey,
		SecretKey:     cfg.Blob.SecretKey,
		Bucket:        cfg.Blob.Bucket,
		Region:        cfg.Blob.Region,
		UseSSL:        cfg.Blob.UseSSL,
		PublicBaseURL: cfg.Blob.PublicBaseURL,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	skipMigrations, _ := cmd.Flags().GetBool("skip-migrations")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !skipMigrations {
		if err := store.ApplyMigrations(ctx, cfg.DatabaseURL, db.Migrations()); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
	}
	conn, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer conn.Close()
	dataStore := store.NewPostgresStore(conn)

	redisClient, err := notify.Dial(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer redisClient.Close()
	hub := notify.NewHub(redisClient)
	revocations := session.NewRevocations(redisClient)

	blobs, err := blob.New(blobConfig(cfg))
	if err != nil {
		return err
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		// Uploads fail with UPLOAD_FAILED until the bucket is reachable.
		slog.Warn("blob bucket not ready", "bucket", cfg.Blob.Bucket, "error", err)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.Meili.URL) != "" {
		meiliClient = search.NewMeili(cfg.Meili.URL, cfg.Meili.MasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(conn))
	defer searchService.Close()

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
	})
	var notifier submissions.Notifier
	if mailer.IsConfigured() {
		notifier = mailer
	} else {
		slog.Info("smtp not configured, lead notices disabled")
	}

	contentClient := content.New(dataStore, hub, content.WithRefreshHook(searchService.IndexContent))
	defer contentClient.Close()
	galleryClient := gallery.New(dataStore, blobs, hub, gallery.WithRefreshHook(searchService.IndexGallery))
	defer galleryClient.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return contentClient.Start(gctx) })
	g.Go(func() error { return galleryClient.Start(gctx) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("start site clients: %w", err)
	}

	service := app.New(cfg, app.Deps{
		Admins:  dataStore,
		Revoked: revocations,
		Content: contentClient,
		Gallery: galleryClient,
		Leads:   submissions.NewService(dataStore, notifier, cfg.SMTP.LeadsTo),
		Search:  searchService,
		Checks: map[string]app.Check{
			"database": dataStore.Ping,
			"redis":    hub.Ping,
			"blob":     blobs.Ping,
			"content":  app.LoadedCheck("site content", contentClient.Loaded),
			"gallery":  app.LoadedCheck("gallery", galleryClient.Loaded),
		},
	})
	if created, err := service.Bootstrap(ctx); err != nil {
		slog.Warn("admin bootstrap failed, will retry on next restart", "error", err)
	} else if created {
		slog.Info("bootstrap admin created", "email", cfg.BootstrapAdminEmail)
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin, cfg.Upload.MaxBytes).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("kiritara api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return nil
}
