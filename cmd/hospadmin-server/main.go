package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/hospadmin/hospadmin/internal/config"
	"github.com/hospadmin/hospadmin/internal/domain/complaint"
	"github.com/hospadmin/hospadmin/internal/domain/feedback"
	"github.com/hospadmin/hospadmin/internal/platform/apiclient"
	"github.com/hospadmin/hospadmin/internal/platform/blobstore"
	"github.com/hospadmin/hospadmin/internal/platform/cache"
	"github.com/hospadmin/hospadmin/internal/platform/db"
	"github.com/hospadmin/hospadmin/internal/platform/httpapi"
	"github.com/hospadmin/hospadmin/internal/platform/middleware"
	"github.com/hospadmin/hospadmin/internal/platform/notification"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "hospadmin-server",
		Short:        "Hospital administration API (complaints and feedback)",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(schemaCmd())
	root.AddCommand(clientCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "apply",
		Short: "Create the complaint and feedback tables if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.ApplySchema(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema applied.")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the bootstrap DDL",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := io.WriteString(cmd.OutOrStdout(), db.Schema())
			return err
		},
	})
	return cmd
}

func clientCmd() *cobra.Command {
	var baseURL string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Call a running API server",
	}
	cmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "API base URL (default API_BASE_URL from env or .env)")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")

	newClient := func() (*apiclient.Client, error) {
		url := baseURL
		if url == "" {
			cfg, err := config.LoadClient()
			if err != nil {
				return nil, err
			}
			url = cfg.APIBaseURL
		}
		return apiclient.New(apiclient.Options{BaseURL: strings.TrimRight(url, "/"), Timeout: timeout, Retries: 2}), nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Show server and database health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			out, err := client.Health(cmd.Context())
			if out != nil {
				if perr := printJSON(cmd.OutOrStdout(), out); perr != nil {
					return perr
				}
			}
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "complaints",
		Short: "List complaints",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			items, err := client.ListComplaints(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), items)
		},
	})

	fb := &cobra.Command{
		Use:   "feedback",
		Short: "List feedback with module ratings",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			items, err := client.ListFeedback(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), items)
		},
	}
	fb.AddCommand(&cobra.Command{
		Use:   "summary",
		Short: "Show average ratings overall and per module",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			sum, err := client.FeedbackSummary(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sum)
		},
	})
	fb.AddCommand(&cobra.Command{
		Use:   "submit <file.json>",
		Short: "Submit feedback read from a JSON file (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			var body json.RawMessage
			if err := json.NewDecoder(r).Decode(&body); err != nil {
				return fmt.Errorf("read feedback: %w", err)
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			id, err := client.SubmitFeedback(cmd.Context(), body)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "feedback_id: %d\n", id)
			return nil
		},
	})
	cmd.AddCommand(fb)
	return cmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// services bundles what the router needs; serve builds it from the pool,
// tests from in-memory fakes.
type services struct {
	complaints *complaint.Service
	feedback   *feedback.Service
	blobs      blobstore.Store
	db         db.Pinger
	poolStats  func() *db.PoolStats
}

func newRouter(cfg *config.Config, logger zerolog.Logger, svc services) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httpapi.ErrorHandler(logger)

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 || rateLimitCfg.BurstSize <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(blobstore.RoutePrefix))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderXRequestID},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, middleware.FormatLimit(cfg.UploadMaxBytes+1<<20)))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(svc.db, svc.poolStats))
	e.Static(blobstore.RoutePrefix, cfg.UploadDir)

	complaints := e.Group("/complaints", middleware.RateLimit(rateLimitCfg))
	complaint.NewHandler(svc.complaints, svc.blobs).RegisterRoutes(complaints)

	fb := e.Group("/feedback", middleware.RateLimit(rateLimitCfg))
	feedback.NewHandler(svc.feedback).RegisterRoutes(fb)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
		Logger:   &logger,
	})
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	blobs, err := blobstore.NewDiskStore(afero.NewOsFs(), cfg.UploadDir, cfg.UploadMaxBytes)
	if err != nil {
		return fmt.Errorf("prepare upload dir: %w", err)
	}

	uow := db.NewUnitOfWork(pool)
	complaintSvc := complaint.NewService(complaint.NewRepoPG(pool), uow, logger)
	feedbackSvc := feedback.NewService(feedback.NewRepoPG(pool), uow, logger)

	if cfg.RedisURL != "" {
		rdb, err := cache.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer rdb.Close()
		store := cache.NewRedisStore(rdb, "hospadmin:")
		complaintSvc.WithCache(store, cfg.CacheTTL)
		feedbackSvc.WithCache(store, cfg.CacheTTL)
		logger.Info().Dur("ttl", cfg.CacheTTL).Msg("list cache enabled")
	}

	if cfg.MQTTBroker != "" {
		client, err := notification.DialMQTT(cfg.MQTTBroker, cfg.MQTTClientID, 5*time.Second)
		if err != nil {
			return err
		}
		pub := notification.NewMQTTPublisher(client, cfg.MQTTTopic)
		defer pub.Close()
		complaintSvc.WithEvents(pub)
		feedbackSvc.WithEvents(pub)
		logger.Info().Str("broker", cfg.MQTTBroker).Msg("event publishing enabled")
	}

	e := newRouter(cfg, logger, services{
		complaints: complaintSvc,
		feedback:   feedbackSvc,
		blobs:      blobs,
		db:         pool,
		poolStats:  func() *db.PoolStats { return db.GetPoolStats(pool) },
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
