package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agentx/guardian-backend/internal/api"
	"github.com/agentx/guardian-backend/internal/api/handlers"
	"github.com/agentx/guardian-backend/internal/auth"
	"github.com/agentx/guardian-backend/internal/config"
	"github.com/agentx/guardian-backend/internal/database"
	"github.com/agentx/guardian-backend/internal/llm"
	"github.com/agentx/guardian-backend/internal/repository/sqlstore"
	"github.com/agentx/guardian-backend/internal/services"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "guardian-server",
	Short:         "Content safety assistant for elderly users",
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run migrations and start the HTTP server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := database.RunMigrations(cfg.Database); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the last migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := database.RollbackMigration(cfg.Database); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "rolled back one migration")
		return nil
	},
}

var (
	tokenUser string
	tokenRole string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed access token for an elder or caregiver",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret is not configured")
		}
		token, err := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer).
			GenerateAccessToken(tokenUser, tokenRole, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.{yaml,json})")

	tokenCmd.Flags().StringVarP(&tokenUser, "user", "u", "", "user id the token is issued for")
	tokenCmd.Flags().StringVarP(&tokenRole, "role", "r", auth.RoleElder, "elder or caregiver")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.AccessTokenTTL, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")

	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger from the log section
func newLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.Format)
	}
	return logger, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	if err := database.RunMigrations(cfg.Database); err != nil {
		return err
	}
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	backend, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:     cfg.Backend.BaseURL,
		APIKey:      cfg.Backend.APIKey,
		Model:       cfg.Backend.Model,
		VisionModel: cfg.Backend.VisionModel,
	})
	if err != nil {
		return err
	}

	hub := handlers.NewHub(logger)
	svc, err := services.NewServices(services.Options{
		Config:  cfg,
		Store:   sqlstore.New(db.DB),
		Backend: backend,
		DB:      db,
		Pusher:  hub,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		return err
	}

	var jwt *auth.JWTService
	if cfg.Auth.JWTSecret != "" {
		jwt = auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	} else {
		logger.Warn("auth.jwt_secret is not set; every request is anonymous")
	}

	app := api.NewApp(cfg, svc, hub, jwt, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"address":  cfg.Server.Address(),
			"database": cfg.Database.Driver,
			"model":    cfg.Backend.Model,
		}).Info("Guardian backend starting")
		errCh <- app.Listen(cfg.Server.Address())
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.WithError(err).Warn("Server shutdown incomplete")
	}
	return <-errCh
}
