// Package main provides visitctl, a command line client that opens visit detail views.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/drfirst/visitdesk/internal/config"
	"github.com/drfirst/visitdesk/internal/infrastructure/backend"
	"github.com/drfirst/visitdesk/internal/session"
	"github.com/drfirst/visitdesk/pkg/circuitbreaker"
)

// app is the state shared by every subcommand
type app struct {
	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "visitctl",
		Short:         "Open visit detail views against a running visit API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if url, _ := cmd.Flags().GetString("backend"); url != "" {
				cfg.BackendURL = url
			}
			verbose, _ := cmd.Flags().GetBool("verbose")
			a.cfg = cfg
			a.logger = newLogger(verbose)
			return nil
		},
	}
	rootCmd.PersistentFlags().String("backend", "", "Visit API base URL (overrides BACKEND_URL)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output to stderr")

	rootCmd.AddCommand(showCmd(a))
	rootCmd.AddCommand(listCmd(a))
	rootCmd.AddCommand(notificationsCmd(a))
	rootCmd.AddCommand(topicsCmd(a))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// session returns the CLI's staff session, issuing a short-lived token
// from JWT_SECRET when no TOKEN is configured.
func (a *app) session() (*session.Session, error) {
	if err := a.cfg.ValidateClient(); err != nil {
		return nil, err
	}

	staffID := a.cfg.StaffID
	if staffID == "" {
		staffID = "visitctl"
	}
	if a.cfg.Token != "" {
		return &session.Session{StaffID: staffID, Token: a.cfg.Token}, nil
	}

	verifier, err := session.NewVerifier(a.cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	token, err := verifier.Issue(staffID, "visitctl", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return verifier.Verify(token)
}

func (a *app) client() (*backend.Client, error) {
	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("visit-backend"), a.logger)
	if err != nil {
		return nil, err
	}
	return backend.NewClient(backend.Config{
		BaseURL: a.cfg.BackendURL,
		Breaker: breaker,
	}, a.logger)
}
