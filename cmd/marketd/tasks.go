package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/marketplace/pkg/config"
	"github.com/Mindburn-Labs/marketplace/pkg/identity"
	"github.com/Mindburn-Labs/marketplace/pkg/market"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openStore(cmd.Context(), config.Load())
		if err != nil {
			return err
		}
		defer db.Close()
		fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
		return nil
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire-pending",
	Short: "Cancel pending bookings whose date has passed",
	Long:  "Cancels every pending booking dated before today. Intended to run from cron.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), config.Load())
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		n, err := a.lifecycle.ExpireStalePending(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "expired %d pending booking(s)\n", n)
		return nil
	},
}

var (
	tokenUser string
	tokenType string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a user",
	Long:  "Signs a token with the server key file. Useful for local testing and service accounts.",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "User ID (required)")
	tokenCmd.Flags().StringVar(&tokenType, "type", string(market.UserCustomer), "User type: customer or provider")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	keys, err := identity.LoadKeyFile(cfg.KeyFile)
	if err != nil {
		return err
	}
	tm := identity.NewTokenManager(keys, identity.WithIssuer(cfg.JWTIssuer))
	tok, err := tm.Issue(cmd.Context(), market.Actor{ID: tokenUser, Type: market.UserType(tokenType)}, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
