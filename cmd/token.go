package cmd

import (
	"fmt"
	"time"

	"github.com/USA-RedDragon/rtz-link/internal/config"
	"github.com/USA-RedDragon/rtz-link/internal/peer"
	"github.com/spf13/cobra"
)

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a bearer token accepted by `serve`",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Peer.JWTSecret == "" {
		return config.ErrPeerJWTSecretRequired
	}
	ttl, err := cmd.Flags().GetDuration("ttl")
	if err != nil {
		return fmt.Errorf("failed to get ttl: %w", err)
	}

	token, err := peer.IssueToken(cfg.Peer.JWTSecret, args[0], ttl)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}
