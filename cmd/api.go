package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/preetsinghmakkar/TeleConsult/internal/application"
	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run the HTTP + WebSocket signaling API",
	RunE:  runAPI,
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	api, err := application.NewAPI(ctx, cfg)
	if err != nil {
		return err
	}
	return api.Run(ctx)
}
