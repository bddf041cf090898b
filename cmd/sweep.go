package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/preetsinghmakkar/TeleConsult/internal/database"
	"github.com/preetsinghmakkar/TeleConsult/internal/repositories"
	"github.com/preetsinghmakkar/TeleConsult/internal/services"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Clear expired guest links once and exit",
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	db, err := database.Open(ctx, cfg.DSN())
	if err != nil {
		return err
	}
	defer db.Close()

	lifecycle := services.NewVideoSessionService(repositories.NewVideoSessionRepository(db), nil, nil, nil, cfg.PublicBaseURL)
	n, err := lifecycle.SweepExpiredLinks(ctx, time.Now())
	if err != nil {
		return err
	}
	log.Info().Str("module", "sweep").Int64("cleared", n).Msg("done")
	return nil
}
