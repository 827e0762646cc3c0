package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"groupkeeper-bot/internal/config"
	"groupkeeper-bot/internal/storage"
)

// Migrate runs a schema command ("up", "down" or "status") without
// starting the bot.
func Migrate(ctx context.Context, cfg *config.Config, logger *zap.Logger, command string) error {
	db, err := storage.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	switch command {
	case "up":
		return storage.RunMigrations(ctx, db.DB, cfg.Database.Driver, logger)
	case "down":
		return storage.RollbackMigration(ctx, db.DB, cfg.Database.Driver, logger)
	case "status":
		return storage.MigrationStatus(ctx, db.DB, cfg.Database.Driver, logger)
	default:
		return fmt.Errorf("unknown migrate command %q, want up, down or status", command)
	}
}
