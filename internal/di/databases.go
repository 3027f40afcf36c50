// Package di provides dependency injection for database connections.
package di

import (
	"fmt"
	"path/filepath"

	"github.com/FenadoAI/autopilot/internal/config"
	"github.com/FenadoAI/autopilot/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens both databases and applies their schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// 1. autopilot.db - rules, executions and per-user limits
	autopilotDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "autopilot.db"),
		Profile: database.ProfileStandard,
		Name:    database.NameAutopilot,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize autopilot database: %w", err)
	}
	container.AutopilotDB = autopilotDB

	// 2. ledger.db - hash-chained audit trail
	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger, // Maximum safety for the audit chain
		Name:    database.NameLedger,
	})
	if err != nil {
		autopilotDB.Close()
		return nil, fmt.Errorf("failed to initialize ledger database: %w", err)
	}
	container.LedgerDB = ledgerDB

	for name, db := range container.Databases() {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", name, err)
		}
	}

	log.Info().Str("data_dir", cfg.DataDir).Msg("Databases initialized")
	return container, nil
}
