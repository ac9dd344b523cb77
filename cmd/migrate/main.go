package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/pantrypilot/pantrypilot-backend/pkg/config"
	"github.com/pantrypilot/pantrypilot-backend/pkg/database"
	"github.com/pantrypilot/pantrypilot-backend/pkg/logger"
	"github.com/pantrypilot/pantrypilot-backend/pkg/migrate"
)

func main() {
	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|redo|reset|to|files")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=to")
	flag.Parse()

	if *cmd == "files" {
		files, err := migrate.Files()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to list migrations: %v\n", err)
			os.Exit(1)
		}
		for _, f := range files {
			fmt.Println(f)
		}
		return
	}

	cfg, err := config.Load("inventory-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("migrate", cfg.Server.Environment)

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx := context.Background()
	if *cmd == "to" {
		err = migrate.MigrateToVersion(ctx, db.DB.DB, *version)
	} else {
		err = migrate.Run(ctx, db.DB.DB, *cmd)
	}
	if err != nil {
		log.Error().Err(err).Str("cmd", *cmd).Msg("migration failed")
		os.Exit(1)
	}

	log.Info().Str("cmd", *cmd).Msg("migration finished")
}
