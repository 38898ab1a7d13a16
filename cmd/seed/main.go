package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"perspective-engine/backend/internal/config"
	"perspective-engine/backend/internal/logging"
	"perspective-engine/backend/internal/repository"
	"perspective-engine/backend/pkg/models"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	configFile := flag.String("config", "", "Path to config file")
	userID := flag.String("user", "", "User to seed history for (default: workflow.demo_user_id)")
	flag.Parse()

	// Load config
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *userID == "" {
		*userID = cfg.Workflow.DemoUserID
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}

	// 1. Skip users that already have history
	existing, err := store.RecentDecisions(ctx, *userID, 1)
	if err != nil {
		log.Fatalf("Failed to read history: %v", err)
	}
	if len(existing) > 0 {
		logger.Info("History already present, nothing to seed", "user_id", *userID)
		return
	}

	// 2. Seed past decisions, oldest first
	seeds := []struct {
		Prompt   string
		Analysis string
	}{
		{
			"Should I move our team from a monorepo to separate repositories?",
			"Consider who pays the coordination cost. Separate repos move it from the build system to people.",
		},
		{
			"Should we hire a senior engineer or two juniors?",
			"Look at who would mentor the juniors and what that does to the roadmap for the next two quarters.",
		},
		{
			"Should I accept a job offer with higher pay but a longer commute?",
			"Price the commute in hours per year and ask what you would do with them.",
		},
	}

	start := time.Now().UTC().Add(-time.Duration(len(seeds)) * time.Hour)
	for i, s := range seeds {
		entry := &models.DecisionEntry{
			UserID:    *userID,
			Prompt:    s.Prompt,
			Analysis:  s.Analysis,
			Timestamp: start.Add(time.Duration(i) * time.Hour),
		}
		if err := store.SaveDecision(ctx, entry); err != nil {
			log.Printf("Failed to seed decision %q: %v", s.Prompt, err)
			continue
		}
		logger.Info("Seeded decision", "id", entry.ID, "user_id", *userID)
	}
	logger.Info("Seeding complete!")
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Repository, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return repository.NewPostgresStore(pool), nil
	case "sqlite":
		return repository.NewSQLiteStore(cfg.Storage.SQLitePath)
	default:
		return nil, fmt.Errorf("storage driver %q cannot be seeded", cfg.Storage.Driver)
	}
}
