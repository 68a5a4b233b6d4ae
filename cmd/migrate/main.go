package main

import (
	"context"
	"flag"
	"log"

	"go.uber.org/zap"

	"github.com/noah-isme/course-commerce-api/pkg/config"
	"github.com/noah-isme/course-commerce-api/pkg/database"
	"github.com/noah-isme/course-commerce-api/pkg/logger"
)

func main() {
	dir := flag.String("dir", "migrations", "directory holding *.up.sql / *.down.sql files")
	direction := flag.String("direction", "up", "up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logg, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logg.Sync() //nolint:errcheck

	ctx := context.Background()
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logg.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	files, err := database.Migrate(ctx, db, *dir, *direction)
	if err != nil {
		logg.Fatal("migration failed", zap.Error(err))
	}
	logg.Info("migrations applied", zap.String("direction", *direction), zap.Strings("files", files))
}
