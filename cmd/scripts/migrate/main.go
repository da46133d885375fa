package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/wuwenbin0122/credauth/config"
	"github.com/wuwenbin0122/credauth/internal/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	postgres, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer postgres.Close()

	if err := postgres.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	// quick verify
	var users int64
	if err := postgres.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&users); err != nil {
		log.Fatalf("verify users table: %v", err)
	}

	fmt.Printf("users table ready (%d rows), done at %s\n", users, time.Now().Format(time.RFC3339))
}
