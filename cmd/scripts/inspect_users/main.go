package main

import (
	"context"
	"fmt"
	"log"

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

	const query = `SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = 'public' AND table_name = 'users' ORDER BY ordinal_position`
	rows, err := postgres.Pool.Query(ctx, query)
	if err != nil {
		log.Fatalf("query columns: %v", err)
	}
	defer rows.Close()

	hasPassword := false
	fmt.Println("columns:")
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			log.Fatalf("scan: %v", err)
		}
		if name == "password" {
			hasPassword = true
		}
		fmt.Printf("- %s (%s)\n", name, dataType)
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("rows: %v", err)
	}

	if !hasPassword {
		log.Fatalf("users table has no password column")
	}
}
