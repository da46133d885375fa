package main

import (
	"context"
	"flag"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/wuwenbin0122/credauth/config"
	"github.com/wuwenbin0122/credauth/internal/auth"
	"github.com/wuwenbin0122/credauth/internal/db"
)

const upsertUser = `INSERT INTO users (id, name, email, password, created_at, updated_at)
VALUES ($1, $2, $3, $4, NOW(), NOW())
ON CONFLICT (email) DO UPDATE
SET name = EXCLUDED.name, password = EXCLUDED.password, updated_at = NOW()
RETURNING id`

func main() {
	email := flag.String("email", "user@nextmail.com", "email of the user to seed")
	password := flag.String("password", "123456", "plaintext password, stored as a bcrypt hash")
	name := flag.String("name", "User", "display name")
	flag.Parse()

	creds, err := auth.ParseCredentials(map[string]any{"email": *email, "password": *password})
	if err != nil {
		log.Fatalf("seed user: %v", err)
	}

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

	hash, err := auth.NewBcryptHasher(cfg.Auth.BcryptCost).Hash(creds.Password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	var id string
	if err := postgres.Pool.QueryRow(ctx, upsertUser, uuid.NewString(), strings.TrimSpace(*name), creds.Email, hash).Scan(&id); err != nil {
		log.Fatalf("upsert user: %v", err)
	}

	log.Printf("seeded user %s (%s)", creds.Email, id)
}
