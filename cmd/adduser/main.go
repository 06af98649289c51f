package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/dtroode/refreshguard/internal/config"
	"github.com/dtroode/refreshguard/internal/model"
	"github.com/dtroode/refreshguard/internal/password"
	"github.com/dtroode/refreshguard/internal/repository/postgres"
)

func main() {
	action := flag.String("action", "create", "Action to perform: create, delete")
	email := flag.String("email", "", "User email for create")
	name := flag.String("name", "", "Display name for create")
	plain := flag.String("password", "", "Password for create")
	id := flag.String("id", "", "User ID for delete")
	flag.Parse()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := postgres.NewConnection(ctx, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	defer db.Close()

	users := postgres.NewUserRepository(db)

	switch *action {
	case "create":
		if *email == "" || *plain == "" {
			log.Fatal("email and password are required")
		}
		hasher, err := password.NewHasher(cfg.Password)
		if err != nil {
			log.Fatalf("failed to initialize password hasher: %v", err)
		}
		hash, err := hasher.Hash(*plain)
		if err != nil {
			log.Fatalf("failed to hash password: %v", err)
		}
		now := time.Now().UTC()
		user, err := users.Create(ctx, model.User{
			Email:        *email,
			Name:         *name,
			PasswordHash: hash,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			log.Fatalf("failed to create user: %v", err)
		}
		fmt.Printf("created user %s (%s)\n", user.ID, user.Email)
	case "delete":
		userID, err := uuid.Parse(*id)
		if err != nil {
			log.Fatalf("invalid user id: %v", err)
		}
		if err := users.SoftDelete(ctx, userID); err != nil {
			log.Fatalf("failed to delete user: %v", err)
		}
		fmt.Printf("deleted user %s\n", userID)
	default:
		log.Fatalf("Unknown action: %s (use 'create' or 'delete')", *action)
	}
}
