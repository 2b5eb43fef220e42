// seed-admin creates or updates a backoffice admin account.
//
// Usage: seed-admin -username ops -name "Operations" -password <secret>
package main

import (
	"flag"
	"log"

	"github.com/joho/godotenv"

	"github.com/dotaduels/backend/internal/admin"
	"github.com/dotaduels/backend/internal/config"
	"github.com/dotaduels/backend/internal/database"
)

func main() {
	username := flag.String("username", "", "admin username")
	displayName := flag.String("name", "", "display name")
	password := flag.String("password", "", "plaintext password to hash")
	flag.Parse()

	if *username == "" || *password == "" {
		log.Fatal("both -username and -password are required")
	}

	godotenv.Load()
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL must be set to seed an admin account")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := admin.CreateAdminAccount(db, *username, *displayName, *password); err != nil {
		log.Fatalf("Failed to seed admin account: %v", err)
	}

	log.Printf("Admin account %q seeded", *username)
}
