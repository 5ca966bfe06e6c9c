package main

import (
	"log"
	"os"
	"strconv"

	"github.com/rawblock/coinselect-engine/internal/api"
	"github.com/rawblock/coinselect-engine/internal/db"
	"github.com/rawblock/coinselect-engine/internal/selection"
)

func main() {
	log.Println("Starting RawBlock Coin Selection Engine (Microservice: btc-utxo-milp)...")

	// ─── Environment Variables ──────────────────────────────────────────
	// DATABASE_URL is optional: without it the engine still solves, it
	// just keeps no run history. Settings are read from the process
	// environment only; no .env file is loaded.
	// ────────────────────────────────────────────────────────────────────

	var dbConn *db.PostgresStore
	if dbUrl := os.Getenv("DATABASE_URL"); dbUrl != "" {
		conn, err := db.Connect(dbUrl)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without run history. Error: %v", err)
		} else {
			dbConn = conn
			defer dbConn.Close()
			if err := dbConn.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
		}
	} else {
		log.Println("DATABASE_URL not set — engine running without run history")
	}

	timeLimit := selection.DefaultTimeLimitSeconds
	if raw := os.Getenv("SOLVER_TIME_LIMIT_SECONDS"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			log.Fatalf("FATAL: SOLVER_TIME_LIMIT_SECONDS must be a positive integer, got %q", raw)
		}
		timeLimit = parsed
	}
	solver := selection.NewSolver(timeLimit)
	log.Printf("Solver configured with a %ds wall-clock limit per solve", timeLimit)

	// Setup WebSocket Hub for solve event streaming
	wsHub := api.NewHub()
	go wsHub.Run()

	// Setup the Gin Router
	r := api.SetupRouter(dbConn, wsHub, solver)

	port := getEnvOrDefault("PORT", "5341")

	// Start the server
	log.Printf("Engine running on :%s (API Node: btc-utxo-milp)\n", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
