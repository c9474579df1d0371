package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"bountyflow/auth"
	"bountyflow/config"
	"bountyflow/db"
	"bountyflow/escrow"
	"bountyflow/token"
)

func main() {
	ctx := context.Background()

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	server := &Server{
		authService:   auth.NewService(auth.NewRepository(pool), jwtSecret),
		configService: config.NewService(pool, nil),
		escrowService: escrow.NewEngine(pool, nil, nil, nil, nil),
		balances:      token.NewLedger(),
		pool:          pool,
	}

	log.Printf("listening on %s", addr)
	if err := http.ListenAndServe(addr, server.routes()); err != nil {
		log.Fatalf("http server: %v", err)
	}
}
