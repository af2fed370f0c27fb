package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"transitwatch/db"
	"transitwatch/incident"
	"transitwatch/transit"
	"transitwatch/user"
	"transitwatch/verification"
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

	userService := user.NewService(user.NewRepository(pool), jwtSecret)
	transitService := transit.NewService(transit.NewRepository(pool))
	incidentService := incident.NewService(pool, incident.NewRepository(pool), transitService, userService, user.ReportReward)
	verificationService := verification.NewService(pool, verification.NewRepository(pool), userService, user.ConfirmReward)

	server := &Server{
		userService:         userService,
		transitService:      transitService,
		incidentService:     incidentService,
		verificationService: verificationService,
	}

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8000"
	}

	log.Printf("transitwatch api listening on %s", addr)
	if err := http.ListenAndServe(addr, server.Routes()); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
