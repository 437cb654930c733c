package main

import (
	"context"
	"log"

	"github.com/everkeep/everkeep/internal/server"
	"github.com/everkeep/everkeep/internal/server/config"
)

func main() {
	app, err := server.NewApp(config.LoadConfig())
	if err != nil {
		log.Fatalf("server init: %v", err)
	}
	app.Run(context.Background())
}
