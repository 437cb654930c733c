package main

import (
	"context"
	"log"

	"github.com/everkeep/everkeep/internal/client/cli"
	"github.com/everkeep/everkeep/internal/client/config"
)

func main() {
	app, err := cli.NewApp(config.LoadConfig())
	if err != nil {
		log.Fatalf("cli init: %v", err)
	}
	app.Run(context.Background())
}
