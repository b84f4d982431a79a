package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/authgate/internal/gateway"
	"github.com/dmitrijs2005/authgate/internal/gateway/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := gateway.NewApp(ctx, cfg)

	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}

}
