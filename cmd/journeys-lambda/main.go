package main

import (
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/aretw0/journeys/internal/cli"
	"github.com/aretw0/journeys/internal/config"
	"github.com/aretw0/journeys/internal/transport/lambdatransport"
)

// The intake only enqueues first steps; workers consume the shared queue elsewhere,
// so the configuration should point every store and the queue at Redis or SQLite.
func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal(err)
	}
	cfg.Log.Format = "json"
	logger, err := cli.NewLogger(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	app, err := cli.NewApp(cfg, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer app.Close()

	h := lambdatransport.NewHandler(app.Engine, logger)
	lambda.Start(h.HandleSQS)
}
