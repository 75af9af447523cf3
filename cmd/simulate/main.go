package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/okian/fieldtrack/internal/simulate"
)

const defaultRunTimeout = 10 * time.Minute

func main() {
	def := simulate.DefaultConfig()
	var (
		baseURL    = flag.String("url", def.BaseURL, "Base URL of the service")
		users      = flag.Int("users", def.Users, "Number of simulated workers")
		steps      = flag.Int("steps", def.Steps, "Fixes per worker")
		stepMeters = flag.Float64("step-meters", def.StepMeters, "Distance between fixes in meters")
		interval   = flag.Duration("interval", def.StepInterval, "Device time between fixes")
		batch      = flag.Int("batch", def.BatchSize, "Fixes per upload")
		workers    = flag.Int("workers", def.Workers, "Workers simulated concurrently")
		timeout    = flag.Duration("timeout", def.Timeout, "HTTP request timeout")
		transport  = flag.String("transport", string(def.Transport), "Fix transport: http or amqp")
		amqpURL    = flag.String("amqp-url", def.AMQPURL, "Broker URL for the amqp transport")
		queue      = flag.String("queue", def.AMQPQueue, "Queue for the amqp transport")
		secret     = flag.String("secret", def.Secret, "Token signing secret; must match the service")
		issuer     = flag.String("issuer", def.Issuer, "Token issuer; must match the service")
		noReplay   = flag.Bool("no-replay", false, "Skip the duplicate replay check")
		logFile    = flag.String("log", "", "Log file (default: simulate_TIMESTAMP.log)")
		verbose    = flag.Bool("verbose", false, "Log every verified trail")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulate.ShowHelp()
		return
	}

	if err := simulate.SetupLogging(*logFile); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	cfg := def
	cfg.BaseURL = *baseURL
	cfg.Users = *users
	cfg.Steps = *steps
	cfg.StepMeters = *stepMeters
	cfg.StepInterval = *interval
	cfg.BatchSize = *batch
	cfg.Workers = *workers
	cfg.Timeout = *timeout
	cfg.Transport = simulate.Transport(*transport)
	cfg.AMQPURL = *amqpURL
	cfg.AMQPQueue = *queue
	cfg.Secret = *secret
	cfg.Issuer = *issuer
	cfg.Replay = !*noReplay
	cfg.LogFile = *logFile
	cfg.Verbose = *verbose

	if err := simulate.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1)
	}
}
