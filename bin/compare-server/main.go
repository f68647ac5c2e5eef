package main

import (
	"change-detector/internal/env"
	"change-detector/internal/runnable"
	"context"
	"flag"
	"log"
)

func main() {
	if err := env.Load(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}

	flag.BoolVar(&runnable.Debug, "debug", env.OrDefault("DEBUG", false), "Enable text logs and /debug/pprof")
	flag.Parse()

	if err := runnable.NewServer().Start(context.Background()); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
