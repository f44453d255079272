// Package main is the entrypoint for the development backend. It serves
// login, rotating refresh tokens and a few authenticated endpoints so the
// session gateway can be exercised locally.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aelexs/session-gateway/internal/config"
	"github.com/aelexs/session-gateway/internal/server"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	return server.Run(ctx, server.Params{
		Name:           "devbackend",
		PortFromConfig: func(cfg *config.Config) int { return cfg.DevBackend.HTTPPort },
		Handler:        setup,
	}, nil)
}
