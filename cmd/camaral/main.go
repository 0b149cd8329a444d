package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/danielbolivar/makers-challenge/internal/camaral/app"
	"github.com/danielbolivar/makers-challenge/internal/camaral/config"
	"github.com/danielbolivar/makers-challenge/internal/camaral/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	observability.Setup(cfg.LogLevel, cfg.LogFormat)

	a, err := app.New(cfg, slog.Default())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize camaral: %v\n", err)
		os.Exit(1)
	}
	defer a.Stop()

	if err := a.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running camaral: %v\n", err)
		os.Exit(1)
	}
}
