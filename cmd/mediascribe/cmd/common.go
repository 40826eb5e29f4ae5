package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"

	"github.com/mediascribe/mediascribe/internal/config"
	"github.com/mediascribe/mediascribe/internal/logging"
	"github.com/mediascribe/mediascribe/internal/provider"
	"github.com/mediascribe/mediascribe/internal/workflow"
)

// appDeps holds the collaborators every run-driving command needs.
type appDeps struct {
	Config       *config.Config
	Logger       *logging.Logger
	Registry     *provider.Registry
	Orchestrator *workflow.Orchestrator
}

// initApp loads configuration through the global viper (so flag bindings
// apply) and wires the orchestrator.
func initApp() (*appDeps, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	registry := provider.NewRegistry()

	return &appDeps{
		Config:       cfg,
		Logger:       logger,
		Registry:     registry,
		Orchestrator: workflow.New(cfg, registry, logger),
	}, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM. The
// orchestrator treats cancellation as an interruption, not a failure: the
// run stays resumable.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
