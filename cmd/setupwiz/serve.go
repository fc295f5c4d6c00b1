package main

import (
	"context"
	"fmt"

	"setupwiz/internal/adapter/gateway"
	"setupwiz/internal/adapter/validator"
	"setupwiz/internal/infra/logger"
	"setupwiz/internal/usecase/eventbus"
)

// runServe exposes the local SQLite authority over HTTP so wizards on other
// hosts can run in remote mode against it.
func runServe(ctx context.Context) error {
	cfg, log, cleanup, err := bootstrap(ctx, configPath())
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.Authority.Mode == "remote" {
		return fmt.Errorf("serve needs authority.mode local, got %q", cfg.Authority.Mode)
	}
	if cfg.Server.Token == "" {
		log.Warn("authority server runs without a token; any client can change state")
	}

	m := newMetrics(cfg)
	store, _, err := openAuthorities(cfg, log, m)
	if err != nil {
		return err
	}
	defer store.Close()

	v, err := validator.New(cfg.Validation, nil, logger.Component(log, "validator"))
	if err != nil {
		return err
	}
	bus := eventbus.New(logger.Component(log, "eventbus"))
	defer bus.Close()

	srv := gateway.NewServer(gateway.Deps{
		Resume:      store,
		Versions:    store,
		Checkpoints: store.Checkpoints(),
		Install:     store,
		Validator:   v,
		Bus:         bus,
		Metrics:     m,
	}, cfg.Server, logger.Component(log, "gateway"))
	return srv.Start(ctx)
}
