package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sweeney/nightskip/internal/config"
	"github.com/sweeney/nightskip/internal/logic"
	"github.com/sweeney/nightskip/internal/status"
)

// engine applies control commands to the controller and the settings file.
// It runs on the loop goroutine only.
type engine struct {
	store      *config.Store
	cfg        config.Config
	controller *logic.Controller
	tracker    *status.Tracker
	logger     *slog.Logger
}

// Reload re-reads the settings file and restarts the quorum from scratch.
func (e *engine) Reload(context.Context) error {
	cfg, wrote := e.store.Load()
	e.cfg = cfg
	e.controller.Reset(cfg.Settings())
	e.tracker.SetRules(status.RulesFrom(e.controller.Settings()))
	e.logger.Info("settings reloaded",
		"path", e.store.Path(),
		"rewritten", wrote,
		"percent", cfg.RequiredPercent,
		"delay", cfg.DelaySeconds,
		"night_start", cfg.NightStart.String(),
		"night_end", cfg.NightEnd.String(),
	)
	return nil
}

// SetPercent changes the required share. The new value is live even when
// saving fails.
func (e *engine) SetPercent(_ context.Context, percent float64) (float64, error) {
	e.apply(e.cfg.WithPercent(percent))
	if err := e.store.Save(e.cfg); err != nil {
		return e.cfg.RequiredPercent, fmt.Errorf("save percent: %w", err)
	}
	return e.cfg.RequiredPercent, nil
}

// SetDelay changes the skip delay in seconds.
func (e *engine) SetDelay(_ context.Context, seconds int) (int, error) {
	e.apply(e.cfg.WithDelay(seconds))
	if err := e.store.Save(e.cfg); err != nil {
		return e.cfg.DelaySeconds, fmt.Errorf("save delay: %w", err)
	}
	return e.cfg.DelaySeconds, nil
}

func (e *engine) apply(cfg config.Config) {
	e.cfg = cfg
	e.controller.Configure(cfg.Settings())
	e.tracker.SetRules(status.RulesFrom(e.controller.Settings()))
	e.logger.Info("settings changed", "percent", cfg.RequiredPercent, "delay", cfg.DelaySeconds)
}
