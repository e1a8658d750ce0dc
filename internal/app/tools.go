package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"craftybot/internal/config"
	"craftybot/internal/crafty"
	"craftybot/internal/report"
	"craftybot/internal/storage"
	logx "craftybot/pkg/logx"
)

func loadOffline(cfgPath string) (*config.Config, error) {
	cfg, err := config.Parse(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s:\n%w", cfgPath, err)
	}
	return cfg, nil
}

// RenderOnce fetches one snapshot and renders it exactly like a broadcast
// cycle would, without touching Telegram or storage.
func RenderOnce(ctx context.Context, cfgPath string, log logx.Logger) (string, error) {
	cfg, err := loadOffline(cfgPath)
	if err != nil {
		return "", err
	}
	src := crafty.New(mapCrafty(cfg), log.With(logx.String("comp", "crafty")))
	stats, err := src.FetchSnapshot(ctx)
	if err != nil {
		return "", err
	}
	var opt report.Options
	if cfg.Broadcast.ShowGeneratedAt {
		opt.GeneratedAt = time.Now()
		opt.Location = cfg.Broadcast.Location()
	}
	return report.RenderWith(stats, opt), nil
}

// Subscribers lists the recipients in the configured store.
func Subscribers(ctx context.Context, cfgPath string, log logx.Logger) ([]storage.RecipientState, error) {
	cfg, err := loadOffline(cfgPath)
	if err != nil {
		return nil, err
	}
	sc := mapStorage(cfg)
	st, err := storage.Open(ctx, sc, log)
	if errors.Is(err, storage.ErrDisabled) {
		return nil, errors.New("storage is disabled (storage.driver=none); nothing is persisted")
	}
	if err != nil {
		return nil, fmt.Errorf("storage %s: %w", sc.Driver, err)
	}
	defer st.Close()
	return st.All(ctx)
}
