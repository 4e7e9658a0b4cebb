package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"freightline/internal/config"
	"freightline/internal/domain"
	"freightline/internal/repo"
)

// ResolveMarketplaceAndConfig ensures the marketplace config exists in the
// DB, seeding defaults when missing. The workspace config file wins over
// the stored row; the stored row wins over the built-in defaults.
func ResolveMarketplaceAndConfig(ctx context.Context, workspace, marketplaceID, actorID string, r repo.Repo) (string, *config.Config, error) {
	if marketplaceID == "" {
		marketplaceID = "default"
	}
	if fileCfg, err := config.LoadOptional(workspace); err != nil {
		return "", nil, err
	} else if fileCfg != nil {
		if fileCfg.Marketplace.ID != "" {
			marketplaceID = fileCfg.Marketplace.ID
		}
		if err := r.UpsertMarketplaceConfig(ctx, marketplaceID, fileCfg); err != nil {
			return "", nil, fmt.Errorf("store marketplace config: %w", err)
		}
		if err := ensureAdmin(ctx, r, actorID); err != nil {
			return "", nil, err
		}
		return marketplaceID, fileCfg, nil
	}

	cfg, err := r.GetMarketplaceConfig(ctx, marketplaceID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		cfg = config.Default(marketplaceID)
		if err := r.UpsertMarketplaceConfig(ctx, marketplaceID, cfg); err != nil {
			return "", nil, fmt.Errorf("seed marketplace config: %w", err)
		}
	}
	cfg.Marketplace.ID = marketplaceID
	if err := ensureAdmin(ctx, r, actorID); err != nil {
		return "", nil, err
	}
	return marketplaceID, cfg, nil
}

// ensureAdmin gives local CLI usage a working admin party to act as.
func ensureAdmin(ctx context.Context, r repo.Repo, actorID string) error {
	if actorID == "" {
		actorID = "local-admin"
	}
	now := time.Now().UTC().Format(time.RFC3339)
	return r.EnsureParty(ctx, domain.Party{
		ID:        actorID,
		Name:      actorID,
		Role:      domain.RoleAdmin,
		Verified:  true,
		CreatedAt: now,
	})
}
