package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"freightline/internal/config"
)

func (r Repo) UpsertMarketplaceConfig(ctx context.Context, marketplaceID string, cfg *config.Config) error {
	return upsertMarketplaceConfig(ctx, r.DB, nil, marketplaceID, cfg)
}

func (r Repo) UpsertMarketplaceConfigTx(ctx context.Context, tx *sql.Tx, marketplaceID string, cfg *config.Config) error {
	return upsertMarketplaceConfig(ctx, nil, tx, marketplaceID, cfg)
}

func upsertMarketplaceConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, marketplaceID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Marketplace.ID = marketplaceID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO marketplace_configs(marketplace_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(marketplace_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, marketplaceID, string(payload), now, now)
	return err
}

func (r Repo) GetMarketplaceConfig(ctx context.Context, marketplaceID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM marketplace_configs WHERE marketplace_id=?`, marketplaceID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Marketplace.ID == "" {
		cfg.Marketplace.ID = marketplaceID
	}
	return &cfg, cfg.Validate()
}
