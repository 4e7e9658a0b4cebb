package repo

import (
	"context"
	"database/sql"

	"freightline/internal/domain"
)

func scanParty(row rowScanner) (domain.Party, error) {
	var p domain.Party
	var role, carrierType string
	err := row.Scan(&p.ID, &p.Name, &role, &carrierType, &p.Verified, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Role = domain.PartyRole(role)
	p.CarrierType = domain.CarrierType(carrierType)
	return p, nil
}

func (r Repo) InsertParty(ctx context.Context, p domain.Party) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO parties(id,name,role,carrier_type,verified,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Name, string(p.Role), nullable(string(p.CarrierType)), p.Verified, p.CreatedAt)
	return err
}

func (r Repo) GetParty(ctx context.Context, id string) (domain.Party, error) {
	return scanParty(r.DB.QueryRowContext(ctx, `SELECT id,name,role,COALESCE(carrier_type,''),verified,created_at FROM parties WHERE id=?`, id))
}

func (r Repo) SetPartyVerified(ctx context.Context, id string, verified bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE parties SET verified=? WHERE id=?`, verified, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListParties(ctx context.Context, role domain.PartyRole) ([]domain.Party, error) {
	query := `SELECT id,name,role,COALESCE(carrier_type,''),verified,created_at FROM parties`
	args := []any{}
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, string(role))
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Party
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// EnsureParty inserts the party if it does not exist yet.
func (r Repo) EnsureParty(ctx context.Context, p domain.Party) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO parties(id,name,role,carrier_type,verified,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO NOTHING`,
		p.ID, p.Name, string(p.Role), nullable(string(p.CarrierType)), p.Verified, p.CreatedAt)
	return err
}
