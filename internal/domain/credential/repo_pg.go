package credential

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/neuroscan/neuroscan/internal/platform/db"
)

type repoPG struct {
	q db.Querier
}

func NewRepo(q db.Querier) Repository {
	return &repoPG{q: q}
}

func (r *repoPG) Create(ctx context.Context, c *Credential) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO doc_auth (name, email, reg_no, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		c.Name, c.Email, c.RegNo, c.PasswordHash,
	).Scan(&c.ID, &c.CreatedAt)
	return db.Wrap("insert credential", err)
}

func (r *repoPG) GetByEmail(ctx context.Context, email string) (*Credential, error) {
	var c Credential
	err := r.q.QueryRow(ctx, `
		SELECT id, name, email, reg_no, password_hash, created_at
		FROM doc_auth WHERE email = $1`, email,
	).Scan(&c.ID, &c.Name, &c.Email, &c.RegNo, &c.PasswordHash, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, db.Wrap("select credential", err)
	}
	return &c, nil
}
