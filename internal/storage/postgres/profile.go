package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/influencer-settlement/internal/domain/payout"
)

const (
	getProfileSQL = `SELECT id, name, email, payment_method, account_holder, cvu, alias, bank_name,
		mercadopago_email FROM influencers WHERE id = $1`

	upsertProfileSQL = `INSERT INTO influencers (id, name, email, payment_method, account_holder, cvu,
		alias, bank_name, mercadopago_email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email,
			payment_method = EXCLUDED.payment_method, account_holder = EXCLUDED.account_holder,
			cvu = EXCLUDED.cvu, alias = EXCLUDED.alias, bank_name = EXCLUDED.bank_name,
			mercadopago_email = EXCLUDED.mercadopago_email`
)

var _ payout.ProfileStore = (*ProfileRepository)(nil)

// ProfileRepository reads influencer profiles from PostgreSQL.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository returns a ProfileRepository that uses the given pool.
func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

func (r *ProfileRepository) GetProfile(ctx context.Context, influencerID string) (*payout.Profile, error) {
	if !isUUID(influencerID) {
		return nil, payout.ErrProfileNotFound
	}
	rows, err := conn(ctx, r.pool).Query(ctx, getProfileSQL, influencerID)
	if err != nil {
		return nil, fmt.Errorf("querying influencer %q: %w", influencerID, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (payout.Profile, error) {
		var (
			p      payout.Profile
			method string
		)
		err := row.Scan(&p.InfluencerID, &p.Name, &p.Email, &method, &p.AccountHolder, &p.CVU,
			&p.Alias, &p.BankName, &p.MercadoPagoEmail)
		p.Method = payout.Method(method)
		return p, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payout.ErrProfileNotFound
		}
		return nil, fmt.Errorf("scanning influencer %q: %w", influencerID, err)
	}
	return &p, nil
}

// SaveProfile inserts or replaces an influencer profile.
func (r *ProfileRepository) SaveProfile(ctx context.Context, p payout.Profile) error {
	_, err := conn(ctx, r.pool).Exec(ctx, upsertProfileSQL,
		p.InfluencerID, p.Name, p.Email, string(p.Method), p.AccountHolder, p.CVU,
		p.Alias, p.BankName, p.MercadoPagoEmail,
	)
	if err != nil {
		return fmt.Errorf("saving influencer %q: %w", p.InfluencerID, err)
	}
	return nil
}
