package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"khip-entitlements/internal/domain"
	"khip-entitlements/internal/domain/model"
	"khip-entitlements/internal/domain/ports/repository"
	"khip-entitlements/internal/ids"
)

// Ensure purchaseRepo implements repository.PurchaseRepository
var _ repository.PurchaseRepository = (*purchaseRepo)(nil)

const (
	purchaseColumns = `id, user_id, type, company_id, company_name, status, amount, currency,
       purchase_date, report_url, delivery_date, subscription_end_date, trial_end_date, version`

	trialUniqueIndex = "purchases_one_trial_per_user"
)

type purchaseRepo struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPurchaseRepo(pool *pgxpool.Pool) *purchaseRepo {
	return &purchaseRepo{pool: pool, now: time.Now}
}

func (r *purchaseRepo) Create(ctx context.Context, tx repository.Tx, in model.PurchaseInput) (*model.Purchase, error) {
	now := r.now().UTC().Truncate(time.Microsecond) // postgres timestamp precision
	p, err := model.NewPurchase(ids.NewAt(now), in, now)
	if err != nil {
		return nil, err
	}
	reportURL, delivery, subEnd, trialEnd := flattenTerms(p.Terms)

	const q = `
INSERT INTO purchases (` + purchaseColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14);`
	_, err = execSQL(ctx, r.pool, tx, q,
		p.ID, p.UserID, string(p.Type), p.CompanyID, p.CompanyName, string(p.Status), p.Amount, p.Currency,
		p.PurchaseDate, reportURL, delivery, subEnd, trialEnd, p.Version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == trialUniqueIndex {
			return nil, fmt.Errorf("%w: user %s", domain.ErrTrialAlreadyUsed, p.UserID)
		}
		return nil, mapErr("insert purchase", err)
	}
	return p, nil
}

// FindByID locks the row when called inside a transaction.
func (r *purchaseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Purchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id=$1`
	if inTx(tx) {
		q += ` FOR UPDATE`
	}
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	p, err := scanPurchase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, mapErr("find purchase", err)
	}
	return p, nil
}

func (r *purchaseRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Purchase, error) {
	const q = `SELECT ` + purchaseColumns + `
  FROM purchases
 WHERE user_id=$1
 ORDER BY purchase_date ASC, id ASC;`
	return r.list(ctx, tx, q, userID)
}

func (r *purchaseRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Purchase, error) {
	const q = `SELECT ` + purchaseColumns + `
  FROM purchases
 ORDER BY purchase_date ASC, id ASC;`
	return r.list(ctx, tx, q)
}

func (r *purchaseRepo) ListByStatus(ctx context.Context, tx repository.Tx, statuses ...model.PurchaseStatus) ([]*model.Purchase, error) {
	if len(statuses) == 0 {
		return []*model.Purchase{}, nil
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	const q = `SELECT ` + purchaseColumns + `
  FROM purchases
 WHERE type IN ('single-report','custom-report')
   AND status = ANY($1::text[])
 ORDER BY purchase_date ASC, id ASC;`
	return r.list(ctx, tx, q, names)
}

func (r *purchaseRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.PurchaseStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM purchases GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, mapErr("count purchases", err)
	}
	defer rows.Close()
	out := make(map[model.PurchaseStatus]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[model.PurchaseStatus(s)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

// Update is a single compare-and-set statement. When no row matches, the
// current record is re-read to tell a missing purchase from a lost race.
func (r *purchaseRepo) Update(ctx context.Context, tx repository.Tx, id string, patch model.PurchasePatch) (*model.Purchase, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, *patch.Status)
	}
	var status *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}
	var delivery *time.Time
	if patch.DeliveryDate != nil {
		d := patch.DeliveryDate.UTC()
		delivery = &d
	}
	reportFields := patch.ReportURL != nil || patch.DeliveryDate != nil

	const q = `
UPDATE purchases
   SET status        = COALESCE($2, status),
       report_url    = COALESCE($3, report_url),
       delivery_date = COALESCE($4, delivery_date),
       version       = version + 1
 WHERE id = $1
   AND ($5::text = '' OR status = $5::text)
   AND ($6::int = 0 OR version = $6::int)
   AND (NOT $7::bool OR type IN ('single-report','custom-report'))
RETURNING ` + purchaseColumns + `;`
	row, err := pickRow(ctx, r.pool, tx, q, id, status, patch.ReportURL, delivery,
		string(patch.ExpectedStatus), patch.ExpectedVersion, reportFields)
	if err != nil {
		return nil, err
	}
	p, err := scanPurchase(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, mapErr("update purchase", err)
	}

	cur, ferr := r.FindByID(ctx, tx, id)
	if ferr != nil {
		return nil, ferr
	}
	if aerr := cur.Apply(patch); aerr != nil {
		return nil, aerr
	}
	return nil, fmt.Errorf("%w: purchase %s changed during update", domain.ErrConcurrencyConflict, id)
}

func (r *purchaseRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Purchase, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr("list purchases", err)
	}
	defer rows.Close()
	out := make([]*model.Purchase, 0)
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanPurchase(row pgx.Row) (*model.Purchase, error) {
	var (
		p                          model.Purchase
		typ, status                string
		reportURL                  *string
		delivery, subEnd, trialEnd *time.Time
	)
	err := row.Scan(&p.ID, &p.UserID, &typ, &p.CompanyID, &p.CompanyName, &status, &p.Amount, &p.Currency,
		&p.PurchaseDate, &reportURL, &delivery, &subEnd, &trialEnd, &p.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	p.Type = model.PurchaseType(typ)
	p.Status = model.PurchaseStatus(status)
	p.PurchaseDate = p.PurchaseDate.UTC()

	url := ""
	if reportURL != nil {
		url = *reportURL
	}
	p.Terms, err = model.AssembleTerms(p.Type, url, delivery, subEnd, trialEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: purchase %s: %v", domain.ErrReadDatabaseRow, p.ID, err)
	}
	return &p, nil
}

func flattenTerms(t model.Terms) (reportURL *string, delivery, subEnd, trialEnd *time.Time) {
	switch v := t.(type) {
	case model.ReportTerms:
		if v.ReportURL != "" {
			u := v.ReportURL
			reportURL = &u
		}
		delivery = v.DeliveryDate
	case model.PlanTerms:
		end := v.SubscriptionEndDate
		subEnd = &end
	case model.TrialTerms:
		end := v.TrialEndDate
		trialEnd = &end
	}
	return
}

func mapErr(op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidExecContext),
		errors.Is(err, domain.ErrReadDatabaseRow),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %s: %v", domain.ErrOperationFailed, op, err)
	}
}
