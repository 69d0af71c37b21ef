package memory

import (
	"context"

	"github.com/jackc/pgx/v4"

	"khip-entitlements/internal/domain/ports/repository"
)

// TxManager runs fn without a transaction. The in-memory store serialises
// each call under its own lock and Update is compare-and-set, so callers see
// the same conflict semantics as with postgres.
type TxManager struct{}

var _ repository.TransactionManager = TxManager{}

func (TxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, repository.NoTX)
}
