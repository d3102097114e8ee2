package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-payments-backend/internal/domain"
)

// TransactionsStats fingerprints the rows matching f for list ETags: how many
// there are and the latest UpdatedAt among them (nil when none match).
//
// The latest row is read first so an empty result costs one query. The
// timestamp comes from ordering rather than MAX(), which SQLite returns as
// TEXT.
func TransactionsStats(ctx context.Context, db *gorm.DB, f TransactionFilter) (int64, *time.Time, error) {
	var latest struct{ UpdatedAt time.Time }
	err := f.apply(db.WithContext(ctx).Model(&domain.Transaction{})).
		Select("updated_at").
		Order("updated_at DESC").
		Take(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}

	var n int64
	if err := f.apply(db.WithContext(ctx).Model(&domain.Transaction{})).Count(&n).Error; err != nil {
		return 0, nil, err
	}
	ts := latest.UpdatedAt.UTC()
	return n, &ts, nil
}
