package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/broadcast-hub/utils"
	"gorm.io/gorm"
)

// audiencePreviewQuery wraps a validated fragment. The fragment is never
// parsed for placeholders, only the outer LIMIT is bound. Newlines keep a
// trailing line comment from swallowing the closing parenthesis.
const audiencePreviewQuery = "SELECT DISTINCT user_id FROM (\n%s\n) AS _sub LIMIT $1"

// AudienceSQLRepositoryImpl implements the AudienceSQLRepository interface
type AudienceSQLRepositoryImpl struct {
	db *gorm.DB
}

// NewAudienceSQLRepository creates a new audience SQL repository
func NewAudienceSQLRepository(db *gorm.DB) AudienceSQLRepository {
	return &AudienceSQLRepositoryImpl{db: db}
}

// PreviewUserIDs runs the fragment and returns its distinct user ids.
// NULL and non-integer values are skipped.
func (r *AudienceSQLRepositoryImpl) PreviewUserIDs(ctx context.Context, fragment string, limit int) ([]int64, error) {
	if limit < 0 {
		limit = 0
	}

	db := r.db.WithContext(ctx)
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); ok && tx != nil {
		db = tx
	}

	rows, err := db.Statement.ConnPool.QueryContext(ctx, fmt.Sprintf(audiencePreviewQuery, fragment), limit)
	if err != nil {
		return nil, fmt.Errorf("audience query failed: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan audience row: %w", err)
		}
		if id, ok := utils.ToInt64(raw); ok {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audience query failed: %w", err)
	}

	return ids, nil
}
