package businessflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAudienceSQL(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		wantErr error
	}{
		{"plain select", "SELECT user_id FROM user_subscriptions", nil},
		{"lowercase select with leading spaces", "   select user_id from t", nil},
		{"line comment before select", "-- active users\nSELECT user_id FROM t", nil},
		{"block comment before select", "/* audience */ SELECT user_id FROM t", nil},
		{"mixed comments before select", "/* a */\n-- b\n  SELECT user_id FROM t", nil},
		{"column containing keyword", "SELECT user_id, updated_at, created_by FROM t", nil},
		{"empty", "", ErrAudienceSQLEmpty},
		{"whitespace only", " \n\t ", ErrAudienceSQLEmpty},
		{"not a select", "WITH x AS (SELECT user_id FROM t) SELECT user_id FROM x", ErrAudienceSQLNotSelect},
		{"comment without select", "-- only a comment", ErrAudienceSQLNotSelect},
		{"unterminated block comment", "/* SELECT user_id FROM t", ErrAudienceSQLNotSelect},
		{"selectx is not select", "SELECTx user_id FROM t", ErrAudienceSQLNotSelect},
		{"semicolon", "SELECT user_id FROM t;", ErrAudienceSQLForbiddenKeyword},
		{"stacked statement", "SELECT user_id FROM t; DROP TABLE t", ErrAudienceSQLForbiddenKeyword},
		{"delete keyword", "SELECT user_id FROM t WHERE EXISTS (DELETE FROM x)", ErrAudienceSQLForbiddenKeyword},
		{"mixed case forbidden", "SELECT user_id FROM t WHERE a = 1 oR TrUnCaTe", ErrAudienceSQLForbiddenKeyword},
		{"attach", "SELECT user_id FROM t attach", ErrAudienceSQLForbiddenKeyword},
		{"missing user_id", "SELECT id FROM t", ErrAudienceSQLMissingUserID},
		{"user_id as part of a word", "SELECT user_ids FROM t", ErrAudienceSQLMissingUserID},
		{"too long", "SELECT user_id FROM t WHERE x = '" + strings.Repeat("a", 100_000) + "'", ErrAudienceSQLTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAudienceSQL(tt.sql)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestValidateAudienceSQL_LengthBoundary(t *testing.T) {
	base := "SELECT user_id FROM t WHERE x = ''"
	exact := base[:len(base)-1] + strings.Repeat("a", 100_000-len(base)) + "'"
	require.Len(t, exact, 100_000)
	assert.NoError(t, ValidateAudienceSQL("  "+exact+"  "))
}

func TestAudienceSQLGuard_ExecutePreview(t *testing.T) {
	ctx := context.Background()

	t.Run("validation failure does not reach the database", func(t *testing.T) {
		repo := &fakeAudienceSQLRepo{}
		guard := NewAudienceSQLGuard(repo)

		_, err := guard.ExecutePreview(ctx, "DELETE FROM users", 10)
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
		assert.Equal(t, 0, repo.calls)
	})

	t.Run("negative limit clamps to zero", func(t *testing.T) {
		repo := &fakeAudienceSQLRepo{ids: []int64{1, 2}}
		guard := NewAudienceSQLGuard(repo)

		ids, err := guard.ExecutePreview(ctx, "SELECT user_id FROM t", -3)
		require.NoError(t, err)
		assert.Empty(t, ids)
		assert.Equal(t, 0, repo.lastLimit)
	})

	t.Run("returns ids from the repository", func(t *testing.T) {
		repo := &fakeAudienceSQLRepo{ids: []int64{4, 9}}
		guard := NewAudienceSQLGuard(repo)

		ids, err := guard.ExecutePreview(ctx, "  SELECT user_id FROM t  ", 100)
		require.NoError(t, err)
		assert.Equal(t, []int64{4, 9}, ids)
		assert.Equal(t, "SELECT user_id FROM t", repo.lastSQL)
	})

	t.Run("driver errors become database errors", func(t *testing.T) {
		repo := &fakeAudienceSQLRepo{err: errors.New(`column "user_id" does not exist`)}
		guard := NewAudienceSQLGuard(repo)

		_, err := guard.ExecutePreview(ctx, "SELECT user_id FROM t", 10)
		require.Error(t, err)
		assert.True(t, IsDatabaseError(err))
		assert.False(t, IsValidationError(err))
	})
}
