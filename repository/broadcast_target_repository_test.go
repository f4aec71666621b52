package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/amirphl/broadcast-hub/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastTargetRepository_Replace(t *testing.T) {
	kind := models.BroadcastKindNews

	t.Run("deletes prior target and inserts in one transaction", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewBroadcastTargetRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "broadcast_targets" WHERE broadcast_id = $1`)).
			WithArgs(4).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "broadcast_targets"`)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))
		mock.ExpectCommit()

		target := &models.BroadcastTarget{BroadcastID: 4, Type: models.BroadcastTargetTypeKind, Kind: &kind}
		require.NoError(t, repo.Replace(context.Background(), target))
		assert.Equal(t, uint(12), target.ID)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when insert fails", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewBroadcastTargetRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "broadcast_targets"`)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "broadcast_targets"`)).
			WillReturnError(errors.New("check constraint violated"))
		mock.ExpectRollback()

		target := &models.BroadcastTarget{BroadcastID: 4, Type: models.BroadcastTargetTypeKind, Kind: &kind}
		err := repo.Replace(context.Background(), target)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "check constraint violated")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUserSubscriptionRepository_SubscribedUserIDs(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserSubscriptionRepository(db)

	mock.ExpectQuery(`SELECT "user_id" FROM "user_subscriptions" WHERE meetings_enabled = \$1 ORDER BY user_id ASC`).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(2).AddRow(5))

	ids, err := repo.SubscribedUserIDs(context.Background(), models.BroadcastKindMeetings, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 5}, ids)

	_, err = repo.SubscribedUserIDs(context.Background(), models.BroadcastKind("weather"), 0)
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBroadcastRepository_Delete(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBroadcastRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "broadcasts" WHERE id = $1`)).
		WithArgs(3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "broadcasts" WHERE id = $1`)).
		WithArgs(4).
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := repo.Delete(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.Delete(context.Background(), 4)
	require.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, mock.ExpectationsWereMet())
}
