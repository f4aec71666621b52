package businessflow

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/amirphl/broadcast-hub/app/dto"
	"github.com/amirphl/broadcast-hub/models"
	"github.com/amirphl/broadcast-hub/utils"
)

type deliveryFixture struct {
	broadcasts *fakeBroadcastRepo
	targets    *fakeTargetRepo
	deliveries *fakeDeliveryRepo
	subs       *fakeSubscriptionRepo
	sqlRepo    *fakeAudienceSQLRepo
	audience   AudienceFlow
}

func newDeliveryFixture(broadcastIDs ...uint) *deliveryFixture {
	f := &deliveryFixture{
		broadcasts: newFakeBroadcastRepo(broadcastIDs...),
		targets:    newFakeTargetRepo(),
		deliveries: newFakeDeliveryRepo(),
		subs:       &fakeSubscriptionRepo{byKind: map[models.BroadcastKind][]int64{}},
		sqlRepo:    &fakeAudienceSQLRepo{},
	}
	f.audience = NewAudienceFlow(f.subs, NewAudienceSQLGuard(f.sqlRepo), DefaultAudienceLimits())
	return f
}

func (f *deliveryFixture) flow(db *gorm.DB, locker DeliveryLocker) DeliveryFlow {
	return NewDeliveryFlow(f.broadcasts, f.targets, f.deliveries, f.audience, locker, DefaultAudienceLimits(), db)
}

func TestDeliveryFlow_Materialize(t *testing.T) {
	ctx := context.Background()

	t.Run("empty audience touches nothing", func(t *testing.T) {
		db, mock := newTxDB(t)
		fx := newDeliveryFixture()

		res, err := fx.flow(db, nil).Materialize(ctx, 99, &dto.MaterializeDeliveriesRequest{IDs: []int64{-1, 0}})
		require.NoError(t, err)
		assert.Equal(t, dto.MaterializeDeliveriesResponse{}, *res)
		assert.Equal(t, 0, fx.deliveries.lookupCalls)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("is idempotent", func(t *testing.T) {
		db, mock := newTxDB(t)
		fx := newDeliveryFixture(7)
		flow := fx.flow(db, nil)
		req := &dto.MaterializeDeliveriesRequest{IDs: []int64{5, 3, 5, 7}}

		mock.ExpectBegin()
		mock.ExpectCommit()
		res, err := flow.Materialize(ctx, 7, req)
		require.NoError(t, err)
		assert.Equal(t, dto.MaterializeDeliveriesResponse{Total: 3, Created: 3, Existed: 0}, *res)

		mock.ExpectBegin()
		mock.ExpectCommit()
		res, err = flow.Materialize(ctx, 7, req)
		require.NoError(t, err)
		assert.Equal(t, dto.MaterializeDeliveriesResponse{Total: 3, Created: 0, Existed: 3}, *res)

		assert.Len(t, fx.deliveries.rows, 3)
		row := fx.deliveries.get(7, 5)
		require.NotNil(t, row)
		assert.Equal(t, models.DeliveryStatusPending, row.Status)
		assert.Equal(t, 0, row.Attempts)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ids take priority over target", func(t *testing.T) {
		db, mock := newTxDB(t)
		fx := newDeliveryFixture(7)
		fx.subs.byKind[models.BroadcastKindNews] = []int64{100, 200}

		mock.ExpectBegin()
		mock.ExpectCommit()
		res, err := fx.flow(db, nil).Materialize(ctx, 7, &dto.MaterializeDeliveriesRequest{
			IDs:    []int64{1},
			Target: &dto.AudienceTargetRequest{Type: "kind", Kind: utils.ToPtr("news")},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Total)
		assert.Equal(t, 0, fx.subs.calls)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stored target is used when nothing inline", func(t *testing.T) {
		db, mock := newTxDB(t)
		fx := newDeliveryFixture(7)
		kind := models.BroadcastKindMeetings
		fx.targets.rows[7] = &models.BroadcastTarget{BroadcastID: 7, Type: models.BroadcastTargetTypeKind, Kind: &kind}
		fx.subs.byKind[kind] = []int64{4, 5, 6}

		mock.ExpectBegin()
		mock.ExpectCommit()
		res, err := fx.flow(db, nil).Materialize(ctx, 7, &dto.MaterializeDeliveriesRequest{})
		require.NoError(t, err)
		assert.Equal(t, dto.MaterializeDeliveriesResponse{Total: 3, Created: 3}, *res)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no audience source is a validation error", func(t *testing.T) {
		db, mock := newTxDB(t)
		fx := newDeliveryFixture(7)

		_, err := fx.flow(db, nil).Materialize(ctx, 7, &dto.MaterializeDeliveriesRequest{})
		require.Error(t, err)
		assert.True(t, IsAudienceSourceMissing(err))
		assert.True(t, IsValidationError(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown broadcast is not found", func(t *testing.T) {
		db, mock := newTxDB(t)
		fx := newDeliveryFixture()

		mock.ExpectBegin()
		mock.ExpectRollback()
		_, err := fx.flow(db, nil).Materialize(ctx, 42, &dto.MaterializeDeliveriesRequest{IDs: []int64{1}})
		require.Error(t, err)
		assert.True(t, IsBroadcastNotFound(err))
		assert.Empty(t, fx.deliveries.rows)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown broadcast without inline source is not found", func(t *testing.T) {
		db, _ := newTxDB(t)
		fx := newDeliveryFixture()

		_, err := fx.flow(db, nil).Materialize(ctx, 42, &dto.MaterializeDeliveriesRequest{})
		assert.True(t, IsBroadcastNotFound(err))
	})

	t.Run("insert failure rolls back", func(t *testing.T) {
		db, mock := newTxDB(t)
		fx := newDeliveryFixture(7)
		fx.deliveries.insertErr = errors.New("deadlock detected")

		mock.ExpectBegin()
		mock.ExpectRollback()
		_, err := fx.flow(db, nil).Materialize(ctx, 7, &dto.MaterializeDeliveriesRequest{IDs: []int64{1, 2}})
		require.Error(t, err)
		assert.True(t, IsDatabaseError(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("held lock is a conflict", func(t *testing.T) {
		db, mock := newTxDB(t)
		fx := newDeliveryFixture(7)

		_, err := fx.flow(db, heldLocker{}).Materialize(ctx, 7, &dto.MaterializeDeliveriesRequest{IDs: []int64{1}})
		require.Error(t, err)
		assert.True(t, IsConflict(err))
		assert.Empty(t, fx.deliveries.rows)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis lock is released after the call", func(t *testing.T) {
		db, mock := newTxDB(t)
		fx := newDeliveryFixture(7)
		_, rc := newTestRedis(t)
		locker := NewRedisDeliveryLocker(rc, "", 0)
		flow := fx.flow(db, locker)

		for i := 0; i < 2; i++ {
			mock.ExpectBegin()
			mock.ExpectCommit()
			_, err := flow.Materialize(ctx, 7, &dto.MaterializeDeliveriesRequest{IDs: []int64{1}})
			require.NoError(t, err)
		}
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("large audiences are processed in chunks", func(t *testing.T) {
		db, mock := newTxDB(t)
		fx := newDeliveryFixture(7)
		ids := make([]int64, 0, 2500)
		for i := int64(1); i <= 2500; i++ {
			ids = append(ids, i)
		}
		for _, uid := range ids[:1200] {
			fx.deliveries.put(&models.BroadcastDelivery{BroadcastID: 7, UserID: uid, Status: models.DeliveryStatusSent})
		}

		mock.ExpectBegin()
		mock.ExpectCommit()
		res, err := fx.flow(db, nil).Materialize(ctx, 7, &dto.MaterializeDeliveriesRequest{IDs: ids})
		require.NoError(t, err)
		assert.Equal(t, dto.MaterializeDeliveriesResponse{Total: 2500, Created: 1300, Existed: 1200}, *res)
		assert.Equal(t, 3, fx.deliveries.lookupCalls)
		assert.Equal(t, 2, fx.deliveries.insertCalls)
		assert.Equal(t, models.DeliveryStatusSent, fx.deliveries.get(7, 1).Status)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("limit caps the audience", func(t *testing.T) {
		db, mock := newTxDB(t)
		fx := newDeliveryFixture(7)

		mock.ExpectBegin()
		mock.ExpectCommit()
		res, err := fx.flow(db, nil).Materialize(ctx, 7, &dto.MaterializeDeliveriesRequest{IDs: []int64{1, 2, 3}, Limit: utils.ToPtr(2)})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Total)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func reportItem(uid any, status string) dto.DeliveryReportItem {
	item := dto.DeliveryReportItem{Status: status}
	item.UserID.Value, item.UserID.Valid = utils.ToInt64(uid)
	return item
}

func TestDeliveryFlow_Report(t *testing.T) {
	ctx := context.Background()

	t.Run("attempts accumulate across reports", func(t *testing.T) {
		db, mock := newTxDB(t)
		fx := newDeliveryFixture(7)
		flow := fx.flow(db, nil)
		req := &dto.ReportDeliveriesRequest{Items: []dto.DeliveryReportItem{
			{UserID: dto.ReportedUserID{Value: 42, Valid: true}, Status: "failed", AttemptInc: utils.ToPtr(1)},
		}}

		mock.ExpectBegin()
		mock.ExpectCommit()
		res, err := flow.Report(ctx, 7, req)
		require.NoError(t, err)
		assert.Equal(t, dto.ReportDeliveriesResponse{Processed: 1, Inserted: 1}, *res)

		mock.ExpectBegin()
		mock.ExpectCommit()
		res, err = flow.Report(ctx, 7, req)
		require.NoError(t, err)
		assert.Equal(t, dto.ReportDeliveriesResponse{Processed: 1, Updated: 1}, *res)

		row := fx.deliveries.get(7, 42)
		require.NotNil(t, row)
		assert.Equal(t, 2, row.Attempts)
		assert.Equal(t, models.DeliveryStatusFailed, row.Status)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid ids are dropped and last duplicate wins", func(t *testing.T) {
		db, mock := newTxDB(t)
		fx := newDeliveryFixture(7)

		items := []dto.DeliveryReportItem{
			reportItem(1, "failed"),
			reportItem("abc", "sent"),
			reportItem(-4, "sent"),
			reportItem(0, "sent"),
			reportItem(nil, "sent"),
			reportItem("2", "skipped"),
			reportItem(1, "sent"),
		}
		items[6].MessageID = utils.ToPtr(int64(555))

		mock.ExpectBegin()
		mock.ExpectCommit()
		res, err := fx.flow(db, nil).Report(ctx, 7, &dto.ReportDeliveriesRequest{Items: items})
		require.NoError(t, err)
		assert.Equal(t, dto.ReportDeliveriesResponse{Processed: 2, Inserted: 2}, *res)

		row := fx.deliveries.get(7, 1)
		require.NotNil(t, row)
		assert.Equal(t, models.DeliveryStatusSent, row.Status)
		assert.Equal(t, int64(555), *row.MessageID)
		assert.Equal(t, 1, row.Attempts)
		assert.Equal(t, models.DeliveryStatusSkipped, fx.deliveries.get(7, 2).Status)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero attempt_inc defaults to one", func(t *testing.T) {
		db, mock := newTxDB(t)
		fx := newDeliveryFixture(7)
		fx.deliveries.put(&models.BroadcastDelivery{BroadcastID: 7, UserID: 9, Status: models.DeliveryStatusPending, Attempts: 3})

		item := reportItem(9, "sent")
		item.AttemptInc = utils.ToPtr(0)

		mock.ExpectBegin()
		mock.ExpectCommit()
		res, err := fx.flow(db, nil).Report(ctx, 7, &dto.ReportDeliveriesRequest{Items: []dto.DeliveryReportItem{item}})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Updated)
		assert.Equal(t, 4, fx.deliveries.get(7, 9).Attempts)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("long error fields are truncated", func(t *testing.T) {
		db, mock := newTxDB(t)
		fx := newDeliveryFixture(7)

		item := reportItem(3, "failed")
		item.ErrorCode = utils.ToPtr(strings.Repeat("E", 100))
		item.ErrorMessage = utils.ToPtr(strings.Repeat("ж", 300))

		mock.ExpectBegin()
		mock.ExpectCommit()
		_, err := fx.flow(db, nil).Report(ctx, 7, &dto.ReportDeliveriesRequest{Items: []dto.DeliveryReportItem{item}})
		require.NoError(t, err)

		row := fx.deliveries.get(7, 3)
		assert.Len(t, *row.ErrorCode, 64)
		assert.Equal(t, 255, len([]rune(*row.ErrorMessage)))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("large reports are applied in chunks", func(t *testing.T) {
		db, mock := newTxDB(t)
		fx := newDeliveryFixture(7)
		for uid := int64(1); uid <= 1200; uid++ {
			fx.deliveries.put(&models.BroadcastDelivery{BroadcastID: 7, UserID: uid, Status: models.DeliveryStatusPending, Attempts: 2})
		}

		items := make([]dto.DeliveryReportItem, 0, 2501)
		for uid := int64(1); uid <= 2500; uid++ {
			items = append(items, reportItem(uid, "failed"))
		}
		items = append(items, reportItem(1, "sent"))

		mock.ExpectBegin()
		mock.ExpectCommit()
		res, err := fx.flow(db, nil).Report(ctx, 7, &dto.ReportDeliveriesRequest{Items: items})
		require.NoError(t, err)
		assert.Equal(t, dto.ReportDeliveriesResponse{Processed: 2500, Updated: 1200, Inserted: 1300}, *res)

		assert.Equal(t, 3, fx.deliveries.lookupCalls)
		assert.Equal(t, 1200, fx.deliveries.updateCalls)
		assert.Equal(t, 2, fx.deliveries.insertCalls)

		assert.Equal(t, models.DeliveryStatusSent, fx.deliveries.get(7, 1).Status)
		assert.Equal(t, 3, fx.deliveries.get(7, 1).Attempts)
		assert.Equal(t, 3, fx.deliveries.get(7, 1200).Attempts)
		assert.Equal(t, 1, fx.deliveries.get(7, 1201).Attempts)
		assert.Equal(t, models.DeliveryStatusFailed, fx.deliveries.get(7, 2500).Status)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nothing usable returns zeros without a transaction", func(t *testing.T) {
		db, mock := newTxDB(t)
		fx := newDeliveryFixture(7)

		res, err := fx.flow(db, nil).Report(ctx, 7, &dto.ReportDeliveriesRequest{Items: []dto.DeliveryReportItem{reportItem("x", "sent")}})
		require.NoError(t, err)
		assert.Equal(t, dto.ReportDeliveriesResponse{}, *res)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown broadcast is not found", func(t *testing.T) {
		db, mock := newTxDB(t)
		fx := newDeliveryFixture()

		mock.ExpectBegin()
		mock.ExpectRollback()
		_, err := fx.flow(db, nil).Report(ctx, 7, &dto.ReportDeliveriesRequest{Items: []dto.DeliveryReportItem{reportItem(1, "sent")}})
		assert.True(t, IsBroadcastNotFound(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDeliveryFlow_EndToEnd(t *testing.T) {
	ctx := context.Background()
	db, mock := newTxDB(t)
	fx := newDeliveryFixture(7)
	fx.subs.byKind[models.BroadcastKindNews] = []int64{10, 20, 30}
	flow := fx.flow(db, nil)
	target := &dto.AudienceTargetRequest{Type: "kind", Kind: utils.ToPtr("news")}

	resolved, err := fx.audience.Resolve(ctx, &dto.AudienceResolveRequest{Target: target})
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20, 30}, resolved.IDs)

	mock.ExpectBegin()
	mock.ExpectCommit()
	materialized, err := flow.Materialize(ctx, 7, &dto.MaterializeDeliveriesRequest{Target: target})
	require.NoError(t, err)
	assert.Equal(t, dto.MaterializeDeliveriesResponse{Total: 3, Created: 3, Existed: 0}, *materialized)

	mock.ExpectBegin()
	mock.ExpectCommit()
	reported, err := flow.Report(ctx, 7, &dto.ReportDeliveriesRequest{Items: []dto.DeliveryReportItem{reportItem(10, "sent")}})
	require.NoError(t, err)
	assert.Equal(t, dto.ReportDeliveriesResponse{Processed: 1, Updated: 1, Inserted: 0}, *reported)

	row := fx.deliveries.get(7, 10)
	require.NotNil(t, row)
	assert.Equal(t, models.DeliveryStatusSent, row.Status)
	assert.Equal(t, 1, row.Attempts)

	list, err := flow.ListDeliveries(ctx, 7, &dto.ListDeliveriesRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), list.Total)
	assert.Equal(t, int64(1), list.StatusCounts["sent"])
	assert.Equal(t, int64(2), list.StatusCounts["pending"])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryFlow_ListAndExport(t *testing.T) {
	ctx := context.Background()
	db, _ := newTxDB(t)
	fx := newDeliveryFixture(7)
	for uid := int64(1); uid <= 5; uid++ {
		status := models.DeliveryStatusPending
		if uid%2 == 0 {
			status = models.DeliveryStatusFailed
		}
		fx.deliveries.put(&models.BroadcastDelivery{BroadcastID: 7, UserID: uid, Status: status, ErrorCode: utils.ToPtr("E1")})
	}
	flow := fx.flow(db, nil)

	t.Run("filters by status and paginates", func(t *testing.T) {
		res, err := flow.ListDeliveries(ctx, 7, &dto.ListDeliveriesRequest{Status: utils.ToPtr("pending"), Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(3), res.Total)
		require.Len(t, res.Items, 2)
		assert.Equal(t, int64(1), res.Items[0].UserID)
		assert.Equal(t, int64(3), res.Items[1].UserID)
	})

	t.Run("unknown broadcast", func(t *testing.T) {
		_, err := flow.ListDeliveries(ctx, 8, &dto.ListDeliveriesRequest{})
		assert.True(t, IsBroadcastNotFound(err))
	})

	t.Run("export writes one row per delivery", func(t *testing.T) {
		name, content, err := flow.ExportDeliveries(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, "broadcast_7_deliveries.xlsx", name)

		xl, err := excelize.OpenReader(bytes.NewReader(content))
		require.NoError(t, err)
		defer func() { _ = xl.Close() }()

		rows, err := xl.GetRows("deliveries")
		require.NoError(t, err)
		require.Len(t, rows, 6)
		assert.Equal(t, "user_id", rows[0][2])
		assert.Equal(t, "2", rows[2][2])
		assert.Equal(t, "failed", rows[2][3])
		assert.Equal(t, "E1", rows[2][5])
	})
}
