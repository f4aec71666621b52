package businessflow

import (
	"context"
	"sort"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/amirphl/broadcast-hub/models"
	"github.com/amirphl/broadcast-hub/utils"
)

// newTxDB returns a gorm handle whose only job in flow tests is to open and
// close transactions
func newTxDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return db, mock
}

type fakeBroadcastRepo struct {
	rows   map[uint]*models.Broadcast
	nextID uint
	err    error
}

func newFakeBroadcastRepo(ids ...uint) *fakeBroadcastRepo {
	r := &fakeBroadcastRepo{rows: map[uint]*models.Broadcast{}, nextID: 1}
	for _, id := range ids {
		r.rows[id] = &models.Broadcast{
			ID:      id,
			Kind:    models.BroadcastKindNews,
			Status:  models.BroadcastStatusDraft,
			Enabled: utils.ToPtr(true),
			Content: models.BroadcastContent{Text: "hello"},
		}
		if id >= r.nextID {
			r.nextID = id + 1
		}
	}
	return r
}

func (r *fakeBroadcastRepo) ByID(_ context.Context, id uint) (*models.Broadcast, error) {
	if r.err != nil {
		return nil, r.err
	}
	b, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (r *fakeBroadcastRepo) ByFilter(_ context.Context, filter models.BroadcastFilter, _ string, limit, _ int) ([]*models.Broadcast, error) {
	if r.err != nil {
		return nil, r.err
	}
	ids := make([]uint, 0, len(r.rows))
	for id := range r.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []*models.Broadcast
	for _, id := range ids {
		b := r.rows[id]
		if filter.ID != nil && b.ID != *filter.ID {
			continue
		}
		if filter.Status != nil && b.Status != *filter.Status {
			continue
		}
		if filter.Kind != nil && b.Kind != *filter.Kind {
			continue
		}
		if filter.Enabled != nil && utils.IsTrue(b.Enabled) != *filter.Enabled {
			continue
		}
		if filter.ScheduleBefore != nil && (b.ScheduledAt == nil || b.ScheduledAt.After(*filter.ScheduleBefore)) {
			continue
		}
		cp := *b
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeBroadcastRepo) Save(_ context.Context, b *models.Broadcast) error {
	if r.err != nil {
		return r.err
	}
	b.ID = r.nextID
	r.nextID++
	_ = b.BeforeCreate(nil)
	cp := *b
	r.rows[b.ID] = &cp
	return nil
}

func (r *fakeBroadcastRepo) Count(ctx context.Context, filter models.BroadcastFilter) (int64, error) {
	rows, err := r.ByFilter(ctx, filter, "", 0, 0)
	return int64(len(rows)), err
}

func (r *fakeBroadcastRepo) Exists(ctx context.Context, filter models.BroadcastFilter) (bool, error) {
	n, err := r.Count(ctx, filter)
	return n > 0, err
}

func (r *fakeBroadcastRepo) Update(_ context.Context, b *models.Broadcast) error {
	if r.err != nil {
		return r.err
	}
	cp := *b
	r.rows[b.ID] = &cp
	return nil
}

func (r *fakeBroadcastRepo) UpdateStatus(_ context.Context, id uint, status models.BroadcastStatus) error {
	if b, ok := r.rows[id]; ok {
		b.Status = status
	}
	return r.err
}

func (r *fakeBroadcastRepo) Delete(_ context.Context, id uint) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	_, ok := r.rows[id]
	delete(r.rows, id)
	return ok, nil
}

type fakeTargetRepo struct {
	rows map[uint]*models.BroadcastTarget
}

func newFakeTargetRepo() *fakeTargetRepo {
	return &fakeTargetRepo{rows: map[uint]*models.BroadcastTarget{}}
}

func (r *fakeTargetRepo) ByID(_ context.Context, id uint) (*models.BroadcastTarget, error) {
	for _, t := range r.rows {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, nil
}

func (r *fakeTargetRepo) ByFilter(_ context.Context, filter models.BroadcastTargetFilter, _ string, _, _ int) ([]*models.BroadcastTarget, error) {
	var out []*models.BroadcastTarget
	for _, t := range r.rows {
		if filter.BroadcastID != nil && t.BroadcastID != *filter.BroadcastID {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *fakeTargetRepo) Save(_ context.Context, t *models.BroadcastTarget) error {
	r.rows[t.BroadcastID] = t
	return nil
}

func (r *fakeTargetRepo) Count(ctx context.Context, filter models.BroadcastTargetFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, filter, "", 0, 0)
	return int64(len(rows)), nil
}

func (r *fakeTargetRepo) Exists(ctx context.Context, filter models.BroadcastTargetFilter) (bool, error) {
	n, _ := r.Count(ctx, filter)
	return n > 0, nil
}

func (r *fakeTargetRepo) ByBroadcastID(_ context.Context, broadcastID uint) (*models.BroadcastTarget, error) {
	return r.rows[broadcastID], nil
}

func (r *fakeTargetRepo) Replace(_ context.Context, t *models.BroadcastTarget) error {
	t.ID = uint(len(r.rows) + 1)
	r.rows[t.BroadcastID] = t
	return nil
}

type fakeSubscriptionRepo struct {
	byKind map[models.BroadcastKind][]int64
	calls  int
}

func (r *fakeSubscriptionRepo) SubscribedUserIDs(_ context.Context, kind models.BroadcastKind, limit int) ([]int64, error) {
	r.calls++
	ids := r.byKind[kind]
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *fakeSubscriptionRepo) Upsert(context.Context, []*models.UserSubscription) error {
	return nil
}

type fakeAudienceSQLRepo struct {
	ids       []int64
	err       error
	calls     int
	lastLimit int
	lastSQL   string
}

func (r *fakeAudienceSQLRepo) PreviewUserIDs(_ context.Context, fragment string, limit int) ([]int64, error) {
	r.calls++
	r.lastLimit = limit
	r.lastSQL = fragment
	if r.err != nil {
		return nil, r.err
	}
	ids := r.ids
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type deliveryKey struct {
	broadcastID uint
	userID      int64
}

type fakeDeliveryRepo struct {
	rows        map[deliveryKey]*models.BroadcastDelivery
	order       []deliveryKey
	lookupCalls int
	insertCalls int
	updateCalls int
	insertErr   error
}

func newFakeDeliveryRepo() *fakeDeliveryRepo {
	return &fakeDeliveryRepo{rows: map[deliveryKey]*models.BroadcastDelivery{}}
}

func (r *fakeDeliveryRepo) put(row *models.BroadcastDelivery) {
	k := deliveryKey{row.BroadcastID, row.UserID}
	if _, ok := r.rows[k]; !ok {
		r.order = append(r.order, k)
		row.ID = uint(len(r.order))
	}
	r.rows[k] = row
}

func (r *fakeDeliveryRepo) ExistingUserIDs(_ context.Context, broadcastID uint, userIDs []int64) ([]int64, error) {
	r.lookupCalls++
	out := make([]int64, 0)
	for _, uid := range userIDs {
		if _, ok := r.rows[deliveryKey{broadcastID, uid}]; ok {
			out = append(out, uid)
		}
	}
	return out, nil
}

func (r *fakeDeliveryRepo) InsertPending(_ context.Context, broadcastID uint, userIDs []int64) (int64, error) {
	r.insertCalls++
	if r.insertErr != nil {
		return 0, r.insertErr
	}
	var created int64
	for _, uid := range userIDs {
		if _, ok := r.rows[deliveryKey{broadcastID, uid}]; ok {
			continue
		}
		r.put(&models.BroadcastDelivery{BroadcastID: broadcastID, UserID: uid, Status: models.DeliveryStatusPending})
		created++
	}
	return created, nil
}

func (r *fakeDeliveryRepo) ApplyOutcome(_ context.Context, broadcastID uint, o models.DeliveryOutcome) (int64, error) {
	r.updateCalls++
	row, ok := r.rows[deliveryKey{broadcastID, o.UserID}]
	if !ok {
		return 0, nil
	}
	row.Status = o.Status
	row.MessageID = o.MessageID
	row.ErrorCode = o.ErrorCode
	row.ErrorMessage = o.ErrorMessage
	row.SentAt = o.SentAt
	row.Attempts += o.AttemptInc
	return 1, nil
}

func (r *fakeDeliveryRepo) InsertOutcomes(_ context.Context, broadcastID uint, os []models.DeliveryOutcome) (int64, error) {
	r.insertCalls++
	if r.insertErr != nil {
		return 0, r.insertErr
	}
	for _, o := range os {
		r.put(&models.BroadcastDelivery{
			BroadcastID:  broadcastID,
			UserID:       o.UserID,
			Status:       o.Status,
			Attempts:     o.AttemptInc,
			MessageID:    o.MessageID,
			ErrorCode:    o.ErrorCode,
			ErrorMessage: o.ErrorMessage,
			SentAt:       o.SentAt,
		})
	}
	return int64(len(os)), nil
}

func (r *fakeDeliveryRepo) CountByStatus(_ context.Context, broadcastID uint) (map[models.DeliveryStatus]int64, error) {
	out := map[models.DeliveryStatus]int64{}
	for k, row := range r.rows {
		if k.broadcastID == broadcastID {
			out[row.Status]++
		}
	}
	return out, nil
}

func (r *fakeDeliveryRepo) ByID(_ context.Context, id uint) (*models.BroadcastDelivery, error) {
	for _, row := range r.rows {
		if row.ID == id {
			return row, nil
		}
	}
	return nil, nil
}

func (r *fakeDeliveryRepo) ByFilter(_ context.Context, filter models.BroadcastDeliveryFilter, _ string, limit, offset int) ([]*models.BroadcastDelivery, error) {
	var matched []*models.BroadcastDelivery
	for _, k := range r.order {
		row := r.rows[k]
		if filter.BroadcastID != nil && row.BroadcastID != *filter.BroadcastID {
			continue
		}
		if filter.Status != nil && row.Status != *filter.Status {
			continue
		}
		matched = append(matched, row)
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *fakeDeliveryRepo) Save(_ context.Context, row *models.BroadcastDelivery) error {
	r.put(row)
	return nil
}

func (r *fakeDeliveryRepo) Count(ctx context.Context, filter models.BroadcastDeliveryFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, filter, "", 0, 0)
	return int64(len(rows)), nil
}

func (r *fakeDeliveryRepo) Exists(ctx context.Context, filter models.BroadcastDeliveryFilter) (bool, error) {
	n, _ := r.Count(ctx, filter)
	return n > 0, nil
}

func (r *fakeDeliveryRepo) get(broadcastID uint, userID int64) *models.BroadcastDelivery {
	return r.rows[deliveryKey{broadcastID, userID}]
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, uint) (func(), error) {
	return nil, errLockHeld
}
