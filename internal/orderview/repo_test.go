package orderview

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mealmesh/ordering-backend/pkg/db/models"
	"github.com/mealmesh/ordering-backend/pkg/enums"
	pkgerrors "github.com/mealmesh/ordering-backend/pkg/errors"
	"github.com/mealmesh/ordering-backend/pkg/pagination"
)

func setupViewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	ddl := `
CREATE TABLE order_views (
  order_id TEXT PRIMARY KEY,
  state TEXT NOT NULL,
  consumer_id TEXT NOT NULL,
  restaurant_id TEXT NOT NULL,
  courier_id TEXT,
  line_items TEXT,
  total_amount TEXT NOT NULL,
  delivery_address TEXT,
  event_version INTEGER NOT NULL,
  approved_at DATETIME,
  rejected_at DATETIME,
  cancelled_at DATETIME,
  delivered_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(ddl).Error)
	return db
}

func seedView(t *testing.T, db *gorm.DB, consumerID uuid.UUID, createdAt time.Time) models.OrderView {
	t.Helper()
	view := models.OrderView{
		OrderID:      uuid.New(),
		State:        enums.OrderStateApprovalPending,
		ConsumerID:   consumerID,
		RestaurantID: uuid.New(),
		TotalAmount:  decimal.RequireFromString("15.00"),
		EventVersion: 1,
		CreatedAt:    createdAt,
	}
	require.NoError(t, db.Create(&view).Error)
	return view
}

func TestRepositoryGetNotFound(t *testing.T) {
	repo := NewRepository(setupViewTestDB(t))

	_, err := repo.Get(context.Background(), uuid.New())
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestRepositoryListByConsumerPagesNewestFirst(t *testing.T) {
	db := setupViewTestDB(t)
	repo := NewRepository(db)
	consumerID := uuid.New()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	oldest := seedView(t, db, consumerID, base)
	middle := seedView(t, db, consumerID, base.Add(time.Hour))
	newest := seedView(t, db, consumerID, base.Add(2*time.Hour))
	seedView(t, db, uuid.New(), base.Add(3*time.Hour))

	page, err := repo.ListByConsumer(context.Background(), consumerID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Orders, 2)
	assert.Equal(t, newest.OrderID, page.Orders[0].OrderID)
	assert.Equal(t, middle.OrderID, page.Orders[1].OrderID)
	require.NotEmpty(t, page.NextCursor)

	rest, err := repo.ListByConsumer(context.Background(), consumerID, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest.Orders, 1)
	assert.Equal(t, oldest.OrderID, rest.Orders[0].OrderID)
	assert.Empty(t, rest.NextCursor)
}

func TestRepositoryListRejectsBadCursor(t *testing.T) {
	repo := NewRepository(setupViewTestDB(t))

	_, err := repo.ListByConsumer(context.Background(), uuid.New(), pagination.Params{Cursor: "%%%not-a-cursor"})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestRepositorySaveAndDelete(t *testing.T) {
	db := setupViewTestDB(t)
	repo := NewRepository(db)
	view := seedView(t, db, uuid.New(), time.Now().UTC())

	view.State = enums.OrderStateApproved
	view.EventVersion = 2
	require.NoError(t, repo.SaveTx(db, &view))

	loaded, err := repo.FindTx(db, view.OrderID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, enums.OrderStateApproved, loaded.State)
	assert.Equal(t, 2, loaded.EventVersion)

	require.NoError(t, repo.DeleteTx(db, view.OrderID))
	gone, err := repo.FindTx(db, view.OrderID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}
