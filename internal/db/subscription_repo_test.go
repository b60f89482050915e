package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bizpulse/internal/types"
)

func subRow(sub types.Subscription) *mockRow {
	return &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = sub.SubscriptionID
			*dest[1].(*string) = sub.TenantID
			*dest[2].(*string) = sub.PlanID
			*dest[3].(*types.SubscriptionStatus) = sub.Status
			*dest[4].(*int64) = sub.CreditsPerPeriod
			*dest[5].(**time.Time) = sub.CurrentPeriodStart
			*dest[6].(**time.Time) = sub.CurrentPeriodEnd
			*dest[7].(*bool) = sub.CancelAtPeriodEnd
			*dest[8].(**time.Time) = sub.CanceledAt
			*dest[9].(*time.Time) = sub.CreatedAt
			*dest[10].(*time.Time) = sub.UpdatedAt
			return nil
		},
	}
}

func TestSubscriptionRepo_Apply_ReturnsUpsertedRow(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewSubscriptionRepo(dbtx, nil)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	stored := types.Subscription{
		SubscriptionID:     "sub_1",
		TenantID:           "tnt_1",
		PlanID:             "plan_pro",
		Status:             types.SubStatusActive,
		CreditsPerPeriod:   500,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		CreatedAt:          time.Now().UTC(),
		UpdatedAt:          time.Now().UTC(),
	}

	dbtx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(subRow(stored))

	got, err := repo.Apply(context.Background(), types.SubscriptionChange{
		SubscriptionID: "sub_1",
		TenantID:       "tnt_1",
		Status:         types.SubStatusActive,
		PeriodStart:    &start,
		PeriodEnd:      &end,
	})
	require.NoError(t, err)
	assert.Equal(t, "sub_1", got.SubscriptionID)
	assert.Equal(t, types.SubStatusActive, got.Status)
	assert.Equal(t, int64(500), got.CreditsPerPeriod)
	dbtx.AssertExpectations(t)
}

func TestSubscriptionRepo_Apply_DBError(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewSubscriptionRepo(dbtx, nil)

	row := &mockRow{scanErr: errors.New("connection reset")}
	dbtx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	_, err := repo.Apply(context.Background(), types.SubscriptionChange{SubscriptionID: "sub_1"})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	assert.True(t, types.IsTransient(err))
}

func TestSubscriptionRepo_GetBySubscriptionID_NotFound(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewSubscriptionRepo(dbtx, nil)

	row := &mockRow{scanErr: pgx.ErrNoRows}
	dbtx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	_, err := repo.GetBySubscriptionID(context.Background(), "sub_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundSubscription, appErr.Code)
	assert.False(t, types.IsTransient(err))
}

func TestSubscriptionRepo_GetBySubscriptionID_Success(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewSubscriptionRepo(dbtx, nil)

	stored := types.Subscription{
		SubscriptionID:   "sub_1",
		TenantID:         "tnt_1",
		PlanID:           "plan_starter",
		Status:           types.SubStatusPending,
		CreditsPerPeriod: 100,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	dbtx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(subRow(stored))

	got, err := repo.GetBySubscriptionID(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "tnt_1", got.TenantID)
	assert.Equal(t, types.SubStatusPending, got.Status)
}

func TestTenantRepo_Exists(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewTenantRepo(dbtx, nil)

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*bool) = true
			return nil
		},
	}
	dbtx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	exists, err := repo.Exists(context.Background(), "tnt_1")
	require.NoError(t, err)
	assert.True(t, exists)
}
