package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bizpulse/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- CreditLedgerRepo Tests ---

func TestCreditLedgerRepo_Grant_Applied(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewCreditLedgerRepo(dbtx, nil)

	dbtx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	result, err := repo.Grant(context.Background(), "tnt_1", 500, "key_abc", "evt_1", "invoice.payment_succeeded")
	require.NoError(t, err)
	assert.Equal(t, types.GrantApplied, result)
	dbtx.AssertExpectations(t)
}

func TestCreditLedgerRepo_Grant_AlreadyApplied(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewCreditLedgerRepo(dbtx, nil)

	// Zero rows affected means the grant key insert lost the conflict.
	dbtx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	// The follow-up read finds the existing grant with matching amount.
	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "key_abc"
			*dest[1].(*string) = "tnt_1"
			*dest[2].(*int64) = 500
			*dest[3].(*string) = "evt_original"
			*dest[4].(*string) = "customer.subscription.created"
			*dest[5].(*time.Time) = time.Now().UTC()
			return nil
		},
	}
	dbtx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	result, err := repo.Grant(context.Background(), "tnt_1", 500, "key_abc", "evt_dup", "invoice.payment_succeeded")
	require.NoError(t, err)
	assert.Equal(t, types.GrantAlreadyApplied, result)
}

func TestCreditLedgerRepo_Grant_AmountMismatch(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewCreditLedgerRepo(dbtx, nil)

	dbtx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "key_abc"
			*dest[1].(*string) = "tnt_1"
			*dest[2].(*int64) = 500
			*dest[3].(*string) = "evt_original"
			*dest[4].(*string) = "checkout.session.completed"
			*dest[5].(*time.Time) = time.Now().UTC()
			return nil
		},
	}
	dbtx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	_, err := repo.Grant(context.Background(), "tnt_1", 900, "key_abc", "evt_dup", "invoice.payment_succeeded")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictGrantAmount, appErr.Code)
	assert.Equal(t, "key_abc", appErr.Details["grant_key"])
}

func TestCreditLedgerRepo_Grant_DBError(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewCreditLedgerRepo(dbtx, nil)

	dbtx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	_, err := repo.Grant(context.Background(), "tnt_1", 500, "key_abc", "evt_1", "checkout.session.completed")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	assert.True(t, types.IsTransient(err))
}

func TestCreditLedgerRepo_GetGrant_NotFound(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewCreditLedgerRepo(dbtx, nil)

	row := &mockRow{scanErr: pgx.ErrNoRows}
	dbtx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	_, err := repo.GetGrant(context.Background(), "key_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundGrant, appErr.Code)
}

func TestCreditLedgerRepo_GetBalance_NoRowMeansZero(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewCreditLedgerRepo(dbtx, nil)

	row := &mockRow{scanErr: pgx.ErrNoRows}
	dbtx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	balance, err := repo.GetBalance(context.Background(), "tnt_fresh")
	require.NoError(t, err)
	assert.Equal(t, "tnt_fresh", balance.TenantID)
	assert.Equal(t, int64(0), balance.CreditsAvailable)
}

func TestCreditLedgerRepo_GetBalance_Success(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewCreditLedgerRepo(dbtx, nil)

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "tnt_1"
			*dest[1].(*int64) = 1500
			*dest[2].(*time.Time) = time.Now().UTC()
			return nil
		},
	}
	dbtx.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	balance, err := repo.GetBalance(context.Background(), "tnt_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), balance.CreditsAvailable)
}
