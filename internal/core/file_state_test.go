package core

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/photovault/internal/model"
)

func TestFileStateService_Get_NotFound(t *testing.T) {
	db := &mockDB{}
	svc := NewFileStateService(db)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	fs, err := svc.Get(ctx, "events/active/event1/photo1.jpg")
	require.NoError(t, err)
	assert.Nil(t, fs)
}

func TestFileStateService_Get_Found(t *testing.T) {
	db := &mockDB{}
	svc := NewFileStateService(db)
	ctx := context.Background()

	now := time.Now()
	row := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*string)) = "thumbnails/thumb1.jpg"
		*(dest[1].(*string)) = "abc123"
		*(dest[2].(*int64)) = 17
		*(dest[3].(*time.Time)) = now
		return nil
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	fs, err := svc.Get(ctx, "thumbnails/thumb1.jpg")
	require.NoError(t, err)
	require.NotNil(t, fs)
	assert.Equal(t, "abc123", fs.Checksum)
	assert.Equal(t, int64(17), fs.SizeBytes)
}

func TestFileStateService_LoadAll(t *testing.T) {
	db := &mockDB{}
	svc := NewFileStateService(db)
	ctx := context.Background()

	now := time.Now()
	rows := newMockRows(
		func(dest ...any) error {
			*(dest[0].(*string)) = "events/active/event1/photo1.jpg"
			*(dest[1].(*string)) = "sum1"
			*(dest[2].(*int64)) = 14
			*(dest[3].(*time.Time)) = now
			return nil
		},
		func(dest ...any) error {
			*(dest[0].(*string)) = "thumbnails/thumb1.jpg"
			*(dest[1].(*string)) = "sum2"
			*(dest[2].(*int64)) = 17
			*(dest[3].(*time.Time)) = now
			return nil
		},
	)
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	states, err := svc.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "sum1", states["events/active/event1/photo1.jpg"].Checksum)
	assert.Equal(t, int64(17), states["thumbnails/thumb1.jpg"].SizeBytes)
}

func TestFileStateService_LoadAll_Empty(t *testing.T) {
	db := &mockDB{}
	svc := NewFileStateService(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newEmptyMockRows(), nil)

	states, err := svc.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestFileStateService_Upsert(t *testing.T) {
	db := &mockDB{}
	svc := NewFileStateService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	err := svc.Upsert(ctx, &model.FileState{
		FilePath:       "uploads/banner.png",
		Checksum:       "def456",
		SizeBytes:      2048,
		LastBackedUpAt: time.Now(),
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}
