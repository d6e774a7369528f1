package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCreateUser(t *testing.T) {
	svc := NewUserService(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	user, err := svc.Create(ctx, " Jane@Example.com ", "Jane")
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", user.Email)
	assert.NotEqual(t, uuid.Nil, user.ID)

	loaded, err := svc.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane", loaded.Name)
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	svc := NewUserService(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	_, err := svc.Create(ctx, "jane@example.com", "Jane")
	require.NoError(t, err)

	_, err = svc.Create(ctx, "JANE@example.com", "Other Jane")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCreateUserValidation(t *testing.T) {
	svc := NewUserService(newTestDB(t), zap.NewNop())

	_, err := svc.Create(context.Background(), "  ", "Nobody")
	assert.True(t, IsValidation(err))

	_, err = svc.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
