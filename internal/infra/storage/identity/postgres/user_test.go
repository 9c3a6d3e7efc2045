package postgres

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techmandates/techmandates/internal/domain/identity"
	"github.com/techmandates/techmandates/internal/infra/storage"
)

func TestUserStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pool, cleanup := storage.SetupTestContainer(t)
	defer cleanup()

	ctx := context.Background()
	store := NewUserStore(pool, storage.NoOpTracer())

	user, err := identity.NewUser("dev@example.com", []byte("bcrypt-hash"))
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, user))

	t.Run("get by id and email", func(t *testing.T) {
		byID, err := store.GetByID(ctx, user.ID())
		require.NoError(t, err)
		assert.Equal(t, user.Email(), byID.Email())
		assert.Equal(t, []byte("bcrypt-hash"), byID.PasswordHash())

		byEmail, err := store.GetByEmail(ctx, "dev@example.com")
		require.NoError(t, err)
		assert.Equal(t, user.ID(), byEmail.ID())
	})

	t.Run("duplicate email rejected", func(t *testing.T) {
		dup, err := identity.NewUser("dev@example.com", []byte("other-hash"))
		require.NoError(t, err)
		require.ErrorIs(t, store.Create(ctx, dup), identity.ErrUserExists)
	})

	t.Run("unknown lookups", func(t *testing.T) {
		_, err := store.GetByID(ctx, uuid.New())
		require.ErrorIs(t, err, identity.ErrUserNotFound)

		_, err = store.GetByEmail(ctx, "ghost@example.com")
		require.ErrorIs(t, err, identity.ErrUserNotFound)
	})
}
