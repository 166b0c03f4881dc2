package users_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-bridge/internal/errors"
	"github.com/jrsteele09/go-auth-bridge/users"
	fakeuserrepo "github.com/jrsteele09/go-auth-bridge/users/repofake"
	"github.com/stretchr/testify/require"
)

func TestProfile_IsNew(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	window := 5 * time.Minute

	p := &users.Profile{CreatedAt: now.Add(-(4*time.Minute + 59*time.Second))}
	require.True(t, p.IsNew(now, window))

	p.CreatedAt = now.Add(-(5*time.Minute + time.Second))
	require.False(t, p.IsNew(now, window))
}

func TestPasswordHash(t *testing.T) {
	hash, err := users.HashPassword("Password123")
	require.NoError(t, err)
	require.True(t, users.CheckPasswordHash("Password123", hash))
	require.False(t, users.CheckPasswordHash("password123", hash))
}

func TestFakeUserRepo(t *testing.T) {
	repo := fakeuserrepo.NewFakeUserRepo()

	p := &users.Profile{Email: "a@example.com", Phone: "+15550100"}
	require.NoError(t, repo.Upsert(p))
	require.NotEmpty(t, p.ID)

	byEmail, err := repo.GetByEmail("a@example.com")
	require.NoError(t, err)
	require.Equal(t, p.ID, byEmail.ID)

	byPhone, err := repo.GetByPhone("+15550100")
	require.NoError(t, err)
	require.Equal(t, p.ID, byPhone.ID)

	_, err = repo.GetByID("missing")
	require.True(t, errors.Is(err, errors.ErrNotFound))
}
