package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartduka/backend/internal/config"
	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/service"
)

func TestOpenFallsBackToMemory(t *testing.T) {
	a, err := Open(context.Background(), config.Config{})
	require.NoError(t, err)
	defer a.Close(context.Background())

	assert.Equal(t, "memory", a.Backend)
	require.NotNil(t, a.Service)
	assert.Error(t, a.Migrate(context.Background()), "migrate needs postgres")
}

func TestEnsureSuperAdminIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, config.Config{})
	require.NoError(t, err)
	defer a.Close(ctx)

	require.NoError(t, a.EnsureSuperAdmin(ctx, " Ops@SmartDuka.test ", "a-very-long-password"))
	require.NoError(t, a.EnsureSuperAdmin(ctx, "ops@smartduka.test", "a-very-long-password"))

	user, err := a.Repo.GetUserByEmail(ctx, "ops@smartduka.test")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSuperAdmin, user.Role)
	assert.Empty(t, user.ShopID)

	assert.NoError(t, a.EnsureSuperAdmin(ctx, "", ""), "empty config is a no-op")
	assert.Error(t, a.EnsureSuperAdmin(ctx, "weak@smartduka.test", "short"))
}

func TestSystemContextActsAsSuperAdmin(t *testing.T) {
	actor, ok := service.ActorFromContext(SystemContext(context.Background()))
	require.True(t, ok)
	assert.True(t, actor.IsSuperAdmin())
	assert.NotEmpty(t, actor.UserID)
}
