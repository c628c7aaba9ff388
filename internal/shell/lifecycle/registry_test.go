package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/nubo/internal/core/catalog"
	"github.com/artpar/nubo/internal/core/domain"
	"github.com/artpar/nubo/internal/shell/driver"
	"github.com/artpar/nubo/internal/shell/store"
)

func registerRegistry(t *testing.T, svc *Service, st store.Store) *domain.Registry {
	t.Helper()
	userID, err := st.ResolveUser(context.Background(), "owner@example.com", "Owner")
	require.NoError(t, err)

	registry, err := svc.CreateRegistry(context.Background(), CreateRegistryParams{
		UserID:   userID,
		Name:     "images",
		Provider: domain.ProviderAWS,
		Region:   "eu-west-3",
		Type:     "private",
	})
	require.NoError(t, err)
	return registry
}

func TestCreateRegistry_RegistersStarting(t *testing.T) {
	svc, st, _ := setupService(t)

	registry := registerRegistry(t, svc, st)
	assert.NotZero(t, registry.ID)
	assert.Equal(t, domain.StatusStarting, registry.Status)
}

func TestCreateRegistry_UnknownVisibility(t *testing.T) {
	svc, st, _ := setupService(t)
	userID, err := st.ResolveUser(context.Background(), "owner@example.com", "Owner")
	require.NoError(t, err)

	_, err = svc.CreateRegistry(context.Background(), CreateRegistryParams{
		UserID:   userID,
		Name:     "images",
		Provider: domain.ProviderAWS,
		Region:   "eu-west-3",
		Type:     "hidden",
	})
	var lookupErr *catalog.LookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.Equal(t, "registry_type_unknown", lookupErr.Code)
}

func TestRotateRegistryCredentials(t *testing.T) {
	svc, st, fd := setupService(t)
	ctx := context.Background()
	registry := registerRegistry(t, svc, st)

	fd.creds = driver.Credentials{
		Endpoint:  "123456789.dkr.ecr.eu-west-3.amazonaws.com",
		AccessKey: "AWS",
		SecretKey: "token-new",
	}

	got, err := svc.RotateRegistryCredentials(ctx, registry.ID)
	require.NoError(t, err)
	assert.Equal(t, "token-new", got.SecretKey)

	fresh, err := st.GetRegistry(ctx, registry.ID)
	require.NoError(t, err)
	assert.Equal(t, "token-new", fresh.SecretKey)
}

func TestDeleteRegistry_SoftDeletesAndEnqueuesTeardown(t *testing.T) {
	svc, st, _ := setupService(t)
	ctx := context.Background()
	registry := registerRegistry(t, svc, st)

	require.NoError(t, svc.DeleteRegistry(ctx, registry.ID))

	got, err := st.GetRegistry(ctx, registry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeleted, got.Status)

	pending, err := st.ListPendingTeardowns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.ResourceTypeRegistry, pending[0].ResourceType)

	// Idempotent
	require.NoError(t, svc.DeleteRegistry(ctx, registry.ID))
	pending, err = st.ListPendingTeardowns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRefreshRegistry_PatchesVisibility(t *testing.T) {
	svc, st, fd := setupService(t)
	ctx := context.Background()
	registry := registerRegistry(t, svc, st)

	fd.refreshRes = &driver.RefreshResult{Type: "public"}

	got, err := svc.RefreshRegistry(ctx, registry.ID)
	require.NoError(t, err)
	assert.Equal(t, "public", got.Type)
}

func TestTransferRegistry(t *testing.T) {
	svc, st, _ := setupService(t)
	ctx := context.Background()
	registry := registerRegistry(t, svc, st)

	require.NoError(t, svc.TransferRegistry(ctx, registry.ID, "new-owner@example.com"))

	got, err := st.GetRegistry(ctx, registry.ID)
	require.NoError(t, err)
	assert.NotEqual(t, registry.UserID, got.UserID)
}
