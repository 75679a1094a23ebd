package customer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/smartshop/internal/domain/apperr"
	"github.com/xenking/smartshop/internal/domain/customer"
	"github.com/xenking/smartshop/internal/storage/memory"
)

func TestCreate(t *testing.T) {
	ctx := context.Background()
	svc := customer.NewService(memory.NewStore().Customers())

	c, err := svc.Create(ctx, customer.CreateRequest{Name: "Grace Hopper", Email: "Grace@Example.com"})
	require.NoError(t, err)
	assert.Equal(t, customer.TierBasic, c.Tier)
	assert.Equal(t, "grace@example.com", c.Email)

	_, err = svc.Create(ctx, customer.CreateRequest{Name: "Grace", Email: "grace@example.com"})
	require.ErrorIs(t, err, apperr.ErrConflict)

	_, err = svc.Create(ctx, customer.CreateRequest{Name: "", Email: "x@example.com"})
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Create(ctx, customer.CreateRequest{Name: "X", Email: "not-an-email"})
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Get(ctx, 999)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestTierOrder(t *testing.T) {
	assert.True(t, customer.TierPlatinum.Above(customer.TierGold))
	assert.True(t, customer.TierSilver.Above(customer.TierBasic))
	assert.False(t, customer.TierBasic.Above(customer.TierBasic))

	tier, err := customer.ParseTier(" gold ")
	require.NoError(t, err)
	assert.Equal(t, customer.TierGold, tier)

	_, err = customer.ParseTier("diamond")
	require.Error(t, err)
}
