package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront-checkout/internal/pkg/apperr"
)

func TestMock_ConfirmSucceeds(t *testing.T) {
	ctx := context.Background()
	m := NewMock(50000, nil)

	in, err := m.CreateIntent(ctx, IntentRequest{AmountMinor: 6059, Currency: "eur", Metadata: map[string]string{"order_id": "o1"}})
	require.NoError(t, err)
	assert.NotEmpty(t, in.ClientSecret)
	assert.Equal(t, "o1", m.Metadata(in.ID)["order_id"])

	c, err := m.Confirm(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, c.Status)

	// a second confirmation reports the settled state
	c, err = m.Confirm(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, c.Status)
}

func TestMock_DeclinesAboveLimit(t *testing.T) {
	ctx := context.Background()
	m := NewMock(50000, nil)

	in, err := m.CreateIntent(ctx, IntentRequest{AmountMinor: 50001, Currency: "eur"})
	require.NoError(t, err)

	c, err := m.Confirm(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, c.Status)
	assert.Equal(t, "card_declined", c.Reason)
}

func TestMock_IdempotencyKeyReturnsSameIntent(t *testing.T) {
	ctx := context.Background()
	m := NewMock(0, nil)

	a, err := m.CreateIntent(ctx, IntentRequest{AmountMinor: 100, Currency: "eur", IdempotencyKey: "k1"})
	require.NoError(t, err)
	b, err := m.CreateIntent(ctx, IntentRequest{AmountMinor: 100, Currency: "eur", IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
}

func TestMock_CancelAndOverrides(t *testing.T) {
	ctx := context.Background()
	m := NewMock(0, nil)

	in, err := m.CreateIntent(ctx, IntentRequest{AmountMinor: 100, Currency: "eur"})
	require.NoError(t, err)
	require.NoError(t, m.Cancel(ctx, in.ID))

	got, err := m.Retrieve(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, got.Status)

	other, err := m.CreateIntent(ctx, IntentRequest{AmountMinor: 100, Currency: "eur"})
	require.NoError(t, err)
	m.SetOutcome(other.ID, StatusProcessing, "")
	c, err := m.Confirm(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, c.Status)

	_, err = m.Confirm(ctx, "pi_missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestMock_FailCreate(t *testing.T) {
	m := NewMock(0, nil)
	m.FailCreate(errors.New("connection refused"))

	_, err := m.CreateIntent(context.Background(), IntentRequest{AmountMinor: 100, Currency: "eur"})
	var perr *apperr.PaymentProviderError
	require.ErrorAs(t, err, &perr)
	assert.False(t, perr.Declined)
}
