package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizpulse/internal/types"
)

func TestParseEvent_Valid(t *testing.T) {
	payload := []byte(`{
		"id": "evt_1",
		"type": "invoice.payment_succeeded",
		"created": 1772323200,
		"data": {"object": {"id": "in_1"}}
	}`)

	ev, err := ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, EventInvoicePaid, ev.Type)
	assert.Equal(t, time.Unix(1772323200, 0).UTC(), ev.OccurredAt())
}

func TestParseEvent_MalformedJSON(t *testing.T) {
	_, err := ParseEvent([]byte(`{"id": "evt_1",`))
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeValidationMalformedEvent, appErr.Code)
	assert.False(t, types.IsTransient(err))
}

func TestParseEvent_MissingIDOrType(t *testing.T) {
	cases := []string{
		`{"type": "invoice.payment_succeeded", "data": {}}`,
		`{"id": "evt_1", "data": {}}`,
	}
	for _, payload := range cases {
		_, err := ParseEvent([]byte(payload))
		require.Error(t, err)

		var appErr *types.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)
	}
}

func TestEvent_CheckoutSession_TenantResolution(t *testing.T) {
	ev := mustEvent(t, "evt_1", EventCheckoutCompleted, map[string]any{
		"id":                  "cs_1",
		"mode":                "payment",
		"client_reference_id": "tnt_ref",
		"metadata":            map[string]string{"tenant_id": "tnt_meta"},
	})

	session, err := ev.CheckoutSession()
	require.NoError(t, err)
	assert.Equal(t, "tnt_ref", session.TenantID())

	// Without client_reference_id the metadata map is the fallback.
	ev = mustEvent(t, "evt_2", EventCheckoutCompleted, map[string]any{
		"id":       "cs_2",
		"metadata": map[string]string{"tenant_id": "tnt_meta"},
	})
	session, err = ev.CheckoutSession()
	require.NoError(t, err)
	assert.Equal(t, "tnt_meta", session.TenantID())
}

func TestEvent_CheckoutSession_MissingID(t *testing.T) {
	ev := mustEvent(t, "evt_1", EventCheckoutCompleted, map[string]any{"mode": "payment"})

	_, err := ev.CheckoutSession()
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)
}

func TestSubscriptionObject_LocalStatus(t *testing.T) {
	cases := map[string]types.SubscriptionStatus{
		"active":             types.SubStatusActive,
		"past_due":           types.SubStatusPastDue,
		"unpaid":             types.SubStatusPastDue,
		"canceled":           types.SubStatusCanceled,
		"incomplete_expired": types.SubStatusCanceled,
		"incomplete":         types.SubStatusPending,
		"trialing":           types.SubStatusPending,
		"some_future_status": types.SubStatusPending,
	}
	for provider, want := range cases {
		sub := &SubscriptionObject{Status: provider}
		assert.Equal(t, want, sub.LocalStatus(), "provider status %q", provider)
	}
}

func TestSubscriptionObject_PeriodBounds(t *testing.T) {
	sub := &SubscriptionObject{CurrentPeriodStart: 1772323200}

	start := sub.PeriodStart()
	require.NotNil(t, start)
	assert.Equal(t, time.Unix(1772323200, 0).UTC(), *start)
	assert.Nil(t, sub.PeriodEnd())
}

func TestInvoice_MetaPrecedence(t *testing.T) {
	inv := &Invoice{
		Metadata:            map[string]string{"tenant_id": "tnt_invoice", "credits": "100"},
		SubscriptionDetails: &invoiceSubDetail{Metadata: map[string]string{"tenant_id": "tnt_sub"}},
	}

	assert.Equal(t, "tnt_sub", inv.Meta("tenant_id"))
	assert.Equal(t, "100", inv.Meta("credits"))
	assert.Equal(t, "", inv.Meta("plan_id"))
}

func TestCreditsFromMeta(t *testing.T) {
	n, err := creditsFromMeta(map[string]string{"credits": "500"})
	require.NoError(t, err)
	assert.Equal(t, int64(500), n)

	n, err = creditsFromMeta(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = creditsFromMeta(map[string]string{"credits": ""})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	for _, bad := range []string{"lots", "-5", "1.5"} {
		_, err = creditsFromMeta(map[string]string{"credits": bad})
		require.Error(t, err, "credits %q", bad)

		var appErr *types.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, types.ErrCodeValidationMalformedEvent, appErr.Code)
	}
}
