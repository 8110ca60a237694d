package domain_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerline/internal/domain"
)

func TestMoney_String(t *testing.T) {
	assert.Equal(t, "15.00", domain.Money(1500).String())
	assert.Equal(t, "-0.05", domain.Money(-5).String())
	assert.Equal(t, domain.Money(5), domain.Money(-5).Abs())
}

func TestMoneyFromDecimal_Rounds(t *testing.T) {
	assert.Equal(t, domain.Money(1235), domain.MoneyFromDecimal(decimal.RequireFromString("12.345")))
	assert.Equal(t, domain.Money(1234), domain.MoneyFromDecimal(decimal.RequireFromString("12.3449")))
}

func TestNullMoney_JSON(t *testing.T) {
	out, err := json.Marshal(struct {
		A domain.NullMoney `json:"a"`
		B domain.NullMoney `json:"b"`
	}{A: domain.SomeMoney(4200)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":4200,"b":null}`, string(out))

	var in struct {
		A domain.NullMoney `json:"a"`
		B domain.NullMoney `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":700,"b":null}`), &in))
	assert.Equal(t, domain.SomeMoney(700), in.A)
	assert.False(t, in.B.Valid)
	assert.Empty(t, in.B.String())

	assert.Error(t, json.Unmarshal([]byte(`{"a":"7.00"}`), &in))
}

func TestExtractionError_UnwrapsToSentinel(t *testing.T) {
	err := domain.NewExtractionError(domain.KindArithmeticInconsistency, domain.CheckGrandTotalMismatch,
		domain.StageAssemble, "off by %d", 3)

	assert.True(t, errors.Is(err, domain.ErrArithmeticInconsistency))
	assert.False(t, errors.Is(err, domain.ErrTimeout))
	assert.Equal(t, "ArithmeticInconsistency (grand_total_mismatch): off by 3", err.Error())
	assert.True(t, err.Fatal())

	warn := domain.NewExtractionError(domain.KindNormalizationFailure, "", domain.StageNormalize, "bad token")
	assert.Equal(t, "NormalizationFailure: bad token", warn.Error())
	assert.False(t, warn.Fatal())
}

func TestInvoiceDraft_Balanced(t *testing.T) {
	d := domain.NewDraft()
	assert.Equal(t, domain.DraftStatusProcessing, d.Status)
	assert.NotNil(t, d.LineItems)

	d.LineItems = []domain.ValidatedLineItem{
		{LineTotal: domain.SomeMoney(1500)},
		{LineTotal: domain.SomeMoney(2000)},
		{},
	}
	d.VATTotal = 700
	d.GrandTotal = 4200
	assert.Equal(t, domain.Money(3500), d.LineTotalSum())
	assert.True(t, d.Balanced())

	d.GrandTotal = 4201
	assert.False(t, d.Balanced())
}

func TestInvoiceDraft_FailAndTimeOut(t *testing.T) {
	d := domain.NewDraft()
	d.Fail(domain.NewExtractionError(domain.KindBackendUnavailable, domain.CheckNoBackend, domain.StageHeader, "none"))
	assert.Equal(t, domain.DraftStatusFailed, d.Status)
	assert.Equal(t, d.Error.Error(), d.ErrorMessage)

	d = domain.NewDraft()
	d.TimeOut(domain.NewExtractionError(domain.KindTimeout, domain.CheckCanceled, domain.StageNormalize, "stopped"))
	assert.Equal(t, domain.DraftStatusTimeout, d.Status)
	assert.ErrorIs(t, d.Error, domain.ErrTimeout)
}
