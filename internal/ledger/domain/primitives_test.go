package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestComputeLineTotal(t *testing.T) {
	cases := []struct {
		name                string
		qty, price, taxRate string
		want                string
	}{
		{"no tax", "2", "1500", "0", "3000"},
		{"eighteen percent", "1", "1000", "18", "1180"},
		{"fractional", "3", "33.33", "5", "104.9895"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeLineTotal(d(tc.qty), d(tc.price), d(tc.taxRate))
			assert.True(t, got.Equal(d(tc.want)), "got %s", got)
		})
	}
}

func TestClampNonNegative(t *testing.T) {
	assert.True(t, ClampNonNegative(d("-0.01")).Equal(decimal.Zero))
	assert.True(t, ClampNonNegative(d("12.5")).Equal(d("12.5")))
	assert.True(t, ComputeInvoiceBalance(d("1000"), d("1200")).Equal(decimal.Zero))
	assert.True(t, ComputeInvoiceBalance(d("1000"), d("400")).Equal(d("600")))
}

func TestDeriveInvoiceStatus(t *testing.T) {
	assert.Equal(t, InvoiceStatusPaid, DeriveInvoiceStatus(d("1000"), d("1000"), InvoiceStatusSent))
	assert.Equal(t, InvoiceStatusPaid, DeriveInvoiceStatus(d("1000.01"), d("1000"), InvoiceStatusPartiallyPaid))
	assert.Equal(t, InvoiceStatusPartiallyPaid, DeriveInvoiceStatus(d("0.01"), d("1000"), InvoiceStatusSent))
	assert.Equal(t, InvoiceStatusSent, DeriveInvoiceStatus(decimal.Zero, d("1000"), InvoiceStatusSent))
	assert.Equal(t, InvoiceStatusDraft, DeriveInvoiceStatus(decimal.Zero, d("1000"), InvoiceStatusDraft))
}

func TestRoundingAndPercentage(t *testing.T) {
	assert.True(t, RoundMoney(d("104.9895")).Equal(d("104.99")))
	assert.True(t, RoundMoney(d("0.005")).Equal(d("0.01")))
	assert.True(t, Percentage(d("2000"), d("10")).Equal(d("200")))
	assert.True(t, Percentage(d("999.99"), d("12.5")).Equal(d("125")))
}

func TestStateGuards(t *testing.T) {
	assert.True(t, CanRefund(InvoiceStatusPaid))
	assert.True(t, CanRefund(InvoiceStatusPartiallyPaid))
	assert.False(t, CanRefund(InvoiceStatusDraft))
	assert.False(t, CanRefund(InvoiceStatusRefunded))

	assert.False(t, AcceptsPayment(InvoiceStatusRefunded, d("10")))
	assert.False(t, AcceptsPayment(InvoiceStatusPaid, decimal.Zero))
	assert.True(t, AcceptsPayment(InvoiceStatusSent, d("10")))
}
