package fiscal

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEncodeProcessData(t *testing.T) {
	encoded := EncodeProcessData(Amounts{
		Gross: d("119.00"),
		Net: map[string]decimal.Decimal{
			TaxReduced: d("18.69"),
			TaxNormal:  d("84.03"),
		},
		Tax: map[string]decimal.Decimal{
			TaxReduced: d("1.31"),
			TaxNormal:  d("15.97"),
		},
		Payments: map[string]decimal.Decimal{
			PaymentCard: d("100"),
			PaymentCash: d("19"),
		},
	})

	// Tags sort alphabetically so the encoding is stable across runs
	assert.Equal(t,
		"119.00^NORMAL:84.03,REDUCED:18.69^NORMAL:15.97,REDUCED:1.31^CARD:100.00,CASH:19.00",
		encoded)
}

func TestEncodeProcessDataEmptySplits(t *testing.T) {
	assert.Equal(t, "5.00^^^", EncodeProcessData(Amounts{Gross: d("5")}))
}

func TestDecodeProcessDataRoundTrip(t *testing.T) {
	in := Amounts{
		Gross:    d("42.50"),
		Net:      map[string]decimal.Decimal{TaxNormal: d("35.71")},
		Tax:      map[string]decimal.Decimal{TaxNormal: d("6.79")},
		Payments: map[string]decimal.Decimal{PaymentCash: d("42.50")},
	}

	out, err := DecodeProcessData(EncodeProcessData(in))
	require.NoError(t, err)

	assert.True(t, in.Gross.Equal(out.Gross))
	assert.True(t, in.Net[TaxNormal].Equal(out.Net[TaxNormal]))
	assert.True(t, in.Tax[TaxNormal].Equal(out.Tax[TaxNormal]))
	assert.True(t, in.Payments[PaymentCash].Equal(out.Payments[PaymentCash]))
}

func TestDecodeProcessDataRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"10.00^NORMAL:8.40^NORMAL:1.60",           // three fields
		"10.00^NORMAL:8.40^NORMAL:1.60^CASH:10^x", // five fields
		"abc^^^",                                  // bad gross
		"10.00^NORMAL^^CASH:10.00",                // pair without value
		"10.00^:8.40^^CASH:10.00",                 // empty tag
		"10.00^NORMAL:x^^CASH:10.00",              // non-numeric value
	}
	for _, c := range cases {
		_, err := DecodeProcessData(c)
		assert.Error(t, err, "input %q", c)
	}
}

func TestCloudTagMappings(t *testing.T) {
	assert.Equal(t, "NORMAL", CloudTaxTag(TaxNormal))
	assert.Equal(t, "REDUCED_1", CloudTaxTag(TaxReduced))
	assert.Equal(t, "REDUCED_2", CloudTaxTag(TaxReduced2))
	assert.Equal(t, "NULL", CloudTaxTag(TaxNull))
	assert.Equal(t, "SPECIAL", CloudTaxTag("SPECIAL"), "unknown tax tags pass through")

	assert.Equal(t, "CASH", CloudPaymentTag(PaymentCash))
	assert.Equal(t, "NON_CASH", CloudPaymentTag(PaymentCard))
	assert.Equal(t, "NON_CASH", CloudPaymentTag("VOUCHER"), "unknown payments are non-cash")
}

func TestCloudProcessType(t *testing.T) {
	assert.Equal(t, "RECEIPT", CloudProcessType(ProcessTypeReceipt))
	assert.Equal(t, "TRANSFER", CloudProcessType(ProcessTypeTransfer))
	assert.Equal(t, "ORDER", CloudProcessType(ProcessTypeOrder))
	assert.Equal(t, "RECEIPT", CloudProcessType("SomethingElse"))
}
