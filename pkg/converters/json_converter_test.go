package converters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/receipt-processor/internal/apperr"
)

const sampleResponse = `{
  "establishment": {
    "name": "SUPERMERCADO BOM PRECO LTDA",
    "cnpj": "12.345.678/0001-90",
    "state_registration": "123456789",
    "address": {
      "street": "RUA DAS FLORES",
      "number": "100",
      "complement": "",
      "neighborhood": null,
      "city": "SAO PAULO",
      "state": "SP",
      "postal_code": "01001-000"
    }
  },
  "document": {
    "type": "NFC-e",
    "description": "Documento Auxiliar da Nota Fiscal de Consumidor Eletronica",
    "series": "1",
    "number": 12345,
    "issue_date": "15/03/2024",
    "access_key": "3524 0312 3456 7800 0190 6500 1000 0123 4510 0012 3456",
    "consult_url": "https://www.nfce.fazenda.sp.gov.br/consulta",
    "receipt_url": null
  },
  "items": [
    {"code": "001", "description": "ARROZ 5KG", "quantity": 1, "unit": "UN", "unit_price": 25.9, "total_price": 25.9, "category_system": "Mercado"},
    {"code": "002", "description": "CAFE 500G", "quantity": "2", "unit": "UN", "unit_price": "1.234,50", "total_price": "2469,00", "category": "Mercado"}
  ],
  "totals": {"total_items": 2, "subtotal": 2494.9, "total": 2494.9, "payment_method": "PIX"},
  "customer": {"identified": false}
}`

func TestParseAssistantResponse(t *testing.T) {
	r, err := ParseAssistantResponse(sampleResponse)
	require.NoError(t, err)

	assert.Equal(t, "SUPERMERCADO BOM PRECO LTDA", r.Establishment.Name)
	assert.Equal(t, "12.345.678/0001-90", r.Establishment.TaxID)
	assert.Nil(t, r.Establishment.Address.Neighborhood)
	require.NotNil(t, r.Establishment.Address.PostalCode)
	assert.Equal(t, "01001-000", *r.Establishment.Address.PostalCode)

	assert.Equal(t, "12345", r.Document.Number)
	assert.Equal(t, "35240312345678000190650010000123451000123456", r.Document.AccessKey)
	assert.Empty(t, r.Document.ReceiptURL)
	require.NotNil(t, r.Document.IssueDate)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), *r.Document.IssueDate)

	require.Len(t, r.Items, 2)
	assert.Equal(t, "Mercado", r.Items[0].Category)
	assert.Equal(t, "Mercado", r.Items[1].Category)
	assert.Equal(t, 2.0, r.Items[1].Quantity)
	assert.InDelta(t, 1234.5, r.Items[1].UnitPrice, 1e-9)
	assert.InDelta(t, 2469.0, r.Items[1].TotalPrice, 1e-9)

	assert.Equal(t, 2.0, r.Totals.TotalItems)
	assert.Equal(t, "PIX", r.Totals.PaymentMethod)
	assert.False(t, r.Customer.Identified)
}

func TestParseAssistantResponseFenced(t *testing.T) {
	r, err := ParseAssistantResponse("```json\n" + sampleResponse + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "SP", r.Establishment.Address.State)
}

func TestParseAssistantResponseMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":          "   ",
		"not json":       "Desculpe, não consegui ler o cupom.",
		"missing totals": `{"establishment":{},"document":{},"items":[],"customer":{}}`,
		"items object":   `{"establishment":{},"document":{},"items":{},"totals":{},"customer":{}}`,
		"bad number":     `{"establishment":{},"document":{},"items":[{"quantity":"abc"}],"totals":{},"customer":{}}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAssistantResponse(in)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrMalformedResponse)
		})
	}
}

func TestParseDecimal(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"12,50", 12.5},
		{"12.50", 12.5},
		{"1.234,56", 1234.56},
		{"1,234.56", 1234.56},
		{"1.234.567,89", 1234567.89},
		{"1,234,567.89", 1234567.89},
		{"1.234.567", 1234567},
		{"R$ 27,90", 27.9},
		{"-3,10", -3.1},
		{"", 0},
	}
	for _, tc := range cases {
		got, err := parseDecimal(tc.in)
		require.NoError(t, err, tc.in)
		assert.InDelta(t, tc.want, got, 1e-9, tc.in)
	}

	for _, in := range []string{"1,2.3,4", "1,23.45", "12,34,5", "1.2.3", "abc"} {
		_, err := parseDecimal(in)
		assert.Error(t, err, in)
	}
}

func TestParseAssistantResponseThousandsSeparator(t *testing.T) {
	r, err := ParseAssistantResponse(`{"establishment":{},"document":{},"items":[],"totals":{"total":"1,234.56","subtotal":"1.234,56"},"customer":{}}`)
	require.NoError(t, err)
	assert.InDelta(t, 1234.56, r.Totals.Total, 1e-9)
	assert.InDelta(t, 1234.56, r.Totals.Subtotal, 1e-9)

	_, err = ParseAssistantResponse(`{"establishment":{},"document":{},"items":[],"totals":{"total":"1,2.3,4"},"customer":{}}`)
	assert.ErrorIs(t, err, apperr.ErrMalformedResponse)
}

func TestParseAssistantResponseMinimal(t *testing.T) {
	r, err := ParseAssistantResponse(`{"establishment":{},"document":{},"items":[],"totals":{},"customer":{}}`)
	require.NoError(t, err)
	assert.Empty(t, r.Items)
	assert.Nil(t, r.Document.IssueDate)
}

func TestParseIssueDate(t *testing.T) {
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2024-03-15", "2024-03-15T10:20:30Z", "2024-03-15T10:20:30-03:00", "15/03/2024", "15/03/2024 10:20:30"} {
		got := ParseIssueDate(in)
		require.NotNil(t, got, in)
		assert.Equal(t, want, *got, in)
	}
	assert.Nil(t, ParseIssueDate(""))
	assert.Nil(t, ParseIssueDate("março de 2024"))
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFence("```\n{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, StripCodeFence("  {\"a\":1}  "))
}
