package structuring

import "strings"

// instruction asks for the StructuredResult schema with the assistant's
// snake_case keys.
const instruction = `You will receive the OCR text of a Brazilian fiscal receipt (NFC-e / cupom fiscal) and, when available, a photo of it.
Answer with a single JSON object and nothing else, following exactly this schema.
Use null for unknown values, numbers for quantities and amounts, and YYYY-MM-DD for dates.
When CATEGORIES are given, choose category_system for each item from them.

{
  "establishment": {
    "name": string,
    "cnpj": string,
    "state_registration": string,
    "address": {
      "street": string,
      "number": string,
      "complement": string,
      "neighborhood": string | null,
      "city": string,
      "state": string,
      "postal_code": string | null
    }
  },
  "document": {
    "type": string,
    "description": string,
    "series": string,
    "number": string,
    "issue_date": string,
    "access_key": string,
    "consult_url": string,
    "receipt_url": string
  },
  "items": [
    {
      "code": string,
      "description": string,
      "quantity": number,
      "unit": string,
      "unit_price": number,
      "total_price": number,
      "category_system": string
    }
  ],
  "totals": {
    "total_items": number,
    "subtotal": number,
    "total": number,
    "payment_method": string
  },
  "customer": {
    "identified": boolean
  }
}`

// BuildPrompt is deterministic: the instruction, the OCR text and, when
// present, the hints joined as given.
func BuildPrompt(rawText string, hints []string) string {
	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString("\n\nOCR:\n\n")
	b.WriteString(rawText)
	if len(hints) > 0 {
		b.WriteString("\n\nCATEGORIES:\n")
		b.WriteString(strings.Join(hints, ", "))
	}
	return b.String()
}
