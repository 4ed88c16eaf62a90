package converters

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/feichai0017/receipt-processor/internal/apperr"
	"github.com/feichai0017/receipt-processor/internal/models"
)

//go:embed receipt.schema.json
var receiptSchemaJSON string

var receiptSchema = jsonschema.MustCompileString("receipt.schema.json", receiptSchemaJSON)

const opParse = "converters.ParseAssistantResponse"

// ParseAssistantResponse turns the assistant's JSON answer into a
// StructuredResult. Any shape problem is a MALFORMED_ASSISTANT_RESPONSE.
func ParseAssistantResponse(text string) (*models.StructuredResult, error) {
	raw := []byte(StripCodeFence(text))
	if len(raw) == 0 {
		return nil, apperr.Errorf(apperr.KindMalformedResponse, opParse, "empty response")
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, apperr.Errorf(apperr.KindMalformedResponse, opParse, "invalid JSON: %v", err)
	}
	if err := receiptSchema.Validate(v); err != nil {
		return nil, apperr.Errorf(apperr.KindMalformedResponse, opParse, "json does not match schema: %v", err)
	}

	var wire wireReceipt
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, apperr.Errorf(apperr.KindMalformedResponse, opParse, "decode receipt: %v", err)
	}
	return wire.toModel(), nil
}

// StripCodeFence removes a surrounding ``` or ```json fence.
func StripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// 模型返回的 JSON 结构 (snake_case)
type wireReceipt struct {
	Establishment struct {
		Name              flexString `json:"name"`
		CNPJ              flexString `json:"cnpj"`
		TaxID             flexString `json:"tax_id"`
		StateRegistration flexString `json:"state_registration"`
		Address           struct {
			Street       flexString  `json:"street"`
			Number       flexString  `json:"number"`
			Complement   flexString  `json:"complement"`
			Neighborhood *flexString `json:"neighborhood"`
			City         flexString  `json:"city"`
			State        flexString  `json:"state"`
			PostalCode   *flexString `json:"postal_code"`
		} `json:"address"`
	} `json:"establishment"`
	Document struct {
		Type        flexString `json:"type"`
		Description flexString `json:"description"`
		Series      flexString `json:"series"`
		Number      flexString `json:"number"`
		IssueDate   flexString `json:"issue_date"`
		AccessKey   flexString `json:"access_key"`
		ConsultURL  flexString `json:"consult_url"`
		ReceiptURL  flexString `json:"receipt_url"`
	} `json:"document"`
	Items []struct {
		Code           flexString `json:"code"`
		Description    flexString `json:"description"`
		Quantity       flexFloat  `json:"quantity"`
		Unit           flexString `json:"unit"`
		UnitPrice      flexFloat  `json:"unit_price"`
		TotalPrice     flexFloat  `json:"total_price"`
		CategorySystem flexString `json:"category_system"`
		Category       flexString `json:"category"`
	} `json:"items"`
	Totals struct {
		TotalItems    flexFloat  `json:"total_items"`
		Subtotal      flexFloat  `json:"subtotal"`
		Total         flexFloat  `json:"total"`
		PaymentMethod flexString `json:"payment_method"`
	} `json:"totals"`
	Customer struct {
		Identified flexBool `json:"identified"`
	} `json:"customer"`
}

func (w *wireReceipt) toModel() *models.StructuredResult {
	est := w.Establishment
	doc := w.Document

	r := &models.StructuredResult{
		Establishment: models.Establishment{
			Name:              string(est.Name),
			TaxID:             firstNonEmpty(string(est.CNPJ), string(est.TaxID)),
			StateRegistration: string(est.StateRegistration),
			Address: models.Address{
				Street:       string(est.Address.Street),
				Number:       string(est.Address.Number),
				Complement:   string(est.Address.Complement),
				Neighborhood: optional(est.Address.Neighborhood),
				City:         string(est.Address.City),
				State:        string(est.Address.State),
				PostalCode:   optional(est.Address.PostalCode),
			},
		},
		Document: models.DocumentMeta{
			Type:        string(doc.Type),
			Description: string(doc.Description),
			Series:      string(doc.Series),
			Number:      string(doc.Number),
			IssueDate:   ParseIssueDate(string(doc.IssueDate)),
			AccessKey:   digitsOnly(string(doc.AccessKey)),
			ConsultURL:  string(doc.ConsultURL),
			ReceiptURL:  string(doc.ReceiptURL),
		},
		Items: make([]models.LineItem, 0, len(w.Items)),
		Totals: models.Totals{
			TotalItems:    float64(w.Totals.TotalItems),
			Subtotal:      float64(w.Totals.Subtotal),
			Total:         float64(w.Totals.Total),
			PaymentMethod: string(w.Totals.PaymentMethod),
		},
		Customer: models.Customer{Identified: bool(w.Customer.Identified)},
	}
	for _, it := range w.Items {
		r.Items = append(r.Items, models.LineItem{
			Code:        string(it.Code),
			Description: string(it.Description),
			Quantity:    float64(it.Quantity),
			Unit:        string(it.Unit),
			UnitPrice:   float64(it.UnitPrice),
			TotalPrice:  float64(it.TotalPrice),
			Category:    firstNonEmpty(string(it.CategorySystem), string(it.Category)),
		})
	}
	return r
}

var issueDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
}

// ParseIssueDate accepts the date formats seen on receipts. Anything else is
// nil, not an error.
func ParseIssueDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range issueDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &t
		}
	}
	return nil
}

// flexString accepts strings, numbers and null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*f = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
	case len(b) > 0 && (b[0] == '{' || b[0] == '['):
		return fmt.Errorf("expected string, got %s", b)
	default:
		*f = flexString(b)
	}
	return nil
}

// flexFloat accepts numbers, null and numeric strings in either the
// "1.234,56" or the "1,234.56" form.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := parseDecimal(s)
		if err != nil {
			return err
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// parseDecimal reads amounts like "27,90", "1.234,56" and "1,234.56". When
// both separators appear the last one is the decimal mark. A separator that
// repeats on its own only groups thousands.
func parseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	normalized, err := normalizeSeparators(s)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}

func normalizeSeparators(s string) (string, error) {
	lastComma := strings.LastIndexByte(s, ',')
	lastDot := strings.LastIndexByte(s, '.')

	switch {
	case lastComma >= 0 && lastDot >= 0:
		decimal, group := ",", "."
		if lastDot > lastComma {
			decimal, group = ".", ","
		}
		if strings.Count(s, decimal) > 1 {
			return "", fmt.Errorf("ambiguous number %q", s)
		}
		whole, frac, _ := strings.Cut(s, decimal)
		if !groupedThousands(whole, group) {
			return "", fmt.Errorf("ambiguous number %q", s)
		}
		return strings.ReplaceAll(whole, group, "") + "." + frac, nil
	case lastComma >= 0:
		return singleSeparator(s, ",")
	case lastDot >= 0:
		return singleSeparator(s, ".")
	}
	return s, nil
}

// singleSeparator handles a string with only one kind of separator: once it
// is the decimal mark, repeated it groups thousands.
func singleSeparator(s, sep string) (string, error) {
	if strings.Count(s, sep) == 1 {
		return strings.Replace(s, sep, ".", 1), nil
	}
	if !groupedThousands(s, sep) {
		return "", fmt.Errorf("ambiguous number %q", s)
	}
	return strings.ReplaceAll(s, sep, ""), nil
}

// groupedThousands reports whether sep splits s into a 1-3 digit head and
// 3 digit groups.
func groupedThousands(s, sep string) bool {
	parts := strings.Split(strings.TrimPrefix(s, "-"), sep)
	if len(parts) == 1 {
		return true
	}
	if len(parts[0]) == 0 || len(parts[0]) > 3 {
		return false
	}
	for _, p := range parts[1:] {
		if len(p) != 3 {
			return false
		}
	}
	return true
}

type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = false
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "sim", "yes", "1":
			*f = true
		default:
			*f = false
		}
		return nil
	}
	var v bool
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexBool(v)
	return nil
}

func optional(f *flexString) *string {
	if f == nil || *f == "" {
		return nil
	}
	s := string(*f)
	return &s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
