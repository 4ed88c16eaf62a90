package models

import "time"

// StructuredResult is the typed extraction of one receipt. It is written once
// together with all its children and never updated.
type StructuredResult struct {
	ID            string        `json:"id"`
	DocumentID    string        `json:"documentId"`
	Establishment Establishment `json:"establishment"`
	Document      DocumentMeta  `json:"document"`
	Items         []LineItem    `json:"items"`
	Totals        Totals        `json:"totals"`
	Customer      Customer      `json:"customer"`
	CreatedAt     time.Time     `json:"createdAt"`
}

type Establishment struct {
	Name              string  `json:"name"`
	TaxID             string  `json:"taxId"`
	StateRegistration string  `json:"stateRegistration"`
	Address           Address `json:"address"`
}

type Address struct {
	Street       string  `json:"street"`
	Number       string  `json:"number"`
	Complement   string  `json:"complement"`
	Neighborhood *string `json:"neighborhood"`
	City         string  `json:"city"`
	State        string  `json:"state"`
	PostalCode   *string `json:"postalCode"`
}

type DocumentMeta struct {
	Type        string     `json:"type"`
	Description string     `json:"description"`
	Series      string     `json:"series"`
	Number      string     `json:"number"`
	IssueDate   *time.Time `json:"issueDate"`
	AccessKey   string     `json:"accessKey"`
	ConsultURL  string     `json:"consultUrl"`
	ReceiptURL  string     `json:"receiptUrl"`
}

type LineItem struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
	UnitPrice   float64 `json:"unitPrice"`
	TotalPrice  float64 `json:"totalPrice"`
	Category    string  `json:"category"`
}

type Totals struct {
	TotalItems    float64 `json:"totalItems"`
	Subtotal      float64 `json:"subtotal"`
	Total         float64 `json:"total"`
	PaymentMethod string  `json:"paymentMethod"`
}

type Customer struct {
	Identified bool `json:"identified"`
}
