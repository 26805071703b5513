// Package transaction defines the immutable transaction record consumed by the
// scoring engine.
package transaction

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Type is the payment rail a transaction went through.
type Type string

const (
	TypePIX         Type = "PIX"
	TypeTED         Type = "TED"
	TypeBoleto      Type = "BOLETO"
	TypeDebitCard   Type = "DEBIT_CARD"
	TypeCreditCard  Type = "CREDIT_CARD"
	TypeWire        Type = "WIRE"
	TypeBillPayment Type = "BILL_PAYMENT"
)

// types lists every known Type in a fixed order. The position is used as a
// stable numeric code in feature vectors.
var types = []Type{
	TypePIX,
	TypeTED,
	TypeBoleto,
	TypeDebitCard,
	TypeCreditCard,
	TypeWire,
	TypeBillPayment,
}

// Code returns a stable numeric code for the type, or -1 if it is unknown.
func (t Type) Code() int {
	for i, known := range types {
		if known == t {
			return i
		}
	}
	return -1
}

// Valid reports whether t is one of the known types.
func (t Type) Valid() bool {
	return t.Code() >= 0
}

// categories and devices list the labels the upstream generator emits. As
// with types, the position is the feature code.
var (
	categories = []string{"Alimentação", "Transporte", "Saúde", "Educação", "Lazer", "Investimento", "Transferência"}
	devices    = []string{"Mobile", "Desktop", "Tablet"}
)

// CategoryCode returns a stable numeric code for a spending category, or -1
// if it is unknown. Matching ignores case.
func CategoryCode(category string) int {
	return labelCode(categories, category)
}

// DeviceCode returns a stable numeric code for a device label, or -1 if it
// is unknown. Matching ignores case.
func DeviceCode(device string) int {
	return labelCode(devices, device)
}

func labelCode(labels []string, s string) int {
	s = strings.TrimSpace(s)
	for i, l := range labels {
		if strings.EqualFold(l, s) {
			return i
		}
	}
	return -1
}

// ParseType accepts the canonical names plus the labels used by the upstream
// generator ("Cartão Débito", "Boleto", ...).
func ParseType(s string) (Type, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	switch norm {
	case "CARTÃO DÉBITO", "CARTAO DEBITO", "DEBIT":
		return TypeDebitCard, nil
	case "CARTÃO CRÉDITO", "CARTAO CREDITO", "CREDIT":
		return TypeCreditCard, nil
	case "INSTANT_TRANSFER", "INSTANT-TRANSFER":
		return TypePIX, nil
	case "BILL-PAYMENT":
		return TypeBillPayment, nil
	}
	t := Type(strings.ReplaceAll(norm, " ", "_"))
	if !t.Valid() {
		return "", fmt.Errorf("unknown transaction type %q", s)
	}
	return t, nil
}

// Point is a geographic coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `json:"lon" validate:"gte=-180,lte=180"`
}

// Transaction is a single financial transaction. It is created by the
// ingestion layer and never mutated afterwards.
type Transaction struct {
	ID                 string          `json:"transaction_id" validate:"required"`
	UserID             string          `json:"user_id" validate:"required"`
	Timestamp          time.Time       `json:"timestamp" validate:"required"`
	Value              decimal.Decimal `json:"value"`
	Type               Type            `json:"type" validate:"required"`
	Category           string          `json:"category" validate:"required"`
	Merchant           string          `json:"merchant,omitempty"`
	City               string          `json:"city"`
	State              string          `json:"state"`
	Device             string          `json:"device"`
	OriginAccount      string          `json:"origin_account,omitempty"`
	DestinationAccount string          `json:"destination_account,omitempty"`
	IPAddress          string          `json:"ip_address,omitempty" validate:"omitempty,ip"`
	Location           *Point          `json:"location,omitempty"`
}

// ErrInvalid is returned when a transaction fails ingestion validation.
var ErrInvalid = errors.New("invalid transaction")

var validate = validator.New()

// Validate checks the fields the scoring engine relies on. It is meant for
// the ingestion boundary; the engine assumes validated input.
func (t *Transaction) Validate() error {
	if err := validate.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", e.Namespace(), e.Tag()))
			}
			return fmt.Errorf("%w %s: %s", ErrInvalid, t.ID, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w %s: %v", ErrInvalid, t.ID, err)
	}
	if !t.Value.IsPositive() {
		return fmt.Errorf("%w %s: value must be positive, got %s", ErrInvalid, t.ID, t.Value)
	}
	if !t.Type.Valid() {
		return fmt.Errorf("%w %s: unknown type %q", ErrInvalid, t.ID, t.Type)
	}
	return nil
}
