// Package fiscal implements the signing stack: the TSE actor with its
// monotonic counters and HMAC signatures, the one-shot fiscal transaction
// envelope, the cloud-TSS client and coordinator, and the order bridge that
// drives signing from the order stream.
package fiscal

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/gastroline/backoffice/internal/domain"
)

// Process types as written by the till, with their cloud-TSS equivalents.
const (
	ProcessTypeReceipt  = "Kassenbeleg"
	ProcessTypeTransfer = "AVTransfer"
	ProcessTypeOrder    = "AVBestellung"
)

// Tax rate tags.
const (
	TaxNormal   = "NORMAL"
	TaxReduced  = "REDUCED"
	TaxReduced2 = "REDUCED2"
	TaxNull     = "NULL"
)

// Payment type tags.
const (
	PaymentCash = "CASH"
	PaymentCard = "CARD"
)

var cloudTaxTags = map[string]string{
	TaxNormal:   "NORMAL",
	TaxReduced:  "REDUCED_1",
	TaxReduced2: "REDUCED_2",
	TaxNull:     "NULL",
}

var cloudPaymentTags = map[string]string{
	PaymentCash: "CASH",
	PaymentCard: "NON_CASH",
}

// CloudTaxTag maps a till tax tag to the cloud-TSS vocabulary.
func CloudTaxTag(tag string) string {
	if t, ok := cloudTaxTags[tag]; ok {
		return t
	}
	return tag
}

// CloudPaymentTag maps a till payment tag to the cloud-TSS vocabulary.
func CloudPaymentTag(tag string) string {
	if t, ok := cloudPaymentTags[tag]; ok {
		return t
	}
	return "NON_CASH"
}

// CloudProcessType maps a till process type to the cloud receipt type.
// Unknown types fall back to RECEIPT.
func CloudProcessType(processType string) string {
	switch processType {
	case ProcessTypeTransfer:
		return "TRANSFER"
	case ProcessTypeOrder:
		return "ORDER"
	default:
		return "RECEIPT"
	}
}

// Amounts is the decoded process-data content: one gross total plus net,
// tax and payment splits keyed by tag.
type Amounts struct {
	Gross    decimal.Decimal            `json:"gross"`
	Net      map[string]decimal.Decimal `json:"net"`
	Tax      map[string]decimal.Decimal `json:"tax"`
	Payments map[string]decimal.Decimal `json:"payments"`
}

// EncodeProcessData renders the wire form
// `gross^net^tax^payments`, each split a comma-separated TAG:VALUE list with
// two-decimal values. Tags are emitted in sorted order so the encoding is
// deterministic; the signature depends on it.
func EncodeProcessData(a Amounts) string {
	return strings.Join([]string{
		a.Gross.StringFixed(2),
		encodeTagged(a.Net),
		encodeTagged(a.Tax),
		encodeTagged(a.Payments),
	}, "^")
}

func encodeTagged(m map[string]decimal.Decimal) string {
	tags := make([]string, 0, len(m))
	for tag := range m {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	parts := make([]string, 0, len(tags))
	for _, tag := range tags {
		parts = append(parts, tag+":"+m[tag].StringFixed(2))
	}
	return strings.Join(parts, ",")
}

// DecodeProcessData parses the wire form back into Amounts.
func DecodeProcessData(s string) (Amounts, error) {
	fields := strings.Split(s, "^")
	if len(fields) != 4 {
		return Amounts{}, domain.Precondition("process data needs 4 ^-separated fields, got %d", len(fields))
	}
	gross, err := decimal.NewFromString(fields[0])
	if err != nil {
		return Amounts{}, domain.Precondition("bad gross amount %q: %v", fields[0], err)
	}
	net, err := decodeTagged(fields[1])
	if err != nil {
		return Amounts{}, fmt.Errorf("net amounts: %w", err)
	}
	tax, err := decodeTagged(fields[2])
	if err != nil {
		return Amounts{}, fmt.Errorf("tax amounts: %w", err)
	}
	payments, err := decodeTagged(fields[3])
	if err != nil {
		return Amounts{}, fmt.Errorf("payment types: %w", err)
	}
	return Amounts{Gross: gross, Net: net, Tax: tax, Payments: payments}, nil
}

func decodeTagged(s string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	if s == "" {
		return out, nil
	}
	for _, part := range strings.Split(s, ",") {
		tag, value, ok := strings.Cut(part, ":")
		if !ok || tag == "" {
			return nil, domain.Precondition("bad TAG:VALUE pair %q", part)
		}
		d, err := decimal.NewFromString(value)
		if err != nil {
			return nil, domain.Precondition("bad value in pair %q: %v", part, err)
		}
		out[tag] = d
	}
	return out, nil
}
