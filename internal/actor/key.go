package actor

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies an actor type. The kind is fully determined by the shape
// of the actor key, so routing needs no out-of-band type information.
type Kind string

const (
	KindFiscalDevice         Kind = "fiscaldevice"
	KindFiscalDeviceRegistry Kind = "fiscaldeviceregistry"
	KindTse                  Kind = "tse"
	KindFiscalTransaction    Kind = "fiscaltransaction"
	KindInventory            Kind = "inventory"
	KindInventoryLedger      Kind = "inventoryledger"
	KindStockTake            Kind = "stocktake"
	KindTransfer             Kind = "transfer"
	KindOrderFiscal          Kind = "orderfiscal"
	KindIdempotency          Kind = "idempotency"
	KindLocationRegistry     Kind = "locationregistry"
	KindTransactionIndex     Kind = "fiscaltransactionindex"
)

var ErrBadKey = errors.New("malformed actor key")

// Key is a parsed actor identity. Every key is prefixed with the organization
// id; site and entity segments depend on the kind.
type Key struct {
	Kind Kind
	Org  string
	Site string
	ID   string
}

// String renders the canonical colon-delimited form.
func (k Key) String() string {
	switch k.Kind {
	case KindFiscalDevice, KindTse, KindFiscalTransaction:
		return fmt.Sprintf("%s:%s:%s", k.Org, k.Kind, k.ID)
	case KindFiscalDeviceRegistry, KindOrderFiscal, KindLocationRegistry, KindTransactionIndex:
		return fmt.Sprintf("%s:%s:%s", k.Org, k.Site, k.Kind)
	case KindInventory, KindInventoryLedger:
		return fmt.Sprintf("%s:%s:%s:%s", k.Org, k.Site, k.ID, k.Kind)
	case KindStockTake, KindTransfer:
		return fmt.Sprintf("%s:%s:%s:%s", k.Org, k.Site, k.Kind, k.ID)
	case KindIdempotency:
		return fmt.Sprintf("%s:%s", k.Org, k.Kind)
	}
	return ""
}

// Convenience constructors for the canonical key forms.

func InventoryKey(org, site, ingredientID string) Key {
	return Key{Kind: KindInventory, Org: org, Site: site, ID: ingredientID}
}

func LedgerKey(org, site, ingredientID string) Key {
	return Key{Kind: KindInventoryLedger, Org: org, Site: site, ID: ingredientID}
}

func TransferKey(org, site, transferID string) Key {
	return Key{Kind: KindTransfer, Org: org, Site: site, ID: transferID}
}

func StockTakeKey(org, site, stockTakeID string) Key {
	return Key{Kind: KindStockTake, Org: org, Site: site, ID: stockTakeID}
}

func TseKey(org, tseID string) Key {
	return Key{Kind: KindTse, Org: org, ID: tseID}
}

func FiscalDeviceKey(org, deviceID string) Key {
	return Key{Kind: KindFiscalDevice, Org: org, ID: deviceID}
}

func FiscalTransactionKey(org, transactionID string) Key {
	return Key{Kind: KindFiscalTransaction, Org: org, ID: transactionID}
}

func FiscalDeviceRegistryKey(org, site string) Key {
	return Key{Kind: KindFiscalDeviceRegistry, Org: org, Site: site}
}

func OrderFiscalKey(org, site string) Key {
	return Key{Kind: KindOrderFiscal, Org: org, Site: site}
}

func LocationRegistryKey(org, site string) Key {
	return Key{Kind: KindLocationRegistry, Org: org, Site: site}
}

func IdempotencyKey(org string) Key {
	return Key{Kind: KindIdempotency, Org: org}
}

func TransactionIndexKey(org, site string) Key {
	return Key{Kind: KindTransactionIndex, Org: org, Site: site}
}

// ParseKey parses a raw colon-delimited actor key. Keys with the wrong arity
// for their kind marker are rejected.
func ParseKey(raw string) (Key, error) {
	parts := strings.Split(raw, ":")
	for _, p := range parts {
		if p == "" {
			return Key{}, fmt.Errorf("%w: empty segment in %q", ErrBadKey, raw)
		}
	}

	switch len(parts) {
	case 2:
		if Kind(parts[1]) == KindIdempotency {
			return Key{Kind: KindIdempotency, Org: parts[0]}, nil
		}
	case 3:
		switch Kind(parts[1]) {
		case KindFiscalDevice, KindTse, KindFiscalTransaction:
			return Key{Kind: Kind(parts[1]), Org: parts[0], ID: parts[2]}, nil
		}
		switch Kind(parts[2]) {
		case KindFiscalDeviceRegistry, KindOrderFiscal, KindLocationRegistry, KindTransactionIndex:
			return Key{Kind: Kind(parts[2]), Org: parts[0], Site: parts[1]}, nil
		}
	case 4:
		switch Kind(parts[3]) {
		case KindInventory, KindInventoryLedger:
			return Key{Kind: Kind(parts[3]), Org: parts[0], Site: parts[1], ID: parts[2]}, nil
		}
		switch Kind(parts[2]) {
		case KindStockTake, KindTransfer:
			return Key{Kind: Kind(parts[2]), Org: parts[0], Site: parts[1], ID: parts[3]}, nil
		}
	}

	return Key{}, fmt.Errorf("%w: %q", ErrBadKey, raw)
}
