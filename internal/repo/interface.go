package repo

import (
	"context"
	"errors"
)

// Document names. Each one is persisted as a single JSON value and rewritten
// wholesale on every save.
const (
	DocUsers            = "users"
	DocServices         = "services"
	DocOrders           = "orders"
	DocPayments         = "payments"
	DocCustomRates      = "custom-rates"
	DocServiceOverrides = "service-overrides"
)

// Documents lists every document in load order.
var Documents = []string{
	DocUsers,
	DocServices,
	DocOrders,
	DocPayments,
	DocCustomRates,
	DocServiceOverrides,
}

// ErrDocumentNotFound is returned by Load when a document was never saved.
var ErrDocumentNotFound = errors.New("document not found")

// Backend persists whole JSON documents by name.
type Backend interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
	Close() error
}
