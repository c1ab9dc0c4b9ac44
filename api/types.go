package api

import (
	"context"

	"github.com/Qualiasolutions/qualia-erp-sub000/domain"
	"github.com/Qualiasolutions/qualia-erp-sub000/storage"
)

// Storage hands out tenant-scoped record stores.
type Storage interface {
	ForTenant(tenant string) storage.Backend
}

// Changes publishes write notifications and serves realtime subscriptions.
type Changes interface {
	Publish(ctx context.Context, tenant string, ev domain.ChangeEvent) error
	Subscribe(ctx context.Context, tenant, table string, filter domain.Filter) (domain.Subscription, error)
}

// Authenticator resolves the tenant of a request.
type Authenticator interface {
	TenantFromAuthHeader(string) (string, error)
}

// Deduper prevents a write from being applied twice.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, tenant, key string) (bool, error)
	// Remove deletes a previously added key, used when the write fails.
	Remove(ctx context.Context, tenant, key string) error
}
