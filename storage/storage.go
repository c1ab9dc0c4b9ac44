package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"github.com/Qualiasolutions/qualia-erp-sub000/domain"
)

// Backend is a record store scoped to one tenant.
type Backend interface {
	FetchMany(ctx context.Context, table string, filter domain.Filter) ([]domain.Task, error)
	GetOne(ctx context.Context, table, id string) (domain.Task, error)
	InsertOne(ctx context.Context, table string, rec domain.Task) (domain.Task, error)
	UpdateOne(ctx context.Context, table, id string, fields domain.Fields) (domain.Task, error)
	DeleteOne(ctx context.Context, table, id string) error
}

// Provider hands out tenant-scoped backends.
type Provider interface {
	ForTenant(tenant string) Backend
}

// entityClient is the subset of *aztables.Client the store uses.
type entityClient interface {
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	GetEntity(ctx context.Context, partitionKey string, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey string, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
}

var tableNameRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{2,62}$`)

// ValidTableName reports whether name is usable as a table name.
func ValidTableName(name string) bool {
	return tableNameRE.MatchString(name)
}

// Tables stores records in Azure Table Storage, one partition per tenant and
// one row per record.
type Tables struct {
	open func(table string) entityClient

	mu      sync.Mutex
	clients map[string]entityClient
}

// New creates a Tables store from the given connection string.
func New(connStr string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return newTables(func(table string) entityClient { return svc.NewClient(table) }), nil
}

func newTables(open func(table string) entityClient) *Tables {
	return &Tables{open: open, clients: make(map[string]entityClient)}
}

func (t *Tables) client(table string) (entityClient, error) {
	if !ValidTableName(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.clients[table]
	if !ok {
		c = t.open(table)
		t.clients[table] = c
	}
	return c, nil
}

// ForTenant returns the backend for one tenant's partition.
func (t *Tables) ForTenant(tenant string) Backend {
	return &partition{tables: t, tenant: tenant}
}

type partition struct {
	tables *Tables
	tenant string
}

func (p *partition) FetchMany(ctx context.Context, table string, filter domain.Filter) ([]domain.Task, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	c, err := p.tables.client(table)
	if err != nil {
		return nil, err
	}
	q := odataFilter(p.tenant, filter)
	pager := c.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &q})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		for _, e := range resp.Entities {
			task, err := decodeEntity(e)
			if err != nil {
				return nil, err
			}
			// the OData filter compares stored values; re-check for the
			// unassigned case where the property may be absent
			if filter.Match(task) {
				tasks = append(tasks, task)
			}
		}
	}
	return tasks, nil
}

func (p *partition) GetOne(ctx context.Context, table, id string) (domain.Task, error) {
	c, err := p.tables.client(table)
	if err != nil {
		return domain.Task{}, err
	}
	resp, err := c.GetEntity(ctx, p.tenant, id, nil)
	if err != nil {
		return domain.Task{}, mapError(err)
	}
	return decodeEntity(resp.Value)
}

func (p *partition) InsertOne(ctx context.Context, table string, rec domain.Task) (domain.Task, error) {
	if rec.ID == "" {
		return domain.Task{}, errors.New("record id is required")
	}
	c, err := p.tables.client(table)
	if err != nil {
		return domain.Task{}, err
	}
	payload, err := sonic.Marshal(insertPayload(p.tenant, rec))
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := c.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, mapError(err)
	}
	return p.GetOne(ctx, table, rec.ID)
}

func (p *partition) UpdateOne(ctx context.Context, table, id string, fields domain.Fields) (domain.Task, error) {
	if err := fields.Validate(); err != nil {
		return domain.Task{}, err
	}
	c, err := p.tables.client(table)
	if err != nil {
		return domain.Task{}, err
	}
	payload, err := sonic.Marshal(mergePayload(p.tenant, id, fields))
	if err != nil {
		return domain.Task{}, err
	}
	et := azcore.ETagAny
	if _, err := c.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge}); err != nil {
		return domain.Task{}, mapError(err)
	}
	return p.GetOne(ctx, table, id)
}

func (p *partition) DeleteOne(ctx context.Context, table, id string) error {
	c, err := p.tables.client(table)
	if err != nil {
		return err
	}
	if _, err := c.DeleteEntity(ctx, p.tenant, id, nil); err != nil {
		return mapError(err)
	}
	return nil
}

// mapError translates Azure status codes into domain errors.
func mapError(err error) error {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return err
	}
	switch respErr.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, respErr.ErrorCode)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", domain.ErrConflict, respErr.ErrorCode)
	}
	return err
}
