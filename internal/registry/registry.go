// Package registry resolves serialization schemas by id and memoizes them
// for the life of the process. A schema id is resolved once at pipeline
// construction; there is no invalidation, a new id requires a restart.
package registry

import (
	"fmt"
	"sync"

	"github.com/riferrei/srclient"
	"go.uber.org/zap"
)

// ResolutionError wraps registry failures: unreachable service or unknown
// schema id. It is fatal at startup since the output encoder cannot be
// constructed without the schema definition.
type ResolutionError struct {
	ID  int
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve schema %d: %v", e.ID, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Fetcher retrieves a schema definition from the registry service.
type Fetcher interface {
	FetchSchema(id int) (string, error)
}

type srFetcher struct {
	client *srclient.SchemaRegistryClient
}

func (f *srFetcher) FetchSchema(id int) (string, error) {
	schema, err := f.client.GetSchema(id)
	if err != nil {
		return "", err
	}
	return schema.Schema(), nil
}

// NewFetcher returns a Fetcher backed by the Confluent registry API.
func NewFetcher(url string) Fetcher {
	return &srFetcher{client: srclient.NewSchemaRegistryClient(url)}
}

// Cache memoizes schema definitions by id. Each distinct id costs at most
// one registry round-trip regardless of how many times it is resolved, and
// an entry is immutable once written. Safe for concurrent use.
type Cache struct {
	fetcher Fetcher
	logger  *zap.Logger

	mu   sync.Mutex
	defs map[int]string
}

func NewCache(fetcher Fetcher, logger *zap.Logger) *Cache {
	return &Cache{fetcher: fetcher, logger: logger, defs: make(map[int]string)}
}

// Resolve returns the schema definition for id, fetching it on first use.
func (c *Cache) Resolve(id int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if def, ok := c.defs[id]; ok {
		return def, nil
	}

	def, err := c.fetcher.FetchSchema(id)
	if err != nil {
		return "", &ResolutionError{ID: id, Err: err}
	}
	c.defs[id] = def
	c.logger.Info("schema resolved",
		zap.Int("schema_id", id),
		zap.Int("definition_bytes", len(def)))
	return def, nil
}
