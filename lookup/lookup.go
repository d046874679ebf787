// Package lookup resolves keys to values for UDF execution. The local
// form reads the in-memory cache directly; the sharded form fans keys
// out to the replicas owning them over an encrypted internal hop.
package lookup

import (
	"context"

	"github.com/oblivkv/kvserver/proto"
)

// Lookup answers key and set lookups and runs set queries. Per-key
// failures are reported inline in the response; an error return means
// the lookup as a whole could not run.
type Lookup interface {
	GetKeyValues(ctx context.Context, keys []string) (*proto.InternalLookupResponse, error)
	GetKeyValueSet(ctx context.Context, keys []string) (*proto.InternalLookupResponse, error)
	RunQuery(ctx context.Context, query string) ([]string, error)
}
