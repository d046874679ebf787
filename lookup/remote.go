package lookup

import (
	"context"

	apierrors "github.com/oblivkv/kvserver/errors"
	"github.com/oblivkv/kvserver/ohttp"
	"github.com/oblivkv/kvserver/proto"
)

// RemoteClient is the lookup surface reachable over the encrypted
// internal hop. Queries are never shipped remotely; the sharded layer
// evaluates them locally over remotely fetched sets.
type RemoteClient interface {
	GetKeyValues(ctx context.Context, keys []string) (*proto.InternalLookupResponse, error)
	GetKeyValueSet(ctx context.Context, keys []string) (*proto.InternalLookupResponse, error)
}

// RemoteLookupClient seals lookup payloads toward a peer replica and
// calls its SecureLookup endpoint. The intermediate hop sees only
// fixed-shape ciphertext.
type RemoteLookupClient struct {
	rpc    proto.LookupServiceClient
	sealer *ohttp.Client
}

func NewRemoteLookupClient(rpc proto.LookupServiceClient, sealer *ohttp.Client) *RemoteLookupClient {
	return &RemoteLookupClient{rpc: rpc, sealer: sealer}
}

func (c *RemoteLookupClient) GetKeyValues(ctx context.Context, keys []string) (*proto.InternalLookupResponse, error) {
	return c.lookup(ctx, keys, false)
}

func (c *RemoteLookupClient) GetKeyValueSet(ctx context.Context, keys []string) (*proto.InternalLookupResponse, error) {
	return c.lookup(ctx, keys, true)
}

func (c *RemoteLookupClient) lookup(ctx context.Context, keys []string, lookupSets bool) (*proto.InternalLookupResponse, error) {
	req := &proto.InternalLookupRequest{Keys: keys, LookupSets: lookupSets}
	payload, err := req.Serialize()
	if err != nil {
		return nil, apierrors.Internalf("serialize lookup request: %v", err)
	}
	sealed, reqCtx, err := c.sealer.EncapsulateRequest(PadPayload(payload))
	if err != nil {
		return nil, err
	}
	rpcResp, err := c.rpc.SecureLookup(ctx, &proto.SecureLookupRequest{OhttpRequest: sealed})
	if err != nil {
		return nil, apierrors.Unavailable(err.Error())
	}
	opened, err := reqCtx.DecapsulateResponse(rpcResp.OhttpResponse)
	if err != nil {
		return nil, err
	}
	return proto.ParseInternalLookupResponse(opened)
}

// PadPayload pads a serialized lookup payload with trailing spaces to
// the next power of two, so payload sizes leak only a coarse bound on
// the number of keys. JSON decoding ignores the padding.
func PadPayload(payload []byte) []byte {
	target := 128
	for target < len(payload) {
		target <<= 1
	}
	for len(payload) < target {
		payload = append(payload, ' ')
	}
	return payload
}

// PadKeys appends empty keys until the slice has total entries, so
// every shard in a fan-out receives the same number of keys. The
// serving side skips empty keys.
func PadKeys(keys []string, total int) []string {
	for len(keys) < total {
		keys = append(keys, "")
	}
	return keys
}
