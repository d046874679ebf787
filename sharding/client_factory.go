package sharding

import (
	"net"
	"strconv"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	apierrors "github.com/oblivkv/kvserver/errors"
	"github.com/oblivkv/kvserver/hpkekeys"
	"github.com/oblivkv/kvserver/lookup"
	"github.com/oblivkv/kvserver/ohttp"
	"github.com/oblivkv/kvserver/proto"
)

// GRPCClientFactory dials peer replicas on their internal lookup port
// and caches one connection per address.
type GRPCClientFactory struct {
	keys hpkekeys.KeyFetcherManager
	port int

	mu      sync.Mutex
	clients map[string]*lookup.RemoteLookupClient
	conns   map[string]*grpc.ClientConn
}

func NewGRPCClientFactory(keys hpkekeys.KeyFetcherManager, port int) *GRPCClientFactory {
	return &GRPCClientFactory{
		keys:    keys,
		port:    port,
		clients: make(map[string]*lookup.RemoteLookupClient),
		conns:   make(map[string]*grpc.ClientConn),
	}
}

func (f *GRPCClientFactory) ClientForAddress(addr string) (lookup.RemoteClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if client, ok := f.clients[addr]; ok {
		return client, nil
	}
	pub, err := f.keys.PublicKey()
	if err != nil {
		return nil, err
	}
	conn, err := grpc.Dial(
		net.JoinHostPort(addr, strconv.Itoa(f.port)),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, apierrors.Unavailable(err.Error())
	}
	client := lookup.NewRemoteLookupClient(proto.NewLookupServiceClient(conn), ohttp.NewClient(pub))
	f.clients[addr] = client
	f.conns[addr] = conn
	return client, nil
}

// Close drops every cached connection.
func (f *GRPCClientFactory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for addr, conn := range f.conns {
		conn.Close()
		delete(f.conns, addr)
		delete(f.clients, addr)
	}
}
