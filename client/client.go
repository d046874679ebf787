// Package client is the Go query client. It speaks all three public
// request encodings: plaintext JSON, binary HTTP, and oblivious HTTP.
package client

import (
	"context"
	"math"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"

	"github.com/oblivkv/kvserver/bhttp"
	apierrors "github.com/oblivkv/kvserver/errors"
	"github.com/oblivkv/kvserver/hpkekeys"
	"github.com/oblivkv/kvserver/ohttp"
	"github.com/oblivkv/kvserver/proto"
)

type Client struct {
	proto.KeyValueServiceClient
	conn   *grpc.ClientConn
	sealer *ohttp.Client
}

// NewClient dials address. key is the server's published HPKE public
// key; pass the zero value to disable the oblivious encoding.
func NewClient(address string, key hpkekeys.PublicKey) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(
			grpc.MaxCallSendMsgSize(math.MaxInt64),
			grpc.MaxCallRecvMsgSize(math.MaxInt64),
		),
		grpc.WithKeepaliveParams(
			keepalive.ClientParameters{
				Time:                1 * time.Second,
				Timeout:             5 * time.Second,
				PermitWithoutStream: true,
			},
		),
	}

	dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))

	conn, err := grpc.Dial(address, dialOpts...)
	if err != nil {
		return nil, err
	}

	c := &Client{
		KeyValueServiceClient: proto.NewKeyValueServiceClient(conn),
		conn:                  conn,
	}
	if key.Key != nil {
		c.sealer = ohttp.NewClient(key)
	}
	return c, nil
}

// GetValues sends req as plaintext JSON and parses the JSON response.
func (c *Client) GetValues(ctx context.Context, req *proto.GetValuesRequest) (*proto.GetValuesResponse, error) {
	body, err := MarshalRequest(req)
	if err != nil {
		return nil, err
	}
	out, err := c.GetValuesHttp(withReqID(ctx), &proto.GetValuesHttpRequest{
		RawBody: &proto.RawBody{Data: body},
	})
	if err != nil {
		return nil, err
	}
	return UnmarshalResponse(out.Data)
}

// BinaryGetValues sends req wrapped in a binary HTTP envelope.
func (c *Client) BinaryGetValues(ctx context.Context, req *proto.GetValuesRequest) (*proto.GetValuesResponse, error) {
	encoded, err := EncodeBinaryRequest(req)
	if err != nil {
		return nil, err
	}
	out, err := c.BinaryHttpGetValues(withReqID(ctx), &proto.BinaryHttpGetValuesRequest{
		RawBody: &proto.RawBody{Data: encoded},
	})
	if err != nil {
		return nil, err
	}
	return DecodeBinaryResponse(out.Data)
}

// ObliviousGetValues encapsulates the binary HTTP envelope under the
// server's HPKE key, so the transport never sees the query keys.
func (c *Client) ObliviousGetValues(ctx context.Context, req *proto.GetValuesRequest) (*proto.GetValuesResponse, error) {
	if c.sealer == nil {
		return nil, apierrors.InvalidArgument("client has no server public key")
	}
	encoded, err := EncodeBinaryRequest(req)
	if err != nil {
		return nil, err
	}
	sealed, reqCtx, err := c.sealer.EncapsulateRequest(encoded)
	if err != nil {
		return nil, err
	}
	out, err := c.KeyValueServiceClient.ObliviousGetValues(withReqID(ctx), &proto.ObliviousGetValuesRequest{
		RawBody: &proto.RawBody{Data: sealed},
	})
	if err != nil {
		return nil, err
	}
	raw, err := reqCtx.DecapsulateResponse(out.Data)
	if err != nil {
		return nil, err
	}
	return DecodeBinaryResponse(raw)
}

func (c *Client) Address() string {
	return c.conn.Target()
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func withReqID(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, proto.ReqIdKey, traceSpan(ctx))
}

// DecodeBinaryResponse unwraps a binary HTTP response; non-200
// statuses carry a serialized status in the body.
func DecodeBinaryResponse(raw []byte) (*proto.GetValuesResponse, error) {
	resp, err := bhttp.DecodeResponse(raw)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, statusError(resp.StatusCode, resp.Body)
	}
	return UnmarshalResponse(resp.Body)
}
