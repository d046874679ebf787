package ohttp

import (
	"testing"

	"github.com/stretchr/testify/require"

	apierrors "github.com/oblivkv/kvserver/errors"
	"github.com/oblivkv/kvserver/hpkekeys"
)

func newTestPair(t *testing.T) (*Gateway, *Client) {
	keys := hpkekeys.NewTestManager()
	pub, err := keys.PublicKey()
	require.NoError(t, err)
	return NewGateway(keys), NewClient(pub)
}

func TestRequestResponseRoundTrip(t *testing.T) {
	gateway, client := newTestPair(t)

	request := []byte(`{"partitions":[{"id":0}]}`)
	encapsulated, clientCtx, err := client.EncapsulateRequest(request)
	require.NoError(t, err)
	require.NotEqual(t, request, encapsulated)

	opened, serverCtx, err := gateway.DecapsulateRequest(encapsulated)
	require.NoError(t, err)
	require.Equal(t, request, opened)

	response := []byte(`{"singlePartition":{"stringOutput":"ok"}}`)
	sealed, err := serverCtx.EncapsulateResponse(response)
	require.NoError(t, err)
	require.NotEqual(t, response, sealed)

	got, err := clientCtx.DecapsulateResponse(sealed)
	require.NoError(t, err)
	require.Equal(t, response, got)
}

func TestResponseBoundToRequestContext(t *testing.T) {
	gateway, client := newTestPair(t)

	enc1, ctx1, err := client.EncapsulateRequest([]byte("one"))
	require.NoError(t, err)
	_, _, err = gateway.DecapsulateRequest(enc1)
	require.NoError(t, err)

	enc2, _, err := client.EncapsulateRequest([]byte("two"))
	require.NoError(t, err)
	_, serverCtx2, err := gateway.DecapsulateRequest(enc2)
	require.NoError(t, err)

	// A response sealed for the second request does not open with the
	// first request's context.
	sealed, err := serverCtx2.EncapsulateResponse([]byte("answer"))
	require.NoError(t, err)
	_, err = ctx1.DecapsulateResponse(sealed)
	require.Error(t, err)
}

func TestUnknownKeyID(t *testing.T) {
	gateway, client := newTestPair(t)

	encapsulated, _, err := client.EncapsulateRequest([]byte("hello"))
	require.NoError(t, err)
	encapsulated[0] = hpkekeys.TestKeyID + 1

	_, _, err = gateway.DecapsulateRequest(encapsulated)
	require.ErrorIs(t, err, apierrors.ErrUnknownKeyID)
}

func TestTamperedRequest(t *testing.T) {
	gateway, client := newTestPair(t)

	encapsulated, _, err := client.EncapsulateRequest([]byte("hello"))
	require.NoError(t, err)
	encapsulated[len(encapsulated)-1] ^= 0xff

	_, _, err = gateway.DecapsulateRequest(encapsulated)
	require.Error(t, err)
	require.Equal(t, apierrors.CodeInvalidArgument, apierrors.CodeOf(err))
}

func TestShortInputs(t *testing.T) {
	gateway, client := newTestPair(t)

	_, _, err := gateway.DecapsulateRequest([]byte{1, 2, 3})
	require.Error(t, err)

	encapsulated, clientCtx, err := client.EncapsulateRequest([]byte("hello"))
	require.NoError(t, err)
	_, _, err = gateway.DecapsulateRequest(encapsulated)
	require.NoError(t, err)

	_, err = clientCtx.DecapsulateResponse([]byte{1, 2, 3})
	require.Error(t, err)
}
