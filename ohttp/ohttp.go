// Package ohttp implements oblivious HTTP encapsulation (RFC 9458).
// The gateway opens encapsulated requests and seals responses bound to
// the request's HPKE context, so only the party that sealed the request
// can read the answer.
package ohttp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/cloudflare/circl/hpke"
	"golang.org/x/crypto/hkdf"

	apierrors "github.com/oblivkv/kvserver/errors"
	"github.com/oblivkv/kvserver/hpkekeys"
)

const (
	labelRequest  = "message/ohttp-req"
	labelResponse = "message/ohttp-res"

	// Header: key id (1) plus three 16-bit algorithm ids.
	headerLen = 7

	aeadKeyLen   = 16 // AES-128-GCM
	aeadNonceLen = 12

	// Both the exported secret and the response nonce are
	// max(key, nonce) bytes long.
	responseNonceLen = 16
)

// header is the key configuration prefix of every encapsulated request.
func header(keyID uint8) []byte {
	hdr := make([]byte, headerLen)
	hdr[0] = keyID
	binary.BigEndian.PutUint16(hdr[1:], uint16(hpkekeys.KEMID))
	binary.BigEndian.PutUint16(hdr[3:], uint16(hpkekeys.KDFID))
	binary.BigEndian.PutUint16(hdr[5:], uint16(hpkekeys.AEADID))
	return hdr
}

func requestInfo(hdr []byte) []byte {
	info := make([]byte, 0, len(labelRequest)+1+len(hdr))
	info = append(info, labelRequest...)
	info = append(info, 0)
	return append(info, hdr...)
}

// responseAEAD derives the response AEAD and nonce from the request's
// HPKE context per RFC 9458 section 4.4.
func responseAEAD(exp hpke.Context, enc, responseNonce []byte) (cipher.AEAD, []byte, error) {
	secret := exp.Export([]byte(labelResponse), responseNonceLen)
	salt := make([]byte, 0, len(enc)+len(responseNonce))
	salt = append(salt, enc...)
	salt = append(salt, responseNonce...)
	prk := hkdf.Extract(sha256.New, secret, salt)

	key := make([]byte, aeadKeyLen)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, []byte("key")), key); err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, aeadNonceLen)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, []byte("nonce")), nonce); err != nil {
		return nil, nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	return aead, nonce, nil
}

// Gateway opens encapsulated requests using the keys served here.
type Gateway struct {
	keys hpkekeys.KeyFetcherManager
}

func NewGateway(keys hpkekeys.KeyFetcherManager) *Gateway {
	return &Gateway{keys: keys}
}

// ServerContext carries the request's HPKE context from decapsulation
// to the matching response encapsulation.
type ServerContext struct {
	opener hpke.Opener
	enc    []byte
}

// DecapsulateRequest opens an encapsulated request and returns the
// inner plaintext together with the context needed to answer it.
func (g *Gateway) DecapsulateRequest(encapsulated []byte) ([]byte, *ServerContext, error) {
	encSize := int(hpkekeys.KEMID.Scheme().CiphertextSize())
	if len(encapsulated) < headerLen+encSize {
		return nil, nil, apierrors.InvalidArgument("encapsulated request too short")
	}
	hdr := encapsulated[:headerLen]
	kemID := binary.BigEndian.Uint16(hdr[1:])
	kdfID := binary.BigEndian.Uint16(hdr[3:])
	aeadID := binary.BigEndian.Uint16(hdr[5:])
	if kemID != uint16(hpkekeys.KEMID) || kdfID != uint16(hpkekeys.KDFID) || aeadID != uint16(hpkekeys.AEADID) {
		return nil, nil, apierrors.Newf(apierrors.CodeInvalidArgument,
			"unsupported cipher suite %04x/%04x/%04x", kemID, kdfID, aeadID)
	}
	priv, err := g.keys.PrivateKey(hdr[0])
	if err != nil {
		return nil, nil, err
	}
	enc := encapsulated[headerLen : headerLen+encSize]
	ct := encapsulated[headerLen+encSize:]

	receiver, err := hpkekeys.Suite().NewReceiver(priv, requestInfo(hdr))
	if err != nil {
		return nil, nil, apierrors.Internalf("hpke receiver: %v", err)
	}
	opener, err := receiver.Setup(enc)
	if err != nil {
		return nil, nil, apierrors.InvalidArgument("invalid encapsulated key")
	}
	plaintext, err := opener.Open(ct, nil)
	if err != nil {
		return nil, nil, apierrors.InvalidArgument("failed to open encapsulated request")
	}
	return plaintext, &ServerContext{opener: opener, enc: append([]byte(nil), enc...)}, nil
}

// EncapsulateResponse seals a response bound to the request context.
func (c *ServerContext) EncapsulateResponse(plaintext []byte) ([]byte, error) {
	responseNonce := make([]byte, responseNonceLen)
	if _, err := rand.Read(responseNonce); err != nil {
		return nil, err
	}
	aead, nonce, err := responseAEAD(c.opener, c.enc, responseNonce)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, responseNonceLen+len(plaintext)+aead.Overhead())
	out = append(out, responseNonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// Client seals requests toward a gateway public key.
type Client struct {
	key hpkekeys.PublicKey
}

func NewClient(key hpkekeys.PublicKey) *Client {
	return &Client{key: key}
}

// ClientContext carries the request context needed to open the
// matching response.
type ClientContext struct {
	sealer hpke.Sealer
	enc    []byte
}

// EncapsulateRequest seals plaintext toward the gateway and returns
// the wire form plus the context for opening the response.
func (c *Client) EncapsulateRequest(plaintext []byte) ([]byte, *ClientContext, error) {
	hdr := header(c.key.ID)
	sender, err := hpkekeys.Suite().NewSender(c.key.Key, requestInfo(hdr))
	if err != nil {
		return nil, nil, apierrors.Internalf("hpke sender: %v", err)
	}
	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, nil, apierrors.Internalf("hpke setup: %v", err)
	}
	ct, err := sealer.Seal(plaintext, nil)
	if err != nil {
		return nil, nil, apierrors.Internalf("hpke seal: %v", err)
	}
	out := make([]byte, 0, len(hdr)+len(enc)+len(ct))
	out = append(out, hdr...)
	out = append(out, enc...)
	out = append(out, ct...)
	return out, &ClientContext{sealer: sealer, enc: enc}, nil
}

// DecapsulateResponse opens a sealed response.
func (c *ClientContext) DecapsulateResponse(encapsulated []byte) ([]byte, error) {
	if len(encapsulated) < responseNonceLen {
		return nil, apierrors.InvalidArgument("encapsulated response too short")
	}
	responseNonce := encapsulated[:responseNonceLen]
	aead, nonce, err := responseAEAD(c.sealer, c.enc, responseNonce)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, encapsulated[responseNonceLen:], nil)
	if err != nil {
		return nil, apierrors.InvalidArgument("failed to open encapsulated response")
	}
	return plaintext, nil
}
