// Package hpkekeys manages the HPKE key pairs used to open and seal
// oblivious requests. Every key is bound to a one-byte key id that
// clients put on the wire, so the serving side can rotate keys without
// breaking in-flight traffic.
package hpkekeys

import (
	"encoding/hex"
	"sync"

	"github.com/cloudflare/circl/hpke"
	"github.com/cloudflare/circl/kem"

	apierrors "github.com/oblivkv/kvserver/errors"
)

// The cipher suite all oblivious traffic uses.
const (
	KEMID  = hpke.KEM_X25519_HKDF_SHA256
	KDFID  = hpke.KDF_HKDF_SHA256
	AEADID = hpke.AEAD_AES128GCM
)

// TestKeyID identifies the fixed development key pair.
const TestKeyID uint8 = 64

// Suite returns the HPKE suite shared by gateway and client.
func Suite() hpke.Suite {
	return hpke.NewSuite(KEMID, KDFID, AEADID)
}

// PublicKey is a key id together with the encapsulation key clients
// seal to.
type PublicKey struct {
	ID  uint8
	Key kem.PublicKey
}

// KeyFetcherManager resolves key ids to key material. The server side
// needs private keys to open requests; clients need one current public
// key to seal them.
type KeyFetcherManager interface {
	// PrivateKey returns the decapsulation key for id, or
	// ErrUnknownKeyID if the id is not served here.
	PrivateKey(id uint8) (kem.PrivateKey, error)
	// PublicKey returns the current encapsulation key.
	PublicKey() (PublicKey, error)
}

type staticManager struct {
	mu      sync.RWMutex
	current uint8
	private map[uint8]kem.PrivateKey
	public  map[uint8]kem.PublicKey
}

// NewStaticManager builds a manager over a fixed key set. The first id
// added becomes the current public key until Rotate is called.
func NewStaticManager() *staticManager {
	return &staticManager{
		private: make(map[uint8]kem.PrivateKey),
		public:  make(map[uint8]kem.PublicKey),
	}
}

// Add registers a key pair under id.
func (m *staticManager) Add(id uint8, pub kem.PublicKey, priv kem.PrivateKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.private) == 0 {
		m.current = id
	}
	m.private[id] = priv
	m.public[id] = pub
}

// Rotate makes id the key returned by PublicKey. Previously added keys
// stay decryptable.
func (m *staticManager) Rotate(id uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.private[id]; !ok {
		return apierrors.ErrUnknownKeyID
	}
	m.current = id
	return nil
}

func (m *staticManager) PrivateKey(id uint8) (kem.PrivateKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	priv, ok := m.private[id]
	if !ok {
		return nil, apierrors.ErrUnknownKeyID
	}
	return priv, nil
}

func (m *staticManager) PublicKey() (PublicKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pub, ok := m.public[m.current]
	if !ok {
		return PublicKey{}, apierrors.ErrUnknownKeyID
	}
	return PublicKey{ID: m.current, Key: pub}, nil
}

// KeySeed is one configured key pair, derived from a hex encoded KEM
// seed of the suite's seed size.
type KeySeed struct {
	ID   uint8  `json:"id"`
	Seed string `json:"seed"`
}

// NewManagerFromSeeds derives a key pair per configured seed. The
// first entry is the current public key.
func NewManagerFromSeeds(seeds []KeySeed) (KeyFetcherManager, error) {
	m := NewStaticManager()
	for _, s := range seeds {
		seed, err := hex.DecodeString(s.Seed)
		if err != nil {
			return nil, apierrors.Newf(apierrors.CodeInvalidArgument, "key seed %d: %v", s.ID, err)
		}
		if len(seed) != KEMID.Scheme().SeedSize() {
			return nil, apierrors.Newf(apierrors.CodeInvalidArgument,
				"key seed %d: want %d bytes, got %d", s.ID, KEMID.Scheme().SeedSize(), len(seed))
		}
		pub, priv := KEMID.Scheme().DeriveKeyPair(seed)
		m.Add(s.ID, pub, priv)
	}
	return m, nil
}

// testKeySeed is the fixed KEM seed behind the development key pair.
// It must never be deployed outside tests and local clusters.
var testKeySeed = []byte{
	0x0b, 0x1c, 0x2d, 0x3e, 0x4f, 0x50, 0x61, 0x72,
	0x83, 0x94, 0xa5, 0xb6, 0xc7, 0xd8, 0xe9, 0xfa,
	0x0b, 0x1c, 0x2d, 0x3e, 0x4f, 0x50, 0x61, 0x72,
	0x83, 0x94, 0xa5, 0xb6, 0xc7, 0xd8, 0xe9, 0xfa,
}

// NewTestManager returns a manager holding only the well-known
// development key pair under TestKeyID.
func NewTestManager() KeyFetcherManager {
	pub, priv := KEMID.Scheme().DeriveKeyPair(testKeySeed)
	m := NewStaticManager()
	m.Add(TestKeyID, pub, priv)
	return m
}
