package hpkekeys

import (
	"testing"

	"github.com/stretchr/testify/require"

	apierrors "github.com/oblivkv/kvserver/errors"
)

func TestTestManager(t *testing.T) {
	m := NewTestManager()

	pub, err := m.PublicKey()
	require.NoError(t, err)
	require.Equal(t, TestKeyID, pub.ID)

	priv, err := m.PrivateKey(TestKeyID)
	require.NoError(t, err)
	require.True(t, pub.Key.Equal(priv.Public()))

	_, err = m.PrivateKey(1)
	require.ErrorIs(t, err, apierrors.ErrUnknownKeyID)
}

func TestRotate(t *testing.T) {
	m := NewStaticManager()
	pub1, priv1 := KEMID.Scheme().DeriveKeyPair(testKeySeed)
	seed2 := append([]byte(nil), testKeySeed...)
	seed2[0] ^= 0xff
	pub2, priv2 := KEMID.Scheme().DeriveKeyPair(seed2)
	m.Add(1, pub1, priv1)
	m.Add(2, pub2, priv2)

	pub, err := m.PublicKey()
	require.NoError(t, err)
	require.Equal(t, uint8(1), pub.ID)

	require.NoError(t, m.Rotate(2))
	pub, err = m.PublicKey()
	require.NoError(t, err)
	require.Equal(t, uint8(2), pub.ID)

	// Old key stays usable for opening in-flight requests.
	_, err = m.PrivateKey(1)
	require.NoError(t, err)

	require.ErrorIs(t, m.Rotate(9), apierrors.ErrUnknownKeyID)
}
