package cryptox

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec()
	require.NoError(t, err)
	return c
}

func TestCodec_RoundTripIsNonDeterministic(t *testing.T) {
	c := newTestCodec(t)

	a, err := c.Encrypt("hello")
	require.NoError(t, err)
	b, err := c.Encrypt("hello")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "fresh nonce per call")

	pa, err := c.Decrypt(a)
	require.NoError(t, err)
	pb, err := c.Decrypt(b)
	require.NoError(t, err)
	assert.Equal(t, "hello", pa)
	assert.Equal(t, "hello", pb)
}

func TestCodec_WireFormat(t *testing.T) {
	c := newTestCodec(t)
	enc, err := c.Encrypt("abc")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(enc)
	require.NoError(t, err)
	// nonce + plaintext + 16-byte GCM tag
	assert.Len(t, raw, NonceSize+3+16)
}

func TestCodec_KeyIsStableAcrossInstances(t *testing.T) {
	enc, err := newTestCodec(t).Encrypt("persisted")
	require.NoError(t, err)

	plain, err := newTestCodec(t).Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "persisted", plain)
}

func TestCodec_DecryptErrors(t *testing.T) {
	c := newTestCodec(t)
	good, err := c.Encrypt("payload")
	require.NoError(t, err)
	raw, _ := base64.StdEncoding.DecodeString(good)
	raw[len(raw)-1] ^= 0xff

	tests := []struct {
		name string
		in   string
	}{
		{"malformed base64", "%%%not-base64"},
		{"shorter than nonce", base64.StdEncoding.EncodeToString([]byte{1, 2, 3})},
		{"tampered", base64.StdEncoding.EncodeToString(raw)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decrypt(tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrCrypto)
			assert.Equal(t, common.KindCrypto, common.KindOf(err))
		})
	}
}

func TestNewCodecWithKey_RejectsWrongSize(t *testing.T) {
	_, err := NewCodecWithKey(make([]byte, 16))
	require.ErrorIs(t, err, common.ErrCrypto)
}

func TestSealOpenBlob(t *testing.T) {
	key := bytes.Repeat([]byte{7}, KeySize)
	sealed, err := SealBlob(key, []byte(`{"accessToken":"x"}`))
	require.NoError(t, err)

	plain, err := OpenBlob(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"accessToken":"x"}`, string(plain))

	other := bytes.Repeat([]byte{8}, KeySize)
	_, err = OpenBlob(other, sealed)
	require.ErrorIs(t, err, common.ErrCrypto)
}

func TestDeriveMasterKey_Deterministic(t *testing.T) {
	k1 := DeriveMasterKey([]byte("device-1"), []byte("salt"))
	k2 := DeriveMasterKey([]byte("device-1"), []byte("salt"))
	k3 := DeriveMasterKey([]byte("device-2"), []byte("salt"))

	assert.Len(t, k1, KeySize)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}
