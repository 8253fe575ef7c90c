// Package cryptox implements the authenticated encryption used for clip
// content at rest and for the local credential store.
//
// Text clips are sealed with AES-256-GCM under a key derived from a constant
// baked into the binary. This protects the database against casual reading
// only: anyone with the binary can recover the key.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	// NonceSize is the GCM standard nonce length (96 bits).
	NonceSize = 12
)

// obfuscated content key material, xored with keyMask at runtime.
var (
	keySeed = []byte{
		0x2b, 0x5f, 0x0e, 0x74, 0x18, 0x6a, 0x33, 0x41,
		0x7c, 0x09, 0x52, 0x6e, 0x1d, 0x47, 0x25, 0x38,
		0x60, 0x13, 0x4a, 0x7f, 0x02, 0x59, 0x36, 0x6b,
		0x11, 0x48, 0x2e, 0x75, 0x0c, 0x63, 0x3a, 0x57,
	}
	keyMask = []byte{
		0x48, 0x33, 0x67, 0x04, 0x73, 0x0f, 0x56, 0x31,
		0x0f, 0x6c, 0x30, 0x1b, 0x6e, 0x22, 0x48, 0x59,
	}
	contentKeyInfo = []byte("clipkeeper/content/v1")
)

func contentKey() ([]byte, error) {
	secret := make([]byte, len(keySeed))
	for i, b := range keySeed {
		secret[i] = b ^ keyMask[i%len(keyMask)]
	}
	defer common.WipeByteArray(secret)

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, contentKeyInfo), key); err != nil {
		return nil, err
	}
	return key, nil
}

// Codec seals text as base64(nonce||ciphertext). It is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec returns a Codec using the built-in content key.
func NewCodec() (*Codec, error) {
	key, err := contentKey()
	if err != nil {
		return nil, common.Wrap(common.KindCrypto, "derive content key", err)
	}
	return NewCodecWithKey(key)
}

// NewCodecWithKey returns a Codec for an explicit 32-byte key.
func NewCodecWithKey(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, common.Wrap(common.KindCrypto, "new codec",
			fmt.Errorf("%w: key must be %d bytes, got %d", common.ErrCrypto, KeySize, len(key)))
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, common.Wrap(common.KindCrypto, "new codec", err)
	}
	return &Codec{aead: aead}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext with a fresh random nonce. Two calls with the same
// input never return the same ciphertext, so fingerprints must be computed
// over plaintext.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	sealed, err := seal(c.aead, []byte(plaintext))
	if err != nil {
		return "", common.Wrap(common.KindCrypto, "encrypt", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *Codec) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", common.Wrap(common.KindCrypto, "decrypt", fmt.Errorf("%w: malformed base64: %v", common.ErrCrypto, err))
	}
	plain, err := open(c.aead, raw)
	if err != nil {
		return "", common.Wrap(common.KindCrypto, "decrypt", err)
	}
	return string(plain), nil
}

func seal(aead cipher.AEAD, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func open(aead cipher.AEAD, sealed []byte) ([]byte, error) {
	ns := aead.NonceSize()
	if len(sealed) < ns {
		return nil, fmt.Errorf("%w: payload shorter than nonce (%d < %d)", common.ErrCrypto, len(sealed), ns)
	}
	plain, err := aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", common.ErrCrypto)
	}
	return plain, nil
}

// SealBlob encrypts raw bytes with key, returning nonce||ciphertext.
func SealBlob(key, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, common.Wrap(common.KindCrypto, "seal blob", err)
	}
	out, err := seal(aead, plaintext)
	if err != nil {
		return nil, common.Wrap(common.KindCrypto, "seal blob", err)
	}
	return out, nil
}

// OpenBlob reverses SealBlob.
func OpenBlob(key, sealed []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, common.Wrap(common.KindCrypto, "open blob", err)
	}
	out, err := open(aead, sealed)
	if err != nil {
		return nil, common.Wrap(common.KindCrypto, "open blob", err)
	}
	return out, nil
}

// DeriveMasterKey stretches a secret with argon2id into a 32-byte key.
func DeriveMasterKey(secret []byte, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 4, KeySize)
}
