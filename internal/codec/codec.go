// Package codec turns plaintext documents into opaque blobs and back,
// and derives every identifier the system uses from random bytes or from
// the secret key.
//
// The at-rest and wire format is: zlib-compress the JSON document, then
// seal with XChaCha20-Poly1305 under a key derived from the secret via
// HKDF-SHA256, then base64. The AEAD makes a wrong key or a corrupted
// payload fail loudly as ErrBadCipher instead of decoding to garbage.
package codec

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrBadCipher indicates the payload could not be authenticated or
// decoded, typically because the secret key is wrong or the blob is
// corrupted.
var ErrBadCipher = errors.New("codec: cannot decode payload")

// cipherInfo is the HKDF context string binding derived keys to this use.
const cipherInfo = "splitpot.cipher.v1"

// deriveCipherKey stretches the secret key into a 32-byte AEAD key.
func deriveCipherKey(key string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(key), nil, []byte(cipherInfo))
	out := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("failed to derive cipher key: %w", err)
	}
	return out, nil
}

// Pack compresses and encrypts plain under the secret key, returning an
// opaque base64 string safe to store or transmit. An empty message packs
// to an empty string: there is nothing to store.
func Pack(plain, key string) (string, error) {
	if plain == "" {
		return "", nil
	}

	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.DefaultCompression)
	if err != nil {
		return "", fmt.Errorf("failed to create compressor: %w", err)
	}
	if _, err := zw.Write([]byte(plain)); err != nil {
		return "", fmt.Errorf("failed to compress message: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to flush compressor: %w", err)
	}

	cipherKey, err := deriveCipherKey(key)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(cipherKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, buf.Bytes(), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Unpack reverses Pack. An empty blob unpacks to an empty string. Any
// authentication or decoding failure reports ErrBadCipher.
func Unpack(data, key string) (string, error) {
	if data == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrBadCipher, err)
	}

	cipherKey, err := deriveCipherKey(key)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(cipherKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("%w: payload too short", ErrBadCipher)
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]

	compressed, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrBadCipher)
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return "", fmt.Errorf("%w: invalid compressed stream: %v", ErrBadCipher, err)
	}
	defer zr.Close()

	plain, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("%w: truncated compressed stream: %v", ErrBadCipher, err)
	}

	return string(plain), nil
}

// KeyToRef derives the non-secret lookup handle for a secret key using
// HMAC-SHA256 with an application-wide salt. The server addresses
// storage by this handle and never sees the key itself.
func KeyToRef(key, salt string) string {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}
