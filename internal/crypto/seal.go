// Package crypto seals integrity tokens to the attestation authority's
// X25519 key. Only the authority can open them.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	KeySize    = 32
	ivLen      = 12
	gcmTagLen  = 16
	minBlobLen = KeySize + ivLen + gcmTagLen
)

var hkdfInfo = []byte("veritas integrity token v1")

// GenerateKeyPair returns a fresh X25519 private/public key pair.
func GenerateKeyPair() (priv, pub [KeySize]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return priv, pub, fmt.Errorf("generate private key: %w", err)
	}
	p, err := PublicKey(priv)
	if err != nil {
		return priv, pub, err
	}
	return priv, p, nil
}

// PublicKey derives the X25519 public key for priv.
func PublicKey(priv [KeySize]byte) ([KeySize]byte, error) {
	var pub [KeySize]byte
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return pub, fmt.Errorf("derive public key: %w", err)
	}
	copy(pub[:], p)
	return pub, nil
}

// Seal encrypts plaintext to recipient using ephemeral X25519, HKDF-SHA256
// and AES-256-GCM.
// Output format: ephemeralPubKey(32) || iv(12) || ciphertext+tag
func Seal(recipient [KeySize]byte, plaintext []byte) ([]byte, error) {
	ephPriv, ephPub, err := GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("ephemeral key: %w", err)
	}

	gcm, err := newAEAD(ephPriv[:], recipient[:], ephPub[:], recipient[:])
	if err != nil {
		return nil, err
	}

	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate IV: %w", err)
	}

	out := make([]byte, 0, KeySize+ivLen+len(plaintext)+gcmTagLen)
	out = append(out, ephPub[:]...)
	out = append(out, iv...)
	return gcm.Seal(out, iv, plaintext, ephPub[:]), nil
}

// Open reverses Seal with the recipient's private key.
func Open(priv [KeySize]byte, data []byte) ([]byte, error) {
	if len(data) < minBlobLen {
		return nil, errors.New("ciphertext too short")
	}
	pub, err := PublicKey(priv)
	if err != nil {
		return nil, err
	}

	ephPub := data[:KeySize]
	iv := data[KeySize : KeySize+ivLen]
	ct := data[KeySize+ivLen:]

	gcm, err := newAEAD(priv[:], ephPub, ephPub, pub[:])
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, iv, ct, ephPub)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// newAEAD derives the content key from the DH secret. The salt binds both
// public keys so a blob cannot be replayed to a different recipient.
func newAEAD(scalar, point, ephPub, recipientPub []byte) (cipher.AEAD, error) {
	shared, err := curve25519.X25519(scalar, point)
	if err != nil {
		return nil, fmt.Errorf("compute shared secret: %w", err)
	}

	salt := make([]byte, 0, 2*KeySize)
	salt = append(salt, ephPub...)
	salt = append(salt, recipientPub...)

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}
