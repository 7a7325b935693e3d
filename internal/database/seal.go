package database

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var ErrDecrypt = errors.New("decrypt stored token")

func sealKey(key []byte) (*[keySize]byte, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("store key must be %d bytes, got %d", keySize, len(key))
	}

	var k [keySize]byte
	copy(k[:], key)
	return &k, nil
}

// seal encrypts s and returns the nonce-prefixed box as base64 text.
func seal(key *[keySize]byte, s string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	box := secretbox.Seal(nonce[:], []byte(s), &nonce, key)
	return base64.StdEncoding.EncodeToString(box), nil
}

func open(key *[keySize]byte, encoded string) (string, error) {
	box, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(box) < nonceSize+secretbox.Overhead {
		return "", ErrDecrypt
	}

	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])

	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
