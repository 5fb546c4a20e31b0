// Package cursor implements the stateless, encrypted pagination tokens
// described in spec.md §4.5. The wire format is an interoperability ABI
// (spec.md §9 "Cursor format stability"): JSON payload, AES-256-CBC keyed by
// a secret run through scrypt with fixed parameters, random IV prepended,
// hex-encoded "iv:ciphertext", then base64.
package cursor

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/scrypt"
)

// TTL is the maximum cursor age before it is treated as absent.
const TTL = time.Hour

// scrypt parameters are fixed per spec.md §9: two implementations only
// interoperate when they share these exact values plus the salt and key.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

// fixedSalt is the scrypt salt baked into the token ABI. It is not a secret
// by itself — the key derivation's secrecy comes entirely from the
// configured CURSOR_KEY — but it must be byte-identical across any two
// interoperating deployments.
var fixedSalt = []byte("kql-gateway-cursor-salt-v1")

// Payload is the opaque pagination state carried inside a cursor token
// (spec.md §3's Cursor payload entity).
type Payload struct {
	LastID    int64  `json:"lastId"`
	Offset    int64  `json:"offset"`
	QueryHash string `json:"queryHash"`
	IssuedAt  int64  `json:"issuedAt"`
}

// Manager encodes and decodes cursor tokens under a single derived key.
type Manager struct {
	key []byte
}

// NewManager derives the AES key from secret via scrypt and returns a
// Manager. secret should be the CURSOR_KEY environment value (or the
// process-wide default, which must trigger a startup warning per
// spec.md §6).
func NewManager(secret string) (*Manager, error) {
	key, err := scrypt.Key([]byte(secret), fixedSalt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("cursor: derive key: %w", err)
	}
	return &Manager{key: key}, nil
}

// QueryHash computes the 16-hex-character binding hash for normalizedClauses
// (spec.md §4.5: "queryHash = SHA-256(normalize(findClause ‖ whereClause ‖
// filterClause))[:16hex]").
func QueryHash(normalizedClauses string) string {
	sum := sha256.Sum256([]byte(normalizedClauses))
	return hex.EncodeToString(sum[:])[:16]
}

// Encode serializes and encrypts payload into an opaque token. Every call
// uses a fresh random IV, so identical payloads never produce identical
// tokens.
func (m *Manager) Encode(p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("cursor: marshal payload: %w", err)
	}

	block, err := aes.NewCipher(m.key)
	if err != nil {
		return "", fmt.Errorf("cursor: new cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("cursor: generate iv: %w", err)
	}

	padded := pkcs7Pad(data, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	wire := hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext)
	return base64.StdEncoding.EncodeToString([]byte(wire)), nil
}

// Decode reverses Encode and validates the TTL. Per spec.md §4.5, any parse
// or crypto failure is reported as "no cursor" (ok=false) rather than an
// error — callers proceed as if no cursor had been supplied.
func (m *Manager) Decode(token string) (Payload, bool) {
	p, ok := m.decode(token)
	if !ok {
		return Payload{}, false
	}
	if time.Since(time.UnixMilli(p.IssuedAt)) > TTL {
		return Payload{}, false
	}
	return p, true
}

func (m *Manager) decode(token string) (Payload, bool) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return Payload{}, false
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return Payload{}, false
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return Payload{}, false
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return Payload{}, false
	}

	block, err := aes.NewCipher(m.key)
	if err != nil {
		return Payload{}, false
	}
	plainPadded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plainPadded, ciphertext)

	plain, err := pkcs7Unpad(plainPadded)
	if err != nil {
		return Payload{}, false
	}

	var p Payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return Payload{}, false
	}
	return p, true
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(data, padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("cursor: empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, errors.New("cursor: invalid padding")
	}
	return data[:len(data)-padLen], nil
}
