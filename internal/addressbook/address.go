package addressbook

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	// Suffix is the top-level domain of in-network names.
	Suffix = ".dotnet"

	// B32Suffix marks names that encode an ident hash directly.
	B32Suffix = ".b32" + Suffix

	// MinDescriptorSize is the size of a descriptor with no certificate
	// payload: 256 byte encryption key, 128 byte signing key and a 3 byte
	// null certificate.
	MinDescriptorSize = 387
)

var (
	// Encoding is the network's base64 alphabet.
	Encoding = base64.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-~")

	b32Encoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

	ErrInvalidDescriptor = errors.New("invalid destination descriptor")
)

// Address is what a name resolves to. Descriptor is nil when the address
// was derived from a .b32 name.
type Address struct {
	IdentHash  [32]byte
	Descriptor []byte
}

// DecodeDescriptor parses a base64 encoded destination descriptor and
// computes its ident hash.
func DecodeDescriptor(encoded string) (*Address, error) {
	encoded = strings.TrimSpace(encoded)
	raw, err := Encoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	return FromDescriptor(raw)
}

// FromDescriptor wraps a raw descriptor.
func FromDescriptor(raw []byte) (*Address, error) {
	if len(raw) < MinDescriptorSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrInvalidDescriptor, len(raw), MinDescriptorSize)
	}
	return &Address{IdentHash: sha256.Sum256(raw), Descriptor: raw}, nil
}

// Encode returns the base64 form of the descriptor.
func (a *Address) Encode() string {
	return Encoding.EncodeToString(a.Descriptor)
}

// B32 returns the hash-derived name of the address.
func (a *Address) B32() string {
	return b32Encoding.EncodeToString(a.IdentHash[:]) + B32Suffix
}

// IsInNetwork reports whether host belongs to the anonymous network's
// naming system.
func IsInNetwork(host string) bool {
	return strings.HasSuffix(strings.ToLower(host), Suffix)
}

func parseB32(name string) (*Address, bool) {
	name = strings.ToLower(name)
	if !strings.HasSuffix(name, B32Suffix) {
		return nil, false
	}
	hash, err := b32Encoding.DecodeString(strings.TrimSuffix(name, B32Suffix))
	if err != nil || len(hash) != sha256.Size {
		return nil, false
	}
	a := &Address{}
	copy(a.IdentHash[:], hash)
	return a, true
}
