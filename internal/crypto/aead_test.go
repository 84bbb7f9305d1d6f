package crypto

import (
	"bytes"
	"errors"
	"testing"
)

// RFC 7539 section 2.8.2.
var (
	vectorText = []byte("Ladies and Gentlemen of the class of '99: If I could offer you " +
		"only one tip for the future, sunscreen would be it.")

	vectorKey = []byte{
		0x80, 0x81, 0x82, 0x83, 0x84, 0x85, 0x86, 0x87, 0x88, 0x89, 0x8a, 0x8b, 0x8c, 0x8d, 0x8e, 0x8f,
		0x90, 0x91, 0x92, 0x93, 0x94, 0x95, 0x96, 0x97, 0x98, 0x99, 0x9a, 0x9b, 0x9c, 0x9d, 0x9e, 0x9f,
	}
	vectorAD    = []byte{0x50, 0x51, 0x52, 0x53, 0xc0, 0xc1, 0xc2, 0xc3, 0xc4, 0xc5, 0xc6, 0xc7}
	vectorNonce = []byte{0x07, 0x00, 0x00, 0x00, 0x40, 0x41, 0x42, 0x43, 0x44, 0x45, 0x46, 0x47}
	vectorTag   = []byte{0x1a, 0xe1, 0x0b, 0x59, 0x4f, 0x09, 0xe2, 0x6a, 0x7e, 0x90, 0x2e, 0xcb, 0xd0, 0x60, 0x06, 0x91}

	vectorCiphertext = []byte{
		0xd3, 0x1a, 0x8d, 0x34, 0x64, 0x8e, 0x60, 0xdb, 0x7b, 0x86, 0xaf, 0xbc, 0x53, 0xef, 0x7e, 0xc2,
		0xa4, 0xad, 0xed, 0x51, 0x29, 0x6e, 0x08, 0xfe, 0xa9, 0xe2, 0xb5, 0xa7, 0x36, 0xee, 0x62, 0xd6,
		0x3d, 0xbe, 0xa4, 0x5e, 0x8c, 0xa9, 0x67, 0x12, 0x82, 0xfa, 0xfb, 0x69, 0xda, 0x92, 0x72, 0x8b,
		0x1a, 0x71, 0xde, 0x0a, 0x9e, 0x06, 0x0b, 0x29, 0x05, 0xd6, 0xa5, 0xb6, 0x7e, 0xcd, 0x3b, 0x36,
		0x92, 0xdd, 0xbd, 0x7f, 0x2d, 0x77, 0x8b, 0x8c, 0x98, 0x03, 0xae, 0xe3, 0x28, 0x09, 0x1b, 0x58,
		0xfa, 0xb3, 0x24, 0xe4, 0xfa, 0xd6, 0x75, 0x94, 0x55, 0x85, 0x80, 0x8b, 0x48, 0x31, 0xd7, 0xbc,
		0x3f, 0xf4, 0xde, 0xf0, 0x8e, 0x4b, 0x7a, 0x9d, 0xe5, 0x76, 0xd2, 0x65, 0x86, 0xce, 0xc6, 0x4b,
		0x61, 0x16,
	}
)

func TestAEADChaCha20Poly1305Vector(t *testing.T) {
	if len(vectorText) != 114 {
		t.Fatalf("vector text is %d bytes", len(vectorText))
	}

	sealed, err := AEADChaCha20Poly1305(nil, vectorText, vectorAD, vectorKey, vectorNonce, true)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(sealed[:114], vectorCiphertext) {
		t.Fatalf("ciphertext mismatch:\n%x", sealed[:114])
	}
	if !bytes.Equal(sealed[114:], vectorTag) {
		t.Fatalf("tag mismatch: %x", sealed[114:])
	}

	opened, err := AEADChaCha20Poly1305(nil, sealed, vectorAD, vectorKey, vectorNonce, false)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(opened, vectorText) {
		t.Fatalf("plaintext mismatch: %q", opened)
	}
}

func TestAEADRejectsTamperedTag(t *testing.T) {
	sealed, err := AEADChaCha20Poly1305(nil, vectorText, vectorAD, vectorKey, vectorNonce, true)
	if err != nil {
		t.Fatal(err)
	}
	sealed[len(sealed)-1] ^= 0x01

	_, err = AEADChaCha20Poly1305(nil, sealed, vectorAD, vectorKey, vectorNonce, false)
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("got %v want ErrAuthentication", err)
	}
}

func TestAEADBadNonce(t *testing.T) {
	if _, err := AEADChaCha20Poly1305(nil, vectorText, nil, vectorKey, vectorNonce[:8], true); err == nil {
		t.Fatal("expected error for short nonce")
	}
}

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer(vectorKey)
	if err != nil {
		t.Fatal(err)
	}

	a, err := s.Seal(vectorText, []byte("name"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Seal(vectorText, []byte("name"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("two seals of the same plaintext are identical")
	}

	got, err := s.Open(a, []byte("name"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, vectorText) {
		t.Fatalf("got %q", got)
	}

	if _, err := s.Open(a, []byte("other")); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("wrong associated data: got %v", err)
	}
	if _, err := s.Open(a[:10], nil); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("short input: got %v", err)
	}
}

func TestNewSealerKeySize(t *testing.T) {
	if _, err := NewSealer(make([]byte, 16)); err == nil {
		t.Fatal("expected error for 16 byte key")
	}
}
