// Package crypto implements the engine's cryptographic primitives: the
// device's lifetime DH-1024 keypair (spec §3 "Identity"), canonical
// big-endian encoding, and the PSI-Ca protocol (spec §4.1). Key types
// follow the teacher's NoisePublicKey/NoisePrivateKey idiom
// (device/noise-types.go): fixed-size byte arrays with FromHex/ToHex
// and constant-time Equals, even though the underlying group here is
// the RFC 5114 1024-bit MODP group rather than Curve25519.
package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"math/big"
)

// CanonicalSize is the fixed width every PSI-Ca group element and hash
// input is serialized to: a 128-byte (1024-bit) big-endian integer,
// left-padded with zeros. Deviating from this width in either direction
// breaks cardinality, per spec §4.1.
const CanonicalSize = 128

// RFC 5114 "1024-bit MODP Group with 160-bit Prime Order Subgroup".
var (
	groupP, _ = new(big.Int).SetString(
		"B10B8F96A080E01DDE92DE5EAE5D54EC52C99FBCFB06A3C6"+
			"9A6A9DCA52D23B616073E28675A23D189838EF1E2EE652C0"+
			"13ECB4AEA906112324975C3CD49B83BFACCBDD7D90C4BD70"+
			"98488E9C219A73724EFFD6FAE5644738FAA31A4FF55BCCC0"+
			"A151AF5F0DC8B4BD45BF37DF365C1A65E68CFDA76D4DA708"+
			"DF1FB2BC2E4A4371", 16)
	groupG, _ = new(big.Int).SetString(
		"A4D1CBD5C3FD34126765A442EFB99905F8104DD258AC507F"+
			"D6406CFF14266D31266FEA1E5C41564B777E690F5504F213"+
			"160217B4B01B886A5E91547F9E2749F4D7FBD7D3B9A92EE1"+
			"909D0D2263F80A76A6A24C087A091F531DBF0A0169B6A28A"+
			"D662A4D18E73AFA32D779D5918D08BC8858F4DCEF97C2A24"+
			"855E6EEB22B3B2E5", 16)
	groupQ, _ = new(big.Int).SetString(
		"F518AA8781A8DF278ABA4E7D64B7CB9D49462353", 16)
)

// Canonical serializes v as a CanonicalSize-byte big-endian integer, left
// padded with zeros, stripping any leading sign byte a naive big.Int
// encoding might otherwise carry. Canonicalizing an already-canonical
// value is a no-op (property 1, spec §8).
func Canonical(v []byte) []byte {
	i := new(big.Int).SetBytes(stripSign(v))
	out := make([]byte, CanonicalSize)
	b := i.Bytes()
	if len(b) > CanonicalSize {
		b = b[len(b)-CanonicalSize:]
	}
	copy(out[CanonicalSize-len(b):], b)
	return out
}

func stripSign(v []byte) []byte {
	if len(v) > 0 && v[0] == 0 {
		i := 0
		for i < len(v)-1 && v[i] == 0 {
			i++
		}
		return v[i:]
	}
	return v
}

// PrivateKey is the device's lifetime DH-1024 keypair (spec §3
// "Identity"). Regenerating it invalidates DeviceID.
type PrivateKey struct {
	x *big.Int // the exponent
}

// PublicKey is g^x mod p, canonically encoded.
type PublicKey [CanonicalSize]byte

func (k PublicKey) ToHex() string { return hex.EncodeToString(k[:]) }

func (k *PublicKey) FromHex(src string) error {
	slice, err := hex.DecodeString(src)
	if err != nil {
		return err
	}
	if len(slice) != CanonicalSize {
		return errors.New("crypto: hex string does not fit a public key")
	}
	copy(k[:], slice)
	return nil
}

func (k PublicKey) Equals(tar PublicKey) bool {
	return subtle.ConstantTimeCompare(k[:], tar[:]) == 1
}

func (k PublicKey) IsZero() bool {
	var zero PublicKey
	return k.Equals(zero)
}

// GenerateKeyPair samples a new DH-1024 keypair with a cryptographically
// secure source of randomness.
func GenerateKeyPair() (*PrivateKey, PublicKey, error) {
	x, err := randomExponent()
	if err != nil {
		return nil, PublicKey{}, err
	}
	pub := publicFromPrivate(x)
	return &PrivateKey{x: x}, pub, nil
}

func publicFromPrivate(x *big.Int) PublicKey {
	pk := new(big.Int).Exp(groupG, x, groupP)
	var out PublicKey
	copy(out[:], Canonical(pk.Bytes()))
	return out
}

// Public returns the public key corresponding to k.
func (k *PrivateKey) Public() PublicKey { return publicFromPrivate(k.x) }

// Bytes serializes the private exponent for persistence (spec §6: the
// keypair is implementation-defined persisted state; only the derived
// public_id is wire-visible).
func (k *PrivateKey) Bytes() []byte { return Canonical(k.x.Bytes()) }

// PrivateKeyFromBytes reconstructs a PrivateKey from Bytes' output.
func PrivateKeyFromBytes(b []byte) *PrivateKey {
	return &PrivateKey{x: new(big.Int).SetBytes(stripSign(b))}
}

// DeviceID is the lowercase hex of the first 8 bytes of
// SHA-256(public-key-bytes) (spec §3 "Identity"): the stable,
// privacy-preserving identifier used across every transport.
func DeviceID(pub PublicKey) string {
	sum := sha256.Sum256(pub[:])
	return hex.EncodeToString(sum[:8])
}
