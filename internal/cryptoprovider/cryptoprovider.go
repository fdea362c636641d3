// Package cryptoprovider implements the leaf crypto primitives the rest of
// the node is built on: post-quantum signatures and key encapsulation,
// keyed hashing, AEAD, and a password-based KDF. Every other component
// depends on this one; it depends on nothing else in the module.
package cryptoprovider

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem/kyber/kyber768"
	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/argon2"
)

// SignPublicKey and SignPrivateKey wrap the Dilithium-class keys used for
// node identity and credential signing (spec §2 row 1, §4.2 permissions).
type SignPublicKey struct{ k *mode3.PublicKey }
type SignPrivateKey struct{ k *mode3.PrivateKey }

// KEMPublicKey and KEMPrivateKey wrap the Kyber-class keys used for mesh
// handshake key exchange (spec §4.2 state machine, Handshaking state).
type KEMPublicKey struct{ k *kyber768.PublicKey }
type KEMPrivateKey struct{ k *kyber768.PrivateKey }

const (
	// SignPublicKeySize is the wire size of a packed Dilithium public key.
	SignPublicKeySize = mode3.PublicKeySize
	// SignatureSize is the wire size of a Dilithium signature.
	SignatureSize = mode3.SignatureSize
	// KEMPublicKeySize is the wire size of a packed Kyber public key.
	KEMPublicKeySize = kyber768.PublicKeySize
	// KEMCiphertextSize is the wire size of a Kyber encapsulation ciphertext.
	KEMCiphertextSize = kyber768.CiphertextSize
	// SharedSecretSize is the size of the shared secret produced by Kyber.
	SharedSecretSize = kyber768.SharedKeySize
)

// GenerateSigningKeyPair produces a fresh Dilithium keypair.
func GenerateSigningKeyPair() (SignPublicKey, SignPrivateKey, error) {
	pk, sk, err := mode3.GenerateKey(rand.Reader)
	if err != nil {
		return SignPublicKey{}, SignPrivateKey{}, fmt.Errorf("generate dilithium key: %w", err)
	}
	return SignPublicKey{k: pk}, SignPrivateKey{k: sk}, nil
}

// Sign produces a detached signature over msg.
func Sign(sk SignPrivateKey, msg []byte) []byte {
	sig := make([]byte, SignatureSize)
	mode3.SignTo(sk.k, msg, sig)
	return sig
}

// Verify checks a detached signature over msg against pk.
func Verify(pk SignPublicKey, msg, sig []byte) bool {
	if pk.k == nil || len(sig) != SignatureSize {
		return false
	}
	return mode3.Verify(pk.k, msg, sig)
}

// Bytes packs the public key to its fixed-size wire form.
func (pk SignPublicKey) Bytes() []byte {
	var out [mode3.PublicKeySize]byte
	pk.k.Pack(&out)
	return out[:]
}

// SignPublicKeyFromBytes unpacks a wire-form Dilithium public key.
func SignPublicKeyFromBytes(data []byte) (SignPublicKey, error) {
	if len(data) != mode3.PublicKeySize {
		return SignPublicKey{}, fmt.Errorf("dilithium public key: want %d bytes, got %d", mode3.PublicKeySize, len(data))
	}
	pk := new(mode3.PublicKey)
	pk.Unpack(data)
	return SignPublicKey{k: pk}, nil
}

// Equal reports whether two public keys are byte-identical.
func (pk SignPublicKey) Equal(other SignPublicKey) bool {
	if pk.k == nil || other.k == nil {
		return pk.k == other.k
	}
	a, b := pk.Bytes(), other.Bytes()
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// GenerateKEMKeyPair produces a fresh Kyber keypair.
func GenerateKEMKeyPair() (KEMPublicKey, KEMPrivateKey, error) {
	pk, sk, err := kyber768.GenerateKeyPair(rand.Reader)
	if err != nil {
		return KEMPublicKey{}, KEMPrivateKey{}, fmt.Errorf("generate kyber key: %w", err)
	}
	return KEMPublicKey{k: pk}, KEMPrivateKey{k: sk}, nil
}

// Bytes packs the KEM public key to its fixed-size wire form.
func (pk KEMPublicKey) Bytes() []byte {
	buf := make([]byte, kyber768.PublicKeySize)
	pk.k.Pack(buf)
	return buf
}

// KEMPublicKeyFromBytes unpacks a wire-form Kyber public key.
func KEMPublicKeyFromBytes(data []byte) (KEMPublicKey, error) {
	if len(data) != kyber768.PublicKeySize {
		return KEMPublicKey{}, fmt.Errorf("kyber public key: want %d bytes, got %d", kyber768.PublicKeySize, len(data))
	}
	pk := new(kyber768.PublicKey)
	pk.Unpack(data)
	return KEMPublicKey{k: pk}, nil
}

// Encapsulate produces a ciphertext and shared secret under pk, the
// initiator side of the mesh handshake key exchange.
func Encapsulate(pk KEMPublicKey) (ciphertext, sharedSecret []byte, err error) {
	if pk.k == nil {
		return nil, nil, errors.New("nil kem public key")
	}
	seed := make([]byte, kyber768.EncapsulationSeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, nil, fmt.Errorf("read encapsulation seed: %w", err)
	}
	ct := make([]byte, kyber768.CiphertextSize)
	ss := make([]byte, kyber768.SharedKeySize)
	pk.k.EncapsulateTo(ct, ss, seed)
	return ct, ss, nil
}

// Decapsulate recovers the shared secret, the responder side of the
// handshake.
func Decapsulate(sk KEMPrivateKey, ciphertext []byte) ([]byte, error) {
	if sk.k == nil {
		return nil, errors.New("nil kem private key")
	}
	if len(ciphertext) != kyber768.CiphertextSize {
		return nil, fmt.Errorf("kem ciphertext: want %d bytes, got %d", kyber768.CiphertextSize, len(ciphertext))
	}
	ss := make([]byte, kyber768.SharedKeySize)
	sk.k.DecapsulateTo(ss, ciphertext)
	return ss, nil
}

// Hash computes the unkeyed BLAKE3 digest of data (used for NodeId
// derivation, Merkle leaves, and deterministic commitments).
func Hash(data ...[]byte) [32]byte {
	h := blake3.New()
	for _, d := range data {
		_, _ = h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// KeyedHash computes the BLAKE3 keyed digest of data under a 32-byte key.
func KeyedHash(key [32]byte, data ...[]byte) ([32]byte, error) {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		return [32]byte{}, fmt.Errorf("blake3 keyed: %w", err)
	}
	for _, d := range data {
		_, _ = h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Argon2Params controls the recovery-phrase KDF (spec §4.5).
type Argon2Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	KeyLen      uint32
}

// DefaultArgon2Params matches spec §4.5: 64 MiB, 3 iterations, parallelism 1,
// 32-byte output.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{MemoryKiB: 64 * 1024, Iterations: 3, Parallelism: 1, KeyLen: 32}
}

// DeriveKey runs Argon2id over (password, salt) with the given parameters.
func DeriveKey(password, salt []byte, p Argon2Params) []byte {
	return argon2.IDKey(password, salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLen)
}

// SealAESGCM encrypts plaintext with AES-256-GCM under key/nonce, returning
// ciphertext and the 16-byte authentication tag separately (spec §4.5:
// "produce a 16-byte tag stored alongside the ciphertext").
//
// AES-GCM is implemented with the standard library (crypto/aes,
// crypto/cipher) rather than a third-party AEAD package: it is the
// idiomatic, canonical way every Go codebase performs AES-GCM, and no
// library in the retrieved corpus supplies an alternative AES-GCM
// implementation worth preferring over the standard one.
func SealAESGCM(key, nonce, plaintext, aad []byte) (ciphertext, tag []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(nonce))
	if err != nil {
		return nil, nil, fmt.Errorf("gcm mode: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, plaintext, aad)
	tagSize := gcm.Overhead()
	ct := sealed[:len(sealed)-tagSize]
	t := sealed[len(sealed)-tagSize:]
	out := make([]byte, len(ct))
	copy(out, ct)
	return out, t, nil
}

// OpenAESGCM decrypts ciphertext+tag with AES-256-GCM under key/nonce.
// Returns an error (without panicking) on any tag mismatch.
func OpenAESGCM(key, nonce, ciphertext, tag, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(nonce))
	if err != nil {
		return nil, fmt.Errorf("gcm mode: %w", err)
	}
	sealed := append(append([]byte{}, ciphertext...), tag...)
	plaintext, err := gcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("aead verification failed: %w", err)
	}
	return plaintext, nil
}

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return buf, nil
}
