package recovery

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/zhtp-core/internal/cryptoprovider"
)

// EncryptionVersion identifies the at-rest scheme used for a Record's
// ciphertext (spec §4.5 storage encryption).
type EncryptionVersion uint8

const (
	// EncryptionV1Legacy is the sunset XOR scheme, read-only.
	EncryptionV1Legacy EncryptionVersion = 1
	// EncryptionV2AESGCM is the current scheme.
	EncryptionV2AESGCM EncryptionVersion = 2
)

// legacyXORSunset is the date after which v1 ciphertext can no longer be
// decrypted at all, even for migration (spec §4.5: "hard blocked after
// sunset").
var legacyXORSunset = time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC)

var (
	// ErrLegacySchemeSunset is returned when decrypting a v1 record after
	// legacyXORSunset.
	ErrLegacySchemeSunset = errors.New("recovery: legacy xor scheme is sunset, record can no longer be decrypted")
	// ErrNonceReused is returned by CreateRecord when eight freshly
	// generated nonces in a row all collide with ones already on record.
	ErrNonceReused = errors.New("recovery: nonce already used")
	// ErrUnknownEncryptionVersion is returned for a Record.EncryptionVersion
	// this implementation does not recognize.
	ErrUnknownEncryptionVersion = errors.New("recovery: unknown encryption version")
)

const (
	aesKeySize   = 32
	aesNonceSize = 12
	aesTagSize   = 16
	saltSize     = 32
)

// deriveEncryptionKey runs Argon2id over (identityID || additionalAuth)
// with the given salt (spec §4.5 key derivation).
func deriveEncryptionKey(identityID string, additionalAuth []byte, salt []byte) []byte {
	password := append([]byte(identityID), additionalAuth...)
	return cryptoprovider.DeriveKey(password, salt, cryptoprovider.DefaultArgon2Params())
}

// encryptV2 seals plaintext with AES-256-GCM under a key derived from the
// identity id and optional additional authentication data.
func encryptV2(identityID string, additionalAuth, plaintext []byte) (ciphertext, tag, salt, nonce []byte, err error) {
	salt, err = cryptoprovider.RandomBytes(saltSize)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("recovery: generate salt: %w", err)
	}
	nonce, err = cryptoprovider.RandomBytes(aesNonceSize)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("recovery: generate nonce: %w", err)
	}
	key := deriveEncryptionKey(identityID, additionalAuth, salt)
	defer ZeroizeBytes(key)
	ciphertext, tag, err = cryptoprovider.SealAESGCM(key, nonce, plaintext, []byte(identityID))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("recovery: seal: %w", err)
	}
	return ciphertext, tag, salt, nonce, nil
}

func decryptV2(identityID string, additionalAuth []byte, r *Record) ([]byte, error) {
	key := deriveEncryptionKey(identityID, additionalAuth, r.Salt)
	defer ZeroizeBytes(key)
	plaintext, err := cryptoprovider.OpenAESGCM(key, r.Nonce, r.Ciphertext, r.Tag, []byte(identityID))
	if err != nil {
		return nil, fmt.Errorf("recovery: open: %w", err)
	}
	return plaintext, nil
}

// legacyXORKeystream derives a deterministic keystream from key+iv by
// repeatedly hashing, long enough to cover length bytes. This mirrors how
// the legacy scheme derived its stream; it is read-only and never used
// for new records.
func legacyXORKeystream(key, iv []byte, length int) []byte {
	out := make([]byte, 0, length)
	counter := uint32(0)
	for len(out) < length {
		var counterBytes [4]byte
		counterBytes[0] = byte(counter)
		counterBytes[1] = byte(counter >> 8)
		counterBytes[2] = byte(counter >> 16)
		counterBytes[3] = byte(counter >> 24)
		block := cryptoprovider.Hash(key, iv, counterBytes[:])
		out = append(out, block[:]...)
		counter++
	}
	return out[:length]
}

func decryptV1(key, iv, ciphertext []byte, now time.Time) ([]byte, error) {
	if now.After(legacyXORSunset) {
		return nil, ErrLegacySchemeSunset
	}
	stream := legacyXORKeystream(key, iv, len(ciphertext))
	plaintext := make([]byte, len(ciphertext))
	for i := range ciphertext {
		plaintext[i] = ciphertext[i] ^ stream[i]
	}
	return plaintext, nil
}

// normalizedHash is the constant-time-comparable fingerprint used for
// phrase matching (spec §4.5 matching).
func normalizedHash(phrase string) [32]byte {
	return sha256.Sum256([]byte(normalizePhrase(phrase)))
}
