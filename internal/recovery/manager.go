package recovery

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/zhtp-core/internal/cryptoprovider"
	"github.com/luxfi/zhtp-core/internal/zlog"
)

// Record is a stored recovery phrase record (spec §3 "Recovery phrase
// record").
type Record struct {
	IdentityID        string
	Ciphertext        []byte
	IntegrityHash     [32]byte
	EncryptionVersion EncryptionVersion
	Scheme            string
	Salt              []byte
	Nonce             []byte
	Tag               []byte
	CreatedAt         time.Time
	LastUsed          time.Time
	UsageCount        int
	MaxUsage          *int
	ExpiresAt         *time.Time
}

const (
	rateLimitWindow    = 300 * time.Second
	rateLimitMaxInWindow = 5
)

var (
	// ErrTooManyAttempts is returned once the 6th attempt lands within the
	// sliding window (spec §4.5 rate limiting).
	ErrTooManyAttempts = errors.New("recovery: too many attempts")
	// ErrRecordNotFound is returned for an unknown identity id.
	ErrRecordNotFound = errors.New("recovery: no record for identity")
	// ErrRecordExpired is returned once ExpiresAt has passed.
	ErrRecordExpired = errors.New("recovery: record expired")
	// ErrUsageExhausted is returned once MaxUsage has been reached.
	ErrUsageExhausted = errors.New("recovery: usage limit exhausted")
	// ErrPhraseMismatch is returned when the candidate phrase does not
	// match the stored record.
	ErrPhraseMismatch = errors.New("recovery: phrase does not match")
)

// Manager owns a set of recovery records and enforces rate limiting and
// nonce uniqueness across them.
type Manager struct {
	mu         sync.Mutex
	records    map[string]*Record
	attempts   map[string][]time.Time
	usedNonces map[[aesNonceSize]byte]bool
	log        zlog.Logger
}

// NewManager builds an empty recovery record store.
func NewManager(log zlog.Logger) *Manager {
	if log == nil {
		log = zlog.NewNoOp()
	}
	return &Manager{
		records:    make(map[string]*Record),
		attempts:   make(map[string][]time.Time),
		usedNonces: make(map[[aesNonceSize]byte]bool),
		log:        log,
	}
}

// CreateRecord encrypts phrase under v2 (AES-256-GCM) and stores a new
// record for identityID.
func (m *Manager) CreateRecord(identityID, phrase string, additionalAuth []byte, maxUsage *int, expiresAt *time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var nonceArr [aesNonceSize]byte
	var ciphertext, tag, salt, nonce []byte
	var err error
	for attempt := 0; attempt < 8; attempt++ {
		ciphertext, tag, salt, nonce, err = encryptV2(identityID, additionalAuth, []byte(normalizePhrase(phrase)))
		if err != nil {
			return nil, err
		}
		copy(nonceArr[:], nonce)
		if !m.usedNonces[nonceArr] {
			break
		}
		if attempt == 7 {
			return nil, ErrNonceReused
		}
	}
	m.usedNonces[nonceArr] = true

	now := time.Now().UTC()
	r := &Record{
		IdentityID:        identityID,
		Ciphertext:        ciphertext,
		IntegrityHash:     normalizedHash(phrase),
		EncryptionVersion: EncryptionV2AESGCM,
		Scheme:            "aes-256-gcm",
		Salt:              salt,
		Nonce:             nonce,
		Tag:               tag,
		CreatedAt:         now,
		LastUsed:          now,
		MaxUsage:          maxUsage,
		ExpiresAt:         expiresAt,
	}
	m.records[identityID] = r
	return r, nil
}

// checkRateLimit prunes timestamps outside the window and rejects once
// rateLimitMaxInWindow attempts already landed inside it (spec §4.5 rate
// limiting: "the 6th attempt within the window fails").
func (m *Manager) checkRateLimit(identityID string, now time.Time) error {
	cutoff := now.Add(-rateLimitWindow)
	kept := m.attempts[identityID][:0]
	for _, t := range m.attempts[identityID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= rateLimitMaxInWindow {
		m.attempts[identityID] = kept
		return ErrTooManyAttempts
	}
	m.attempts[identityID] = append(kept, now)
	return nil
}

// Recover attempts to match candidatePhrase against the stored record for
// identityID, migrating a v1 record to v2 on a successful match (spec
// §4.5 matching, storage encryption migration).
func (m *Manager) Recover(identityID, candidatePhrase string, additionalAuth []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if err := m.checkRateLimit(identityID, now); err != nil {
		return "", err
	}

	r, ok := m.records[identityID]
	if !ok {
		return "", ErrRecordNotFound
	}
	if r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
		return "", ErrRecordExpired
	}
	if r.MaxUsage != nil && r.UsageCount >= *r.MaxUsage {
		return "", ErrUsageExhausted
	}

	got := normalizedHash(candidatePhrase)
	if subtle.ConstantTimeCompare(got[:], r.IntegrityHash[:]) != 1 {
		return "", ErrPhraseMismatch
	}

	plaintext, err := m.decryptRecord(identityID, additionalAuth, r, now)
	if err != nil {
		return "", err
	}
	// The decrypted buffer is scrubbed the instant it has been copied into
	// the returned string (spec §4.5: "decrypted buffers ... scrubbed on
	// drop or after use"). The returned Go string is itself immutable and
	// cannot be scrubbed; callers that need a zeroizable result should use
	// RecoverIdentityWithPhrase instead.
	out := string(plaintext)
	ZeroizeBytes(plaintext)

	r.UsageCount++
	r.LastUsed = now
	m.log.Info("recovery phrase matched", "identity_id", identityID, "usage_count", r.UsageCount)
	return out, nil
}

// RecoveredIdentity is the full reconstruction result of
// RecoverIdentityWithPhrase: the identity id, the encryption key material
// backing the recovered record, a hash binding the recovered phrase to the
// identity id, and the recovered phrase itself as zeroizable word buffers
// (spec §4.5 supplemented feature, "restore_from_phrase"). Callers must
// call Phrase.Zeroize() and EncryptionKey.Zeroize() once finished with
// them.
type RecoveredIdentity struct {
	IdentityID        string
	EncryptionKey     SecretBytes
	NodeIDBindingHash [32]byte
	Phrase            *Phrase
}

// RecoverIdentityWithPhrase reconstructs a full identity from a recovery
// phrase: it matches and decrypts the stored record exactly as Recover
// does, then additionally returns the record's current encryption key
// material, a binding hash of (identityID, recovered phrase), and the
// recovered phrase as a zeroizable buffer.
func (m *Manager) RecoverIdentityWithPhrase(identityID, candidatePhrase string, additionalAuth []byte) (RecoveredIdentity, error) {
	recoveredPhrase, err := m.Recover(identityID, candidatePhrase, additionalAuth)
	if err != nil {
		return RecoveredIdentity{}, err
	}

	m.mu.Lock()
	r := m.records[identityID]
	m.mu.Unlock()

	key := deriveEncryptionKey(identityID, additionalAuth, r.Salt)
	binding := cryptoprovider.Hash([]byte(identityID), []byte(recoveredPhrase))
	phraseBuf := NewPhrase(recoveredPhrase)
	return RecoveredIdentity{
		IdentityID:        identityID,
		EncryptionKey:     SecretBytes(key),
		NodeIDBindingHash: binding,
		Phrase:            phraseBuf,
	}, nil
}

func (m *Manager) decryptRecord(identityID string, additionalAuth []byte, r *Record, now time.Time) ([]byte, error) {
	switch r.EncryptionVersion {
	case EncryptionV2AESGCM:
		return decryptV2(identityID, additionalAuth, r)
	case EncryptionV1Legacy:
		key := deriveEncryptionKey(identityID, additionalAuth, r.Salt)
		defer ZeroizeBytes(key)
		plaintext, err := decryptV1(key, r.Nonce, r.Ciphertext, now)
		if err != nil {
			return nil, err
		}
		m.migrateToV2(identityID, additionalAuth, r, plaintext)
		return plaintext, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownEncryptionVersion, r.EncryptionVersion)
	}
}

// migrateToV2 re-encrypts a successfully decrypted v1 record under v2 and
// updates it in place (spec §4.5: "Transparent migration: on successful
// v1 decryption, re-encrypt with v2 and update the record"). Caller must
// hold m.mu.
func (m *Manager) migrateToV2(identityID string, additionalAuth []byte, r *Record, plaintext []byte) {
	ciphertext, tag, salt, nonce, err := encryptV2(identityID, additionalAuth, plaintext)
	if err != nil {
		m.log.Warn("recovery v1->v2 migration failed", "identity_id", identityID, "error", err.Error())
		return
	}
	var nonceArr [aesNonceSize]byte
	copy(nonceArr[:], nonce)
	if m.usedNonces[nonceArr] {
		m.log.Warn("recovery v1->v2 migration nonce collision, retaining v1 record", "identity_id", identityID)
		return
	}
	m.usedNonces[nonceArr] = true
	r.Ciphertext = ciphertext
	r.Tag = tag
	r.Salt = salt
	r.Nonce = nonce
	r.EncryptionVersion = EncryptionV2AESGCM
	r.Scheme = "aes-256-gcm"
	m.log.Info("recovery record migrated v1 to v2", "identity_id", identityID)
}
