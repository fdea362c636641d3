package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/zhtp-core/internal/cryptoprovider"
)

func TestGenerateProducesValidMnemonic(t *testing.T) {
	res, err := Generate(GenerateOptions{WordCount: 12, Source: EntropySourceOSCSPRNG, RequireChecksum: true})
	require.NoError(t, err)
	require.NotEmpty(t, res.Phrase)

	score, err := Validate(res.Phrase, ValidateOptions{
		MinWords: 12, MaxWords: 24, RequireChecksum: true, StoredChecksum: res.Checksum,
	})
	require.NoError(t, err)
	require.Greater(t, score, 0.0)
}

func TestGenerateRejectsUnsupportedWordCount(t *testing.T) {
	_, err := Generate(GenerateOptions{WordCount: 13})
	require.ErrorIs(t, err, ErrWordCountUnsupported)
}

func TestGenerateUserProvidedEntropyTooShortFails(t *testing.T) {
	_, err := Generate(GenerateOptions{WordCount: 12, Source: EntropySourceUserProvided, UserEntropy: []byte("short")})
	require.ErrorIs(t, err, ErrUserEntropyTooShort)
}

func TestValidateRejectsWordCountOutOfRange(t *testing.T) {
	res, err := Generate(GenerateOptions{WordCount: 12})
	require.NoError(t, err)
	_, err = Validate(res.Phrase, ValidateOptions{MinWords: 18, MaxWords: 24})
	require.ErrorIs(t, err, ErrWordCountOutOfRange)
}

func TestValidateRejectsChecksumMismatch(t *testing.T) {
	res, err := Generate(GenerateOptions{WordCount: 12, RequireChecksum: true})
	require.NoError(t, err)
	bad := res.Checksum
	bad[0] ^= 0xFF
	_, err = Validate(res.Phrase, ValidateOptions{MinWords: 12, MaxWords: 24, RequireChecksum: true, StoredChecksum: bad})
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestPhraseZeroizeSatisfiesInvariant(t *testing.T) {
	p := NewPhrase("correct horse battery staple")
	require.False(t, p.IsZeroized())

	p.Zeroize()

	require.True(t, p.IsZeroized())
	require.Empty(t, p.String())
}

func TestGenerateResultZeroizeSatisfiesEntropyInvariant(t *testing.T) {
	res, err := Generate(GenerateOptions{WordCount: 12})
	require.NoError(t, err)
	require.NotEmpty(t, res.Entropy)

	res.Zeroize()

	for _, b := range res.Entropy {
		require.Equal(t, byte(0), b)
	}
}

func TestManagerCreateAndRecoverRoundTrip(t *testing.T) {
	m := NewManager(nil)
	res, err := Generate(GenerateOptions{WordCount: 12})
	require.NoError(t, err)

	_, err = m.CreateRecord("id-1", res.Phrase, nil, nil, nil)
	require.NoError(t, err)

	recovered, err := m.Recover("id-1", res.Phrase, nil)
	require.NoError(t, err)
	require.Equal(t, normalizePhrase(res.Phrase), recovered)
}

func TestManagerRecoverRejectsWrongPhrase(t *testing.T) {
	m := NewManager(nil)
	res, err := Generate(GenerateOptions{WordCount: 12})
	require.NoError(t, err)
	_, err = m.CreateRecord("id-2", res.Phrase, nil, nil, nil)
	require.NoError(t, err)

	other, err := Generate(GenerateOptions{WordCount: 12})
	require.NoError(t, err)

	_, err = m.Recover("id-2", other.Phrase, nil)
	require.ErrorIs(t, err, ErrPhraseMismatch)
}

func TestManagerRateLimitsAfterFiveAttempts(t *testing.T) {
	m := NewManager(nil)
	res, err := Generate(GenerateOptions{WordCount: 12})
	require.NoError(t, err)
	_, err = m.CreateRecord("id-3", res.Phrase, nil, nil, nil)
	require.NoError(t, err)

	other, err := Generate(GenerateOptions{WordCount: 12})
	require.NoError(t, err)

	for i := 0; i < rateLimitMaxInWindow; i++ {
		_, err = m.Recover("id-3", other.Phrase, nil)
		require.ErrorIs(t, err, ErrPhraseMismatch)
	}
	_, err = m.Recover("id-3", res.Phrase, nil)
	require.ErrorIs(t, err, ErrTooManyAttempts)
}

func TestRecoverIdentityWithPhraseReturnsKeyMaterialAndBindingHash(t *testing.T) {
	m := NewManager(nil)
	res, err := Generate(GenerateOptions{WordCount: 12})
	require.NoError(t, err)
	_, err = m.CreateRecord("id-5", res.Phrase, nil, nil, nil)
	require.NoError(t, err)

	recovered, err := m.RecoverIdentityWithPhrase("id-5", res.Phrase, nil)
	require.NoError(t, err)
	require.Equal(t, "id-5", recovered.IdentityID)
	require.Len(t, recovered.EncryptionKey, 32)
	require.NotEqual(t, [32]byte{}, recovered.NodeIDBindingHash)
	require.Equal(t, normalizePhrase(res.Phrase), recovered.Phrase.String())

	recovered.EncryptionKey.Zeroize()
	for _, b := range recovered.EncryptionKey {
		require.Equal(t, byte(0), b)
	}
	recovered.Phrase.Zeroize()
	require.True(t, recovered.Phrase.IsZeroized())
}

func TestManagerMigratesV1RecordToV2OnSuccessfulRecover(t *testing.T) {
	m := NewManager(nil)
	phrase, err := Generate(GenerateOptions{WordCount: 12})
	require.NoError(t, err)

	salt, err := cryptoprovider.RandomBytes(32)
	require.NoError(t, err)
	iv, err := cryptoprovider.RandomBytes(aesNonceSize)
	require.NoError(t, err)

	key := deriveEncryptionKey("id-4", nil, salt)
	stream := legacyXORKeystream(key, iv, len([]byte(normalizePhrase(phrase.Phrase))))
	plain := []byte(normalizePhrase(phrase.Phrase))
	ciphertext := make([]byte, len(plain))
	for i := range plain {
		ciphertext[i] = plain[i] ^ stream[i]
	}

	m.records["id-4"] = &Record{
		IdentityID:        "id-4",
		Ciphertext:        ciphertext,
		IntegrityHash:     normalizedHash(phrase.Phrase),
		EncryptionVersion: EncryptionV1Legacy,
		Salt:              salt,
		Nonce:             iv,
		CreatedAt:         time.Now().UTC(),
	}

	recovered, err := m.Recover("id-4", phrase.Phrase, nil)
	require.NoError(t, err)
	require.Equal(t, normalizePhrase(phrase.Phrase), recovered)
	require.Equal(t, EncryptionV2AESGCM, m.records["id-4"].EncryptionVersion)
}
