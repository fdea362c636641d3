// Package recovery implements the mnemonic-encoded identity recovery
// subsystem: phrase generation and validation, versioned at-rest
// encryption, rate-limited recovery attempts, and constant-time matching
// (spec §4.5).
package recovery

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"

	"github.com/luxfi/zhtp-core/internal/cryptoprovider"
)

// EntropySourceKind selects where generation entropy comes from (spec
// §4.5 generation).
type EntropySourceKind int

const (
	EntropySourceOSCSPRNG EntropySourceKind = iota
	EntropySourceHardwareRNG
	EntropySourceUserProvided
	EntropySourceCombined
)

const (
	// DefaultMinEntropyBits is the configured minimum when validation
	// options don't specify one (spec §4.5: "default 128").
	DefaultMinEntropyBits = 128
	maxGenerationRetries  = 10
)

var wordCountToEntropyBits = map[int]int{
	12: 128,
	15: 160,
	18: 192,
	21: 224,
	24: 256,
}

// bannedWords is a small, fixed denylist of words this deployment refuses
// to ship in a generated phrase, re-rolled via maxGenerationRetries on a
// hit (spec §4.5: "Retry up to 10 times if the result contains any
// banned word").
var bannedWords = map[string]bool{
	"slave":  true,
	"casino": true,
}

var (
	// ErrLanguageUnsupported is returned when a language other than
	// "english" is requested; only the bip39 English wordlist is wired.
	ErrLanguageUnsupported = errors.New("recovery: unsupported language")
	// ErrWordCountUnsupported is returned for a word count outside the
	// standard bip39 set {12,15,18,21,24}.
	ErrWordCountUnsupported = errors.New("recovery: unsupported word count")
	// ErrUserEntropyTooShort is returned when caller-supplied entropy is
	// shorter than required for the requested word count.
	ErrUserEntropyTooShort = errors.New("recovery: user-provided entropy too short")
	// ErrBannedWordsExhausted is returned after maxGenerationRetries
	// consecutive banned-word hits.
	ErrBannedWordsExhausted = errors.New("recovery: could not avoid banned words within retry budget")
	// ErrWordCountOutOfRange is returned by Validate.
	ErrWordCountOutOfRange = errors.New("recovery: word count out of configured range")
	// ErrInsufficientEntropy is returned by Validate.
	ErrInsufficientEntropy = errors.New("recovery: entropy below configured minimum")
	// ErrBannedWordPresent is returned by Validate.
	ErrBannedWordPresent = errors.New("recovery: phrase contains a banned word")
	// ErrChecksumMismatch is returned by Validate when a checksum is
	// required and does not match.
	ErrChecksumMismatch = errors.New("recovery: checksum mismatch")
)

// GenerateOptions configures phrase generation (spec §4.5 generation).
type GenerateOptions struct {
	WordCount     int
	Language      string
	Source        EntropySourceKind
	UserEntropy   []byte
	RequireChecksum bool
}

// GenerateResult carries the generated phrase plus the raw entropy and
// optional checksum, since callers need the entropy to compute or verify
// the MD5 checksum described in spec §4.5 validation.
type GenerateResult struct {
	Phrase   string
	Entropy  []byte
	Checksum [16]byte
}

// Zeroize scrubs the raw entropy in place once the caller no longer needs
// it (spec §4.5 security properties; §8 invariant: "entropy.is_empty() OR
// every byte is 0"). It does not touch Phrase, since a Go string cannot be
// scrubbed in place; wrap it in a Phrase via NewPhrase for that.
func (r *GenerateResult) Zeroize() {
	ZeroizeBytes(r.Entropy)
}

// Generate produces a fresh recovery phrase per spec §4.5.
func Generate(opts GenerateOptions) (GenerateResult, error) {
	if opts.Language == "" {
		opts.Language = "english"
	}
	if !strings.EqualFold(opts.Language, "english") {
		return GenerateResult{}, fmt.Errorf("%w: %q", ErrLanguageUnsupported, opts.Language)
	}
	entropyBits, ok := wordCountToEntropyBits[opts.WordCount]
	if !ok {
		return GenerateResult{}, fmt.Errorf("%w: %d", ErrWordCountUnsupported, opts.WordCount)
	}
	entropyBytes := entropyBits / 8

	for attempt := 0; attempt < maxGenerationRetries; attempt++ {
		entropy, err := entropyForSource(opts.Source, entropyBytes, opts.UserEntropy)
		if err != nil {
			return GenerateResult{}, err
		}
		phrase, err := bip39.NewMnemonic(entropy)
		if err != nil {
			return GenerateResult{}, fmt.Errorf("recovery: generate mnemonic: %w", err)
		}
		if containsBannedWord(phrase) {
			ZeroizeBytes(entropy)
			continue
		}
		result := GenerateResult{Phrase: phrase, Entropy: entropy}
		if opts.RequireChecksum {
			result.Checksum = ComputeChecksum(phrase, entropy)
		}
		return result, nil
	}
	return GenerateResult{}, ErrBannedWordsExhausted
}

// entropyForSource materializes raw entropy from the requested source
// (spec §4.5: "OS CSPRNG, hardware RNG (fallback to CSPRNG), user-provided
// ..., combined via XOR over chunked sources").
//
// This runtime has no portable access to a hardware RNG distinct from the
// OS CSPRNG, so EntropySourceHardwareRNG always falls back to the CSPRNG
// path, which is exactly the fallback behavior the spec already requires
// when a hardware source is unavailable.
func entropyForSource(kind EntropySourceKind, n int, userEntropy []byte) ([]byte, error) {
	switch kind {
	case EntropySourceOSCSPRNG, EntropySourceHardwareRNG:
		return cryptoprovider.RandomBytes(n)
	case EntropySourceUserProvided:
		if len(userEntropy) < n {
			return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrUserEntropyTooShort, n, len(userEntropy))
		}
		out := make([]byte, n)
		copy(out, userEntropy[:n])
		return out, nil
	case EntropySourceCombined:
		osEntropy, err := cryptoprovider.RandomBytes(n)
		if err != nil {
			return nil, err
		}
		if len(userEntropy) == 0 {
			return osEntropy, nil
		}
		out := make([]byte, n)
		for i := range out {
			out[i] = osEntropy[i] ^ userEntropy[i%len(userEntropy)]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("recovery: unknown entropy source %d", kind)
	}
}

func normalizePhrase(phrase string) string {
	fields := strings.Fields(strings.ToLower(phrase))
	return strings.Join(fields, " ")
}

func containsBannedWord(phrase string) bool {
	for _, w := range strings.Fields(normalizePhrase(phrase)) {
		if bannedWords[w] {
			return true
		}
	}
	return false
}

// ComputeChecksum recomputes the spec's MD5-based checksum: "phrase-text
// || hex(entropy)" (spec §4.5: "compatibility choice, see §9" — MD5 here
// is intentionally weak-but-compatible, not used for any security
// property; it only detects accidental transcription corruption).
func ComputeChecksum(phrase string, entropy []byte) [16]byte {
	h := md5.Sum([]byte(normalizePhrase(phrase) + hex.EncodeToString(entropy)))
	return h
}

// ValidateOptions configures Validate (spec §4.5 validation).
type ValidateOptions struct {
	MinWords       int
	MaxWords       int
	Language       string
	MinEntropyBits int
	RequireChecksum bool
	StoredChecksum  [16]byte
}

// Validate checks a phrase against opts and returns a strength score in
// [0,1] on success (spec §4.5 validation).
func Validate(phrase string, opts ValidateOptions) (float64, error) {
	if opts.Language == "" {
		opts.Language = "english"
	}
	if !strings.EqualFold(opts.Language, "english") {
		return 0, fmt.Errorf("%w: %q", ErrLanguageUnsupported, opts.Language)
	}
	if opts.MinEntropyBits == 0 {
		opts.MinEntropyBits = DefaultMinEntropyBits
	}

	words := strings.Fields(normalizePhrase(phrase))
	if len(words) < opts.MinWords || len(words) > opts.MaxWords {
		return 0, fmt.Errorf("%w: got %d words", ErrWordCountOutOfRange, len(words))
	}
	if !bip39.IsMnemonicValid(strings.Join(words, " ")) {
		return 0, fmt.Errorf("recovery: %q is not a valid mnemonic", phrase)
	}
	entropy, err := bip39.EntropyFromMnemonic(strings.Join(words, " "))
	if err != nil {
		return 0, fmt.Errorf("recovery: extract entropy: %w", err)
	}
	entropyBits := len(entropy) * 8
	if entropyBits < opts.MinEntropyBits {
		return 0, fmt.Errorf("%w: have %d, need %d", ErrInsufficientEntropy, entropyBits, opts.MinEntropyBits)
	}
	if containsBannedWord(phrase) {
		return 0, ErrBannedWordPresent
	}
	if opts.RequireChecksum {
		got := ComputeChecksum(phrase, entropy)
		if got != opts.StoredChecksum {
			return 0, ErrChecksumMismatch
		}
	}

	return strengthScore(len(words), entropyBits, opts.RequireChecksum), nil
}

// strengthScore weights word count 40%, entropy 40%, language diversity
// 10%, checksum presence 10% (spec §4.5). Only English is wired, so the
// diversity term is a flat constant rather than a computed mix.
func strengthScore(wordCount, entropyBits int, hasChecksum bool) float64 {
	wordScore := float64(wordCount-12) / float64(24-12)
	wordScore = clamp01(wordScore)

	entropyScore := float64(entropyBits) / 256
	entropyScore = clamp01(entropyScore)

	const languageDiversityScore = 1.0
	checksumScore := 0.0
	if hasChecksum {
		checksumScore = 1.0
	}

	return 0.4*wordScore + 0.4*entropyScore + 0.1*languageDiversityScore + 0.1*checksumScore
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
