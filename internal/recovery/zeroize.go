package recovery

import "strings"

// ZeroizeBytes overwrites every byte of b with 0 in place (spec §4.5
// security properties: "All plaintext buffers — words, entropy, derived
// keys, decrypted buffers — are scrubbed on drop or after use").
func ZeroizeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// SecretBytes is a byte buffer carrying derived key material or other
// secrets; the owner is expected to call Zeroize once it is no longer
// needed.
type SecretBytes []byte

// Zeroize scrubs the buffer in place.
func (b SecretBytes) Zeroize() {
	ZeroizeBytes(b)
}

// Phrase holds a mnemonic as independently zeroizable word buffers rather
// than a single immutable Go string, so its memory can actually be
// scrubbed (spec §8 invariant: "after zeroize, words.is_empty() OR every
// word is empty").
type Phrase struct {
	words [][]byte
}

// NewPhrase splits a normalized phrase into zeroizable word buffers.
func NewPhrase(s string) *Phrase {
	fields := strings.Fields(s)
	words := make([][]byte, len(fields))
	for i, f := range fields {
		words[i] = []byte(f)
	}
	return &Phrase{words: words}
}

// String reassembles the phrase. Callers should call this at most once and
// Zeroize the Phrase promptly afterward; the returned Go string is
// immutable and cannot itself be scrubbed.
func (p *Phrase) String() string {
	if p.IsZeroized() {
		return ""
	}
	parts := make([]string, len(p.words))
	for i, w := range p.words {
		parts[i] = string(w)
	}
	return strings.Join(parts, " ")
}

// Zeroize overwrites every word's backing bytes with 0 and truncates each
// word to empty, satisfying "every word is empty".
func (p *Phrase) Zeroize() {
	for i, w := range p.words {
		ZeroizeBytes(w)
		p.words[i] = w[:0]
	}
}

// IsZeroized reports whether the phrase has been scrubbed: either no words
// remain or every word is empty.
func (p *Phrase) IsZeroized() bool {
	for _, w := range p.words {
		if len(w) != 0 {
			return false
		}
	}
	return true
}
