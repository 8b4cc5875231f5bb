package anydata

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
)

const (
	// WordSeparator separates words in character-level
	// transcripts.
	WordSeparator = "_"

	// Unknown is the token that out-of-vocabulary tokens map
	// to, if the vocabulary has one.
	Unknown = "<unk>"
)

// A Vocab maps tokens to class indices.
type Vocab struct {
	Tokens []string
	index  map[string]int
	chars  bool
}

// NewVocab creates a Vocab from an ordered token list.
func NewVocab(tokens []string) *Vocab {
	v := &Vocab{Tokens: tokens, index: map[string]int{}, chars: true}
	for i, t := range tokens {
		v.index[t] = i
		if t != Unknown && len([]rune(t)) != 1 {
			v.chars = false
		}
	}
	return v
}

// LoadVocab reads a vocabulary file with one token per
// line.
// Blank lines are ignored.
func LoadVocab(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "load vocab")
	}
	defer f.Close()
	var tokens []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if t := strings.TrimSpace(scanner.Text()); t != "" {
			tokens = append(tokens, t)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "load vocab %s", path)
	}
	if len(tokens) == 0 {
		return nil, errors.Errorf("load vocab %s: empty vocabulary", path)
	}
	return NewVocab(tokens), nil
}

// Len returns the number of classes.
func (v *Vocab) Len() int {
	return len(v.Tokens)
}

// Encode maps tokens to class indices.
// Unknown tokens map to Unknown if the vocabulary has it,
// and are an error otherwise.
func (v *Vocab) Encode(tokens []string) ([]int, error) {
	res := make([]int, len(tokens))
	for i, t := range tokens {
		idx, ok := v.index[t]
		if !ok {
			if idx, ok = v.index[Unknown]; !ok {
				return nil, errors.Errorf("encode: unknown token %q", t)
			}
		}
		res[i] = idx
	}
	return res, nil
}

// Idx2Token maps class indices back to tokens.
// Indices outside the vocabulary (blank, eos) are dropped.
func (v *Vocab) Idx2Token(ids []int) []string {
	res := make([]string, 0, len(ids))
	for _, id := range ids {
		if id >= 0 && id < len(v.Tokens) {
			res = append(res, v.Tokens[id])
		}
	}
	return res
}

// IsCharLevel reports whether every token is a single
// character, as with character labels.
func (v *Vocab) IsCharLevel() bool {
	return v.chars
}

// Text renders class indices as a transcript.
// Character tokens are concatenated, while word tokens are
// joined by WordSeparator.
func (v *Vocab) Text(ids []int) string {
	tokens := v.Idx2Token(ids)
	if v.IsCharLevel() {
		return strings.Join(tokens, "")
	}
	return strings.Join(tokens, WordSeparator)
}
