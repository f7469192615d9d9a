package embedder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// vocab holds a WordPiece vocabulary. Token IDs are positions in idToToken.
type vocab struct {
	tokenToID map[string]int64
	idToToken []string

	padID int64
	unkID int64
	clsID int64
	sepID int64
	unk   string
}

// wordpieceSpecials are the BERT special tokens in pad, unk, cls, sep order.
var wordpieceSpecials = [4]string{"[PAD]", "[UNK]", "[CLS]", "[SEP]"}

// ErrBPEVocab is returned when a vocab.txt carries RoBERTa-style specials.
// Byte-level BPE vocabularies need their merges, so such encoders must be
// loaded from a tokenizer.json instead.
var ErrBPEVocab = errors.New("vocab: byte-level BPE vocabulary (<s>, <pad>) needs a tokenizer.json, not vocab.txt")

// readVocabFile reads a vocab.txt file where each line is a token and the
// line number (0-indexed) is the token ID.
func readVocabFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: %w", err)
	}
	defer f.Close()
	return readVocab(f)
}

func readVocab(r io.Reader) ([]string, error) {
	var tokens []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		tokens = append(tokens, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("vocab: read error: %w", err)
	}
	return tokens, nil
}

// newVocab indexes tokens and resolves the special token IDs.
func newVocab(tokens []string) (*vocab, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("vocab: empty vocabulary")
	}

	tokenToID := make(map[string]int64, len(tokens))
	for i, tok := range tokens {
		if _, dup := tokenToID[tok]; !dup {
			tokenToID[tok] = int64(i)
		}
	}

	var ids [4]int64
	for i, name := range wordpieceSpecials {
		id, ok := tokenToID[name]
		if !ok {
			if _, bpe := tokenToID["<s>"]; bpe {
				return nil, ErrBPEVocab
			}
			if _, bpe := tokenToID["<pad>"]; bpe {
				return nil, ErrBPEVocab
			}
			return nil, fmt.Errorf("vocab: missing special token %s", name)
		}
		ids[i] = id
	}
	return &vocab{
		tokenToID: tokenToID,
		idToToken: tokens,
		padID:     ids[0],
		unkID:     ids[1],
		clsID:     ids[2],
		sepID:     ids[3],
		unk:       wordpieceSpecials[1],
	}, nil
}

// lookup returns the token ID for the given token, or the unknown ID if not found.
func (v *vocab) lookup(token string) int64 {
	if id, ok := v.tokenToID[token]; ok {
		return id
	}
	return v.unkID
}

// contains reports whether the token is in the vocabulary.
func (v *vocab) contains(token string) bool {
	_, ok := v.tokenToID[token]
	return ok
}

// size returns the number of tokens in the vocabulary.
func (v *vocab) size() int {
	return len(v.idToToken)
}
