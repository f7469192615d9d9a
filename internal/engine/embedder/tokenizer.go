package embedder

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxWordRunes caps the length of a word WordPiece will try to split; longer
// words map straight to the unknown token.
const maxWordRunes = 100

// tokenized is a padded batch of encodings laid out row-major as
// [batchSize * seqLen], ready to become ONNX input tensors.
type tokenized struct {
	inputIDs      []int64
	attentionMask []int64
	tokenTypeIDs  []int64
	batchSize     int64
	seqLen        int64
}

// textTokenizer turns a batch of texts into padded model inputs.
type textTokenizer interface {
	batch(texts []string) (tokenized, error)
	close() error
}

// tokenizer performs WordPiece tokenization. With lowercase off the text
// keeps its case and accents, which cased Dutch clinical encoders expect.
type tokenizer struct {
	vocab     *vocab
	maxLen    int
	lowercase bool
}

func newTokenizer(v *vocab, maxLen int, lowercase bool) *tokenizer {
	return &tokenizer{vocab: v, maxLen: maxLen, lowercase: lowercase}
}

// encode returns the IDs for text framed by the start and end specials. The
// result is never longer than max(maxLen, 2) and is not padded.
func (t *tokenizer) encode(text string) []int64 {
	pieces := t.wordpiece(t.words(text))
	if room := max(t.maxLen-2, 0); len(pieces) > room {
		pieces = pieces[:room]
	}
	ids := make([]int64, 0, len(pieces)+2)
	ids = append(ids, t.vocab.clsID)
	for _, p := range pieces {
		ids = append(ids, t.vocab.lookup(p))
	}
	return append(ids, t.vocab.sepID)
}

// encodeBatch encodes texts and pads every row to the longest one.
func (t *tokenizer) encodeBatch(texts []string) tokenized {
	rows := make([]encodedRow, len(texts))
	for i, text := range texts {
		rows[i] = encodedRow{ids: t.encode(text)}
	}
	return padRows(rows, t.vocab.padID)
}

// encodedRow is one unpadded encoding. A nil mask marks every token real and
// nil types are all zero.
type encodedRow struct {
	ids, mask, types []int64
}

// padRows lays rows out as a batch padded with padID to the longest row.
func padRows(rows []encodedRow, padID int64) tokenized {
	if len(rows) == 0 {
		return tokenized{}
	}
	longest := 0
	for _, r := range rows {
		longest = max(longest, len(r.ids))
	}

	b := tokenized{
		batchSize: int64(len(rows)),
		seqLen:    int64(longest),
	}
	total := len(rows) * longest
	b.inputIDs = make([]int64, total)
	b.attentionMask = make([]int64, total)
	b.tokenTypeIDs = make([]int64, total)
	for i, r := range rows {
		off := i * longest
		for j := range longest {
			if j >= len(r.ids) {
				b.inputIDs[off+j] = padID
				continue
			}
			b.inputIDs[off+j] = r.ids[j]
			b.attentionMask[off+j] = 1
			if j < len(r.mask) {
				b.attentionMask[off+j] = r.mask[j]
			}
			if j < len(r.types) {
				b.tokenTypeIDs[off+j] = r.types[j]
			}
		}
	}
	return b
}

func (t *tokenizer) batch(texts []string) (tokenized, error) {
	return t.encodeBatch(texts), nil
}

func (t *tokenizer) close() error { return nil }

// words normalizes text and splits it into whitespace-separated words, with
// every punctuation rune as a word of its own. Control runes are dropped.
func (t *tokenizer) words(text string) []string {
	if t.lowercase {
		text = foldText(text)
	}
	var (
		out  []string
		word strings.Builder
	)
	flush := func() {
		if word.Len() > 0 {
			out = append(out, word.String())
			word.Reset()
		}
	}
	for _, r := range text {
		switch {
		case r == 0 || r == unicode.ReplacementChar:
		case unicode.IsSpace(r):
			flush()
		case unicode.IsControl(r):
		case isPunct(r):
			flush()
			out = append(out, string(r))
		default:
			word.WriteRune(r)
		}
	}
	flush()
	return out
}

// foldText lowercases text and strips combining marks after canonical
// decomposition.
func foldText(text string) string {
	strip := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(strip, strings.ToLower(text))
	if err != nil {
		return strings.ToLower(text)
	}
	return folded
}

// isPunct treats every non-alphanumeric printable ASCII rune as punctuation,
// along with the Unicode punctuation categories.
func isPunct(r rune) bool {
	if r < unicode.MaxASCII && r > ' ' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
		return true
	}
	return unicode.IsPunct(r)
}

// wordpiece splits each word greedily into the longest vocabulary prefixes,
// continuation pieces carrying the "##" marker. A word with no complete
// split becomes the unknown token.
func (t *tokenizer) wordpiece(words []string) []string {
	var out []string
	for _, w := range words {
		out = append(out, t.splitWord(w)...)
	}
	return out
}

func (t *tokenizer) splitWord(w string) []string {
	rs := []rune(w)
	if len(rs) > maxWordRunes {
		return []string{t.vocab.unk}
	}
	var pieces []string
	for start := 0; start < len(rs); {
		end := len(rs)
		for ; end > start; end-- {
			piece := string(rs[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if t.vocab.contains(piece) {
				pieces = append(pieces, piece)
				break
			}
		}
		if end == start {
			return []string{t.vocab.unk}
		}
		start = end
	}
	return pieces
}
