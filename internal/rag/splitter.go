package rag

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultSeparators are tried in order: paragraph, line, sentence, word.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " "}

// RecursiveSplitter splits text on the first separator present, recursing
// with the next separator into any piece still longer than ChunkSize. A
// piece with no separator left is cut by rune count. Adjacent pieces are
// merged back into chunks of at most ChunkSize, carrying up to Overlap units
// of trailing context into the next chunk.
type RecursiveSplitter struct {
	ChunkSize  int
	Overlap    int
	Separators []string
	Length     LengthFunc
}

func NewRecursiveSplitter(size, overlap int, length LengthFunc) (*RecursiveSplitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be > 0, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", overlap, size)
	}
	if length == nil {
		length = CharLength
	}
	return &RecursiveSplitter{
		ChunkSize:  size,
		Overlap:    overlap,
		Separators: DefaultSeparators,
		Length:     length,
	}, nil
}

// SplitDocuments chunks every document. Each chunk inherits its parent's
// cleaned metadata plus "start_index", and StartIndex holds the byte offset
// of the chunk within the parent's content.
func (s *RecursiveSplitter) SplitDocuments(docs []Document) []Document {
	var out []Document
	for _, d := range docs {
		base := CleanMetadata(d.Metadata)
		from := 0
		for i, chunk := range s.SplitText(d.Content) {
			if i > 0 {
				from++
			}
			idx := -1
			if from <= len(d.Content) {
				if j := strings.Index(d.Content[from:], chunk); j >= 0 {
					idx = from + j
				}
			}
			if idx < 0 {
				idx = strings.Index(d.Content, chunk)
			}
			if idx >= 0 {
				from = idx
			}

			md := make(map[string]any, len(base)+1)
			for k, v := range base {
				md[k] = v
			}
			md["start_index"] = int64(idx)
			out = append(out, Document{Content: chunk, Metadata: md, StartIndex: idx})
		}
	}
	return out
}

func (s *RecursiveSplitter) SplitText(text string) []string {
	return s.split(text, s.Separators)
}

func (s *RecursiveSplitter) split(text string, separators []string) []string {
	sep := ""
	var rest []string
	for i, cand := range separators {
		if strings.Contains(text, cand) {
			sep = cand
			rest = separators[i+1:]
			break
		}
	}
	if sep == "" {
		return s.merge(s.hardSplit(text))
	}

	var (
		out  []string
		good []string
	)
	for _, piece := range splitKeep(text, sep) {
		if s.Length(piece) <= s.ChunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, s.merge(s.hardSplit(piece))...)
		} else {
			out = append(out, s.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, s.merge(good)...)
	}
	return out
}

// splitKeep splits on sep and attaches each separator to the start of the
// following piece so that concatenating the pieces restores text.
func splitKeep(text, sep string) []string {
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// hardSplit cuts text into runs that each fit in ChunkSize.
func (s *RecursiveSplitter) hardSplit(text string) []string {
	var (
		out   []string
		start int
	)
	for i := range text {
		if i > start && s.Length(text[start:i+runeLen(text[i:])]) > s.ChunkSize {
			out = append(out, text[start:i])
			start = i
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func runeLen(s string) int {
	_, n := utf8.DecodeRuneInString(s)
	return n
}

func (s *RecursiveSplitter) merge(pieces []string) []string {
	var (
		docs    []string
		current []string
		total   int
	)
	emit := func() {
		if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
			docs = append(docs, doc)
		}
	}
	for _, p := range pieces {
		l := s.Length(p)
		if total+l > s.ChunkSize && len(current) > 0 {
			emit()
			// drop from the front until what remains fits the overlap
			// window and leaves room for p
			for len(current) > 0 && (total > s.Overlap || total+l > s.ChunkSize) {
				total -= s.Length(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += l
	}
	if len(current) > 0 {
		emit()
	}
	return docs
}
