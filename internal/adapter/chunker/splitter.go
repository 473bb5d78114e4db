package chunker

import (
	"errors"
	"fmt"
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultSeparators are tried in order: paragraph, line, sentence enders,
// clause marks, space.
var DefaultSeparators = []string{
	"\n\n",
	"\n",
	"。", "！", "？",
	". ", "! ", "? ",
	"；", "，",
	"; ", ", ",
	" ",
}

// ErrInvalidChunkSize is returned for a non-positive size or an overlap outside [0, size).
var ErrInvalidChunkSize = errors.New("invalid chunk size")

// Splitter splits text into chunks of at most size characters where
// consecutive chunks share up to overlap characters.
type Splitter struct {
	size       int
	overlap    int
	separators []string
	hardSplit  bool
}

// NewSplitter creates a splitter. With hardSplit set, text that contains no
// separator is sliced by character count; otherwise such a unit is emitted
// whole even when it exceeds size.
func NewSplitter(size, overlap int, hardSplit bool) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", ErrInvalidChunkSize, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d with size %d", ErrInvalidChunkSize, overlap, size)
	}
	return &Splitter{
		size:       size,
		overlap:    overlap,
		separators: DefaultSeparators,
		hardSplit:  hardSplit,
	}, nil
}

// Size returns the target chunk size.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the configured overlap.
func (s *Splitter) Overlap() int { return s.overlap }

type piece struct {
	text  string
	level int
	done  bool
}

// Split returns the chunks of text. The sequence is computed when ranged
// over and can be ranged over again.
func (s *Splitter) Split(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		stack := []piece{{text: text}}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if top.done {
				if !yield(top.text) {
					return
				}
				continue
			}

			next := s.splitLevel(top.text, top.level)
			for i := len(next) - 1; i >= 0; i-- {
				stack = append(stack, next[i])
			}
		}
	}
}

// splitLevel splits text on the first separator at or after level that
// occurs in it. Short pieces are merged into finished chunks; pieces that
// are still too long are returned for the next level.
func (s *Splitter) splitLevel(text string, level int) []piece {
	sepIdx := -1
	for i := level; i < len(s.separators); i++ {
		if strings.Contains(text, s.separators[i]) {
			sepIdx = i
			break
		}
	}

	if sepIdx < 0 {
		if s.hardSplit && utf8.RuneCountInString(text) > s.size {
			return finished(s.slice(text))
		}
		return finished([]string{strings.TrimSpace(text)})
	}

	var out []piece
	var good []string
	for _, part := range splitKeepSeparator(text, s.separators[sepIdx]) {
		if utf8.RuneCountInString(part) < s.size {
			good = append(good, part)
			continue
		}
		// punctuation between chunks travels with the oversized part
		if len(good) > 0 && isPunctuation(good) {
			part = strings.Join(good, "") + part
			good = nil
		}
		if len(good) > 0 {
			out = append(out, finished(s.merge(good))...)
			good = nil
		}
		out = append(out, piece{text: part, level: sepIdx + 1})
	}
	if len(good) > 0 {
		if last := len(out) - 1; last >= 0 && !out[last].done && isPunctuation(good) {
			out[last].text += strings.Join(good, "")
		} else {
			out = append(out, finished(s.merge(good))...)
		}
	}
	return out
}

// isPunctuation reports whether parts hold only punctuation, symbols and
// whitespace.
func isPunctuation(parts []string) bool {
	for _, p := range parts {
		for _, r := range p {
			if !unicode.IsPunct(r) && !unicode.IsSymbol(r) && !unicode.IsSpace(r) {
				return false
			}
		}
	}
	return true
}

// merge joins consecutive splits into chunks no longer than size, carrying
// up to overlap characters of trailing splits into the next chunk.
func (s *Splitter) merge(splits []string) []string {
	var chunks []string
	var current []string
	var lengths []int
	total := 0

	for _, split := range splits {
		n := utf8.RuneCountInString(split)
		if total+n > s.size && len(current) > 0 {
			if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
				chunks = append(chunks, chunk)
			}
			for total > s.overlap || (total+n > s.size && total > 0) {
				total -= lengths[0]
				current = current[1:]
				lengths = lengths[1:]
			}
		}
		current = append(current, split)
		lengths = append(lengths, n)
		total += n
	}

	if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// slice cuts text into windows of size characters advancing by size-overlap.
func (s *Splitter) slice(text string) []string {
	runes := []rune(text)
	step := s.size - s.overlap
	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + s.size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, strings.TrimSpace(string(runes[start:end])))
		if end == len(runes) {
			break
		}
	}
	return out
}

// splitKeepSeparator splits on sep and keeps sep at the start of each
// following part. Empty parts are dropped.
func splitKeepSeparator(text, sep string) []string {
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

func finished(texts []string) []piece {
	out := make([]piece, 0, len(texts))
	for _, t := range texts {
		if t == "" {
			continue
		}
		out = append(out, piece{text: t, done: true})
	}
	return out
}
