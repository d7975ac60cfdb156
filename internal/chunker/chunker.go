// Package chunker splits normalized page text into overlapping, size-bounded
// passages. Chunk ids are a deterministic function of page id, page version,
// and sequence index, so re-chunking the same page version always produces
// the same ids and upserts overwrite cleanly.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

// Chunk is one retrievable passage of a page.
type Chunk struct {
	ID       string
	PageID   string
	SpaceKey string
	Seq      int
	Text     string
	Start    int // rune offset of the first fresh (non-overlap) text in the body
	End      int // rune offset just past the last text taken from the body
}

// ID returns the deterministic chunk id for the given page version and
// sequence index: the first 24 hex characters of
// sha256("<pageID>:<version>:<seq>").
func ID(pageID string, version, seq int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d", pageID, version, seq)))
	return hex.EncodeToString(sum[:])[:24]
}

// IDs returns the chunk ids a page with the given version and chunk count
// produced. The sync coordinator uses this to compute stale ids for a prior
// version without storing them.
func IDs(pageID string, version, count int) []string {
	ids := make([]string, count)
	for i := range ids {
		ids[i] = ID(pageID, version, i)
	}
	return ids
}

// Splitter chunks page bodies with a fixed max length and overlap, both
// counted in runes.
type Splitter struct {
	maxChars int
	overlap  int
}

// New returns a Splitter. Overlap must be positive and smaller than
// maxChars; losing the boundary context (overlap 0) or an overlap that can
// never fit (overlap >= max) are configuration mistakes.
func New(maxChars, overlap int) (*Splitter, error) {
	if maxChars <= 0 {
		return nil, fmt.Errorf("max chars must be positive, got %d", maxChars)
	}
	if overlap <= 0 || overlap >= maxChars {
		return nil, fmt.Errorf("overlap must satisfy 0 < overlap < max chars, got overlap=%d max=%d", overlap, maxChars)
	}
	return &Splitter{maxChars: maxChars, overlap: overlap}, nil
}

// segment is a span of body text with its rune offsets.
type segment struct {
	text  string
	start int
	end   int
}

// Split chunks the normalized body of one page version. An empty or
// whitespace-only body yields zero chunks; the caller decides how to report
// that. Every non-empty body yields at least one chunk.
func (s *Splitter) Split(pageID, spaceKey string, version int, body string) []Chunk {
	paras := splitParagraphs(body)
	if len(paras) == 0 {
		return nil
	}

	var pieces []segment
	var cur segment
	curRunes := 0

	flush := func() {
		if cur.text != "" {
			pieces = append(pieces, cur)
			cur = segment{}
			curRunes = 0
		}
	}

	for _, p := range paras {
		pRunes := runeLen(p.text)

		// A paragraph that cannot fit on its own is sentence-split into
		// standalone pieces; a run with no sentence breaks is hard-truncated
		// so the page still yields chunks.
		if pRunes > s.maxChars {
			flush()
			pieces = append(pieces, s.splitLong(p)...)
			continue
		}

		if cur.text == "" {
			cur = p
			curRunes = pRunes
			continue
		}

		if curRunes+2+pRunes > s.maxChars {
			prev := cur.text
			flush()
			// Seed the next chunk with the tail of the previous one so
			// context survives the boundary. Trim the seed if the paragraph
			// leaves no room for the full overlap.
			seed := tailRunes(prev, s.overlap)
			if room := s.maxChars - pRunes - 1; runeLen(seed) > room {
				if room > 0 {
					seed = tailRunes(prev, room)
				} else {
					seed = ""
				}
			}
			if seed != "" {
				cur = segment{text: seed + " " + p.text, start: p.start, end: p.end}
			} else {
				cur = p
			}
			curRunes = runeLen(cur.text)
			continue
		}

		cur.text = cur.text + "\n\n" + p.text
		cur.end = p.end
		curRunes += 2 + pRunes
	}
	flush()

	chunks := make([]Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = Chunk{
			ID:       ID(pageID, version, i),
			PageID:   pageID,
			SpaceKey: spaceKey,
			Seq:      i,
			Text:     piece.text,
			Start:    piece.start,
			End:      piece.end,
		}
	}
	return chunks
}

// splitLong breaks an oversized paragraph into pieces of at most maxChars
// runes: first along sentence boundaries, then by hard truncation when a
// single sentence is itself too long.
func (s *Splitter) splitLong(p segment) []segment {
	var out []segment
	for _, sent := range splitSentences(p) {
		sRunes := runeLen(sent.text)

		if sRunes > s.maxChars {
			out = append(out, hardTruncate(sent, s.maxChars)...)
			continue
		}

		if n := len(out); n > 0 && runeLen(out[n-1].text)+1+sRunes <= s.maxChars {
			out[n-1].text = out[n-1].text + " " + sent.text
			out[n-1].end = sent.end
		} else {
			out = append(out, sent)
		}
	}
	return out
}

// splitParagraphs splits on blank lines, keeping rune offsets. Whitespace-only
// paragraphs are dropped.
func splitParagraphs(body string) []segment {
	runes := []rune(body)
	var out []segment
	start := 0
	i := 0
	emit := func(end int) {
		text := strings.TrimSpace(string(runes[start:end]))
		if text != "" {
			// Advance start past leading whitespace so offsets point at text.
			s := start
			for s < end && unicode.IsSpace(runes[s]) {
				s++
			}
			out = append(out, segment{text: text, start: s, end: s + runeLen(text)})
		}
	}
	for i < len(runes) {
		if runes[i] == '\n' && i+1 < len(runes) && runes[i+1] == '\n' {
			emit(i)
			for i < len(runes) && runes[i] == '\n' {
				i++
			}
			start = i
			continue
		}
		i++
	}
	emit(len(runes))
	return out
}

// splitSentences splits after terminal punctuation followed by whitespace.
func splitSentences(p segment) []segment {
	runes := []rune(p.text)
	var out []segment
	start := 0
	for i := 0; i < len(runes)-1; i++ {
		if (runes[i] == '.' || runes[i] == '!' || runes[i] == '?') && unicode.IsSpace(runes[i+1]) {
			text := strings.TrimSpace(string(runes[start : i+1]))
			if text != "" {
				out = append(out, segment{text: text, start: p.start + start, end: p.start + i + 1})
			}
			start = i + 1
			for start < len(runes) && unicode.IsSpace(runes[start]) {
				start++
			}
			i = start - 1
		}
	}
	if start < len(runes) {
		text := strings.TrimSpace(string(runes[start:]))
		if text != "" {
			out = append(out, segment{text: text, start: p.start + start, end: p.start + len(runes)})
		}
	}
	return out
}

// hardTruncate slices a sentence with no usable break points into maxChars
// rune pieces.
func hardTruncate(s segment, maxChars int) []segment {
	runes := []rune(s.text)
	var out []segment
	for off := 0; off < len(runes); off += maxChars {
		end := off + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, segment{
			text:  string(runes[off:end]),
			start: s.start + off,
			end:   s.start + end,
		})
	}
	return out
}

func runeLen(s string) int { return len([]rune(s)) }

// tailRunes returns the final n runes of s, or all of s if shorter.
func tailRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
