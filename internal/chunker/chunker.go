package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dshills/lessonrag/pkg/types"
)

const (
	// DefaultMaxChars is the chunk budget used when the caller passes <= 0
	DefaultMaxChars = 1500

	// paragraphSep joins packed paragraphs inside one chunk
	paragraphSep = "\n\n"
)

var (
	inlineSpace = regexp.MustCompile(`[ \t\f\v]+`)
	blankLines  = regexp.MustCompile(`\n{3,}`)
)

// Normalize canonicalizes lesson text so that cosmetic whitespace edits do
// not change chunk boundaries or hashes.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(inlineSpace.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankLines.ReplaceAllString(text, paragraphSep)

	return strings.TrimSpace(text)
}

// LessonText builds the text indexed for a lesson: title, blank line, content
func LessonText(title, content string) string {
	title = strings.TrimSpace(title)
	content = strings.TrimSpace(content)
	switch {
	case title == "":
		return content
	case content == "":
		return title
	}
	return title + paragraphSep + content
}

// Chunk splits text into ordered chunks of at most maxChars characters.
//
// Paragraphs (separated by blank lines) are packed greedily; a paragraph
// larger than the budget is split on word boundaries, and a single word
// longer than the budget becomes its own chunk. The result depends only on
// the input, so re-chunking identical text yields identical boundaries.
func Chunk(text string, maxChars int) []types.Chunk {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	normalized := Normalize(text)
	if normalized == "" {
		return []types.Chunk{}
	}

	var pieces []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if curLen > 0 {
			pieces = append(pieces, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, para := range strings.Split(normalized, paragraphSep) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n := runeLen(para)

		if n > maxChars {
			flush()
			pieces = append(pieces, splitWords(para, maxChars)...)
			continue
		}

		if curLen > 0 && curLen+len(paragraphSep)+n > maxChars {
			flush()
		}
		if curLen > 0 {
			cur.WriteString(paragraphSep)
			curLen += len(paragraphSep)
		}
		cur.WriteString(para)
		curLen += n
	}
	flush()

	chunks := make([]types.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = types.Chunk{Index: i, Content: p}
	}
	return chunks
}

// splitWords packs whitespace-separated words into pieces of at most
// maxChars characters. Line breaks inside the paragraph collapse to spaces.
func splitWords(para string, maxChars int) []string {
	var pieces []string
	var cur strings.Builder
	curLen := 0

	for _, word := range strings.Fields(para) {
		n := runeLen(word)
		if curLen > 0 && curLen+1+n > maxChars {
			pieces = append(pieces, cur.String())
			cur.Reset()
			curLen = 0
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(word)
		curLen += n
	}
	if curLen > 0 {
		pieces = append(pieces, cur.String())
	}
	return pieces
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
