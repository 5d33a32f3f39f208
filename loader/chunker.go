package loader

import (
	"regexp"
	"strings"

	"faqrag/types"

	"github.com/google/uuid"
)

// Chunker splits document text into word windows. Markdown tables are split
// per row so each row can be retrieved on its own.
type Chunker struct {
	Size    int // words per chunk
	Overlap int // words shared by neighbouring chunks
}

func NewChunker(size, overlap int) *Chunker {
	return &Chunker{Size: size, Overlap: overlap}
}

// Split returns chunks without embeddings, positions starting at 0.
func (c *Chunker) Split(docID uuid.UUID, text string) []types.Chunk {
	var chunks []types.Chunk
	pos := 0

	tokens := mergeAdjacentTables(tokenizeMD(text))
	for _, token := range tokens {
		switch token.Type {
		case tokenText:
			c.addTextChunks(&chunks, token.Content, token.Section, docID, &pos)
		case tokenTable:
			for _, row := range token.Table {
				chunks = append(chunks, types.Chunk{
					ID:      uuid.New(),
					DocID:   docID,
					Index:   pos,
					Type:    string(types.ChunkTableRow),
					Section: token.Section,
					Content: row.String(),
				})
				pos++
			}
		}
	}
	return chunks
}

func (c *Chunker) addTextChunks(chunks *[]types.Chunk, text, section string, docID uuid.UUID, pos *int) {
	words := strings.Fields(text)

	step := c.Size - c.Overlap
	if step < 1 {
		step = c.Size
	}
	if step < 1 {
		step = 1
	}

	for i := 0; i < len(words); i += step {
		end := i + c.Size
		if end > len(words) || c.Size < 1 {
			end = len(words)
		}

		content := strings.Join(words[i:end], " ")
		if strings.TrimSpace(content) == "" {
			continue
		}

		*chunks = append(*chunks, types.Chunk{
			ID:      uuid.New(),
			DocID:   docID,
			Index:   *pos,
			Type:    string(types.ChunkText),
			Section: section,
			Content: content,
		})
		*pos++

		if end == len(words) {
			break
		}
	}
}

type mdTokenType int

const (
	tokenText mdTokenType = iota
	tokenTable
)

type mdToken struct {
	Type    mdTokenType
	Content string
	Section string
	Header  []string
	Table   []TableRow
}

type TableRow struct {
	Key   string
	Value string
}

func (r TableRow) String() string {
	if r.Value == "" {
		return r.Key
	}
	return r.Key + ": " + r.Value
}

var headingRe = regexp.MustCompile(`^\s{0,3}#{1,6}\s+(.+?)\s*#*\s*$`)

func tokenizeMD(md string) []mdToken {
	lines := strings.Split(md, "\n")
	var tokens []mdToken

	var buf strings.Builder
	currentSection := ""

	flushText := func() {
		if content := strings.TrimSpace(buf.String()); content != "" {
			tokens = append(tokens, mdToken{
				Type:    tokenText,
				Content: content,
				Section: currentSection,
			})
		}
		buf.Reset()
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if m := headingRe.FindStringSubmatch(line); m != nil {
			flushText()
			currentSection = m[1]
			buf.WriteString(line)
			buf.WriteString("\n")
			continue
		}

		if i+1 < len(lines) && isTableRow(line) && isSeparatorRow(lines[i+1]) {
			flushText()
			header, rows, next := parseMarkdownTable(lines, i)
			tokens = append(tokens, mdToken{
				Type:    tokenTable,
				Section: currentSection,
				Header:  header,
				Table:   rows,
			})
			i = next - 1
			continue
		}

		buf.WriteString(line)
		buf.WriteString("\n")
	}

	flushText()
	return tokens
}

func isTableRow(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "|") && strings.Count(line, "|") >= 2
}

func isSeparatorRow(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "|") && strings.Contains(line, "---")
}

func splitRow(line string) []string {
	parts := strings.Split(line, "|")
	var cells []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cells = append(cells, p)
		}
	}
	return cells
}

// parseMarkdownTable reads the table whose header is at lines[start] and
// returns the index of the first line after it.
func parseMarkdownTable(lines []string, start int) ([]string, []TableRow, int) {
	header := splitRow(lines[start])

	var rows []TableRow
	i := start + 2
	for i < len(lines) && isTableRow(lines[i]) {
		if isSeparatorRow(lines[i]) {
			i++
			continue
		}
		// a repeated header starts the next table
		if i+1 < len(lines) && isSeparatorRow(lines[i+1]) {
			break
		}
		cells := splitRow(lines[i])
		switch {
		case len(cells) == 1:
			rows = append(rows, TableRow{Key: cells[0]})
		case len(cells) >= 2:
			rows = append(rows, TableRow{
				Key:   cells[0],
				Value: strings.Join(cells[1:], "; "),
			})
		}
		i++
	}
	return header, rows, i
}

// mergeAdjacentTables joins tables that were split by a page break and
// repeat the same header.
func mergeAdjacentTables(tokens []mdToken) []mdToken {
	var out []mdToken

	for _, t := range tokens {
		if t.Type == tokenTable && len(out) > 0 {
			prev := &out[len(out)-1]
			if prev.Type == tokenTable && prev.Section == t.Section && sameHeader(prev.Header, t.Header) {
				prev.Table = append(prev.Table, t.Table...)
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

func sameHeader(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
