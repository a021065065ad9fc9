package pipeline

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/xxxsen/docpipe/internal/model"
	"github.com/xxxsen/docpipe/internal/pkg/hash"
	"github.com/xxxsen/docpipe/internal/pkg/timeutil"
)

// ChunkStrategy and ChunkStrategyVersion are recorded on every chunk row.
// Bumping the version starts a new chunk family; existing rows are never
// mutated.
const (
	ChunkStrategy        = "goldmark"
	ChunkStrategyVersion = 1

	chunkTargetTokens = 400
)

// SplitText deterministically splits parsed text into ordinal-ordered
// chunks. The same text always yields the same chunk ids for a given
// document, strategy and version, which is what makes the chunk stage
// upsert idempotent.
func SplitText(documentID, parsed string) []*model.Chunk {
	blocks := splitBlocks(parsed)
	now := timeutil.NowUnix()

	var chunks []*model.Chunk
	var current []string
	currentTokens := 0
	currentHeading := ""

	flush := func() {
		if len(current) == 0 {
			return
		}
		content := strings.Join(current, "\n\n")
		if currentHeading != "" {
			content = "Heading: " + currentHeading + "\n" + content
		}
		ordinal := len(chunks)
		chunks = append(chunks, &model.Chunk{
			ID:              hash.ChunkID(documentID, ChunkStrategy, ChunkStrategyVersion, ordinal),
			DocumentID:      documentID,
			Ordinal:         ordinal,
			Text:            content,
			TokenCount:      estimateTokens(content),
			ContentHash:     hash.SumString(content),
			Strategy:        ChunkStrategy,
			StrategyVersion: ChunkStrategyVersion,
			Ctime:           now,
		})
		current = nil
		currentTokens = 0
	}

	for _, block := range blocks {
		if block.heading {
			flush()
			currentHeading = block.text
			continue
		}
		tokens := estimateTokens(block.text)
		if currentTokens > 0 && currentTokens+tokens > chunkTargetTokens {
			flush()
		}
		current = append(current, block.text)
		currentTokens += tokens
	}
	flush()
	return chunks
}

type textBlock struct {
	text    string
	heading bool
}

// splitBlocks walks the goldmark AST at the top level. Level 1-2 headings
// become section markers, fenced code blocks stay whole, everything else
// contributes its plain text.
func splitBlocks(parsed string) []textBlock {
	md := goldmark.New()
	reader := text.NewReader([]byte(parsed))
	doc := md.Parser().Parse(reader)

	var blocks []textBlock
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Heading:
			heading := strings.TrimSpace(string(n.Text(reader.Source())))
			if heading == "" {
				continue
			}
			if n.Level <= 2 {
				blocks = append(blocks, textBlock{text: heading, heading: true})
			} else {
				blocks = append(blocks, textBlock{text: heading})
			}
		case *ast.FencedCodeBlock:
			lang := string(n.Language(reader.Source()))
			var code strings.Builder
			for i := 0; i < n.Lines().Len(); i++ {
				line := n.Lines().At(i)
				code.Write(line.Value(reader.Source()))
			}
			if code.Len() == 0 {
				continue
			}
			blocks = append(blocks, textBlock{text: "```" + lang + "\n" + code.String() + "```"})
		default:
			txt := extractText(node, reader.Source())
			if txt == "" {
				continue
			}
			blocks = append(blocks, textBlock{text: txt})
		}
	}
	return blocks
}

func extractText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if node.Kind() == ast.KindText {
			sb.Write(node.(*ast.Text).Segment.Value(source))
			sb.WriteByte(' ')
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

// estimateTokens counts words for ascii text plus one token per non-ascii
// rune, cheap and stable across runs.
func estimateTokens(text string) int {
	count := 0
	for _, r := range text {
		if r > 127 {
			count++
		}
	}
	count += len(strings.Fields(text))
	if count == 0 && len(text) > 0 {
		return 1
	}
	return count
}
