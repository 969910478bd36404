package parser

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// MarkdownParser reads request batches written as markdown:
//
//	---
//	user_id: alice
//	source_agent: nightly
//	---
//	## Request: Rotate logs
//	restart the rsyslog service
//
//	```yaml
//	destination: PROCESS
//	consumer: MACHINE
//	semantics: EXECUTE
//	```
//
// Paragraphs under a "## Request:" heading form the request text; an
// optional yaml code block supplies the classification. A heading with no
// paragraphs uses its own title as the text.
type MarkdownParser struct {
	markdown goldmark.Markdown
}

var requestHeading = regexp.MustCompile(`(?i)^request(?:\s+\d+)?\s*:\s*(.*)$`)

// batchFrontmatter is the optional yaml header of a request file.
type batchFrontmatter struct {
	UserID      string `yaml:"user_id"`
	SourceAgent string `yaml:"source_agent"`
}

// requestMeta is what a yaml block under a request may carry.
type requestMeta struct {
	classificationYAML `yaml:",inline"`

	UserID      string `yaml:"user_id"`
	SourceAgent string `yaml:"source_agent"`
}

func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{markdown: goldmark.New()}
}

func (p *MarkdownParser) Parse(r io.Reader) (*Batch, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	batch := &Batch{}
	content, frontmatter := extractFrontmatter(content)
	if frontmatter != nil {
		var fm batchFrontmatter
		if err := yaml.Unmarshal(frontmatter, &fm); err != nil {
			return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
		}
		batch.UserID = fm.UserID
		batch.SourceAgent = fm.SourceAgent
	}

	doc := p.markdown.Parser().Parse(text.NewReader(content))
	requests, err := extractRequests(doc, content)
	if err != nil {
		return nil, err
	}
	batch.Requests = requests
	return batch, nil
}

// extractRequests walks the top-level blocks. Only level 2 request headings
// open a section; any other level 1 or 2 heading closes it.
func extractRequests(doc ast.Node, source []byte) ([]Request, error) {
	var (
		requests []Request
		current  *Request
		body     []string
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Text = strings.Join(body, "\n")
		if strings.TrimSpace(current.Text) == "" {
			current.Text = current.Title
		}
		requests = append(requests, *current)
		current = nil
		body = nil
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			if node.Level > 2 {
				continue
			}
			flush()
			if node.Level != 2 {
				continue
			}
			m := requestHeading.FindStringSubmatch(string(lineText(node, source)))
			if m == nil {
				continue
			}
			current = &Request{Title: strings.TrimSpace(m[1])}
		case *ast.Paragraph:
			if current != nil {
				body = append(body, string(lineText(node, source)))
			}
		case *ast.FencedCodeBlock:
			if current == nil {
				continue
			}
			lang := strings.ToLower(string(node.Language(source)))
			if lang != "yaml" && lang != "yml" {
				continue
			}
			if err := applyMeta(current, lineText(node, source)); err != nil {
				return nil, fmt.Errorf("request %q: %w", current.Title, err)
			}
		}
	}
	flush()
	return requests, nil
}

func applyMeta(r *Request, raw []byte) error {
	var meta requestMeta
	if err := yaml.Unmarshal(raw, &meta); err != nil {
		return fmt.Errorf("invalid yaml block: %w", err)
	}
	r.UserID = meta.UserID
	r.SourceAgent = meta.SourceAgent
	if meta.Destination == "" && meta.Consumer == "" && meta.Semantics == "" {
		return nil
	}
	c, err := meta.toModel()
	if err != nil {
		return fmt.Errorf("invalid classification: %w", err)
	}
	r.Classification = c
	return nil
}

// lineText joins the raw source lines of a block node. Paragraph lines are
// joined with a space; code block lines keep their newlines.
func lineText(n ast.Node, source []byte) []byte {
	lines := n.Lines()
	var buf bytes.Buffer
	_, code := n.(*ast.FencedCodeBlock)
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		v := seg.Value(source)
		if code {
			buf.Write(v)
			continue
		}
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.Write(bytes.TrimSpace(v))
	}
	return buf.Bytes()
}

// extractFrontmatter splits a leading "---" delimited yaml block from content.
func extractFrontmatter(content []byte) ([]byte, []byte) {
	lines := bytes.Split(content, []byte("\n"))

	if len(lines) < 3 || !bytes.Equal(bytes.TrimSpace(lines[0]), []byte("---")) {
		return content, nil
	}

	for i := 1; i < len(lines); i++ {
		if bytes.Equal(bytes.TrimSpace(lines[i]), []byte("---")) {
			frontmatter := bytes.Join(lines[1:i], []byte("\n"))
			body := bytes.Join(lines[i+1:], []byte("\n"))
			return body, frontmatter
		}
	}

	return content, nil
}
