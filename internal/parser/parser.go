// Package parser reads request batch files for `opgate run`.
package parser

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format represents the format of a request file
type Format int

const (
	// FormatUnknown represents an unknown or unsupported file format
	FormatUnknown Format = iota
	// FormatMarkdown represents a Markdown (.md, .markdown) request file
	FormatMarkdown
	// FormatYAML represents a YAML (.yaml, .yml) request file
	FormatYAML
)

// String returns the string representation of the Format
func (f Format) String() string {
	switch f {
	case FormatMarkdown:
		return "markdown"
	case FormatYAML:
		return "yaml"
	default:
		return "unknown"
	}
}

// Parser is the interface that all batch parsers implement
type Parser interface {
	Parse(r io.Reader) (*Batch, error)
}

// DetectFormat detects the batch format from the file extension.
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		return FormatMarkdown
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatUnknown
	}
}

// NewParser creates a parser for format.
func NewParser(format Format) (Parser, error) {
	switch format {
	case FormatMarkdown:
		return NewMarkdownParser(), nil
	case FormatYAML:
		return NewYAMLParser(), nil
	default:
		return nil, fmt.Errorf("unsupported format: %v", format)
	}
}

// ParseFile detects the format of path, parses and validates it.
func ParseFile(path string) (*Batch, error) {
	format := DetectFormat(path)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unknown file format: %s (supported: .md, .markdown, .yaml, .yml)", path)
	}
	p, err := NewParser(format)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	batch, err := p.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := batch.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if abs, err := filepath.Abs(path); err == nil {
		batch.FilePath = abs
	} else {
		batch.FilePath = path
	}
	return batch, nil
}

// YAMLParser reads batches of the form:
//
//	user_id: alice
//	requests:
//	  - text: show my calendar
//	  - text: stop nginx
//	    classification: {destination: PROCESS, consumer: MACHINE, semantics: EXECUTE}
type YAMLParser struct{}

type yamlBatch struct {
	UserID      string        `yaml:"user_id"`
	SourceAgent string        `yaml:"source_agent"`
	Requests    []yamlRequest `yaml:"requests"`
}

type yamlRequest struct {
	Title          string              `yaml:"title"`
	Text           string              `yaml:"text"`
	UserID         string              `yaml:"user_id"`
	SourceAgent    string              `yaml:"source_agent"`
	Classification *classificationYAML `yaml:"classification"`
}

func NewYAMLParser() *YAMLParser {
	return &YAMLParser{}
}

func (p *YAMLParser) Parse(r io.Reader) (*Batch, error) {
	var raw yamlBatch
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if err == io.EOF {
			return &Batch{}, nil
		}
		return nil, fmt.Errorf("failed to decode yaml: %w", err)
	}

	batch := &Batch{UserID: raw.UserID, SourceAgent: raw.SourceAgent}
	for i, yr := range raw.Requests {
		req := Request{Title: yr.Title, Text: yr.Text, UserID: yr.UserID, SourceAgent: yr.SourceAgent}
		if yr.Classification != nil {
			c, err := yr.Classification.toModel()
			if err != nil {
				return nil, fmt.Errorf("request %d: invalid classification: %w", i+1, err)
			}
			req.Classification = c
		}
		batch.Requests = append(batch.Requests, req)
	}
	return batch, nil
}
