package parser

import (
	"fmt"
	"strings"

	"github.com/harrison/opgate/internal/models"
)

// Batch is a file of requests submitted together.
type Batch struct {
	// UserID and SourceAgent apply to every request that does not set its own.
	UserID      string
	SourceAgent string
	Requests    []Request
	FilePath    string
}

// Request is one entry of a batch. Classification is set when the file
// supplies it; the request then skips the classifier.
type Request struct {
	Title          string
	Text           string
	UserID         string
	SourceAgent    string
	Classification *models.Classification
}

// classificationYAML is the wire shape of a supplied classification.
type classificationYAML struct {
	Destination string  `yaml:"destination"`
	Consumer    string  `yaml:"consumer"`
	Semantics   string  `yaml:"semantics"`
	Confidence  float64 `yaml:"confidence"`
	Domain      string  `yaml:"domain"`
	Action      string  `yaml:"action"`
	Reasoning   string  `yaml:"reasoning"`
}

func (c *classificationYAML) toModel() (*models.Classification, error) {
	dest, err := models.ParseDestination(c.Destination)
	if err != nil {
		return nil, err
	}
	consumer, err := models.ParseConsumer(c.Consumer)
	if err != nil {
		return nil, err
	}
	sem, err := models.ParseSemantics(c.Semantics)
	if err != nil {
		return nil, err
	}
	conf := c.Confidence
	if conf == 0 {
		conf = 1
	}
	out := &models.Classification{
		Destination: dest,
		Consumer:    consumer,
		Semantics:   sem,
		Confidence:  conf,
		Domain:      strings.ToLower(strings.TrimSpace(c.Domain)),
		ActionHint:  strings.ToLower(strings.TrimSpace(c.Action)),
		Reasoning:   strings.TrimSpace(c.Reasoning),
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks every request has text, and fills per-request user and
// agent from the batch defaults.
func (b *Batch) Validate() error {
	if len(b.Requests) == 0 {
		return fmt.Errorf("batch contains no requests")
	}
	for i := range b.Requests {
		r := &b.Requests[i]
		r.Text = strings.TrimSpace(r.Text)
		if r.Text == "" {
			return fmt.Errorf("request %d (%s): empty text", i+1, r.Title)
		}
		if r.UserID == "" {
			r.UserID = b.UserID
		}
		if r.SourceAgent == "" {
			r.SourceAgent = b.SourceAgent
		}
	}
	return nil
}
