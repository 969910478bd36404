package models

import (
	"errors"
	"fmt"
	"strings"
)

// Destination is where the result of an operation ends up.
type Destination string

const (
	DestinationStream  Destination = "STREAM"  // Transient output shown to the consumer
	DestinationFile    Destination = "FILE"    // Filesystem mutation
	DestinationProcess Destination = "PROCESS" // Process spawn or system state change
)

// Consumer is who consumes the operation's result.
type Consumer string

const (
	ConsumerHuman   Consumer = "HUMAN"
	ConsumerMachine Consumer = "MACHINE"
)

// Semantics describes what the operation does with its input.
type Semantics string

const (
	SemanticsRead      Semantics = "READ"
	SemanticsInterpret Semantics = "INTERPRET"
	SemanticsExecute   Semantics = "EXECUTE"
)

// Valid reports whether d is a known destination.
func (d Destination) Valid() bool {
	switch d {
	case DestinationStream, DestinationFile, DestinationProcess:
		return true
	}
	return false
}

// Valid reports whether c is a known consumer.
func (c Consumer) Valid() bool {
	return c == ConsumerHuman || c == ConsumerMachine
}

// Valid reports whether s is a known semantics value.
func (s Semantics) Valid() bool {
	switch s {
	case SemanticsRead, SemanticsInterpret, SemanticsExecute:
		return true
	}
	return false
}

// ParseDestination parses a destination name case-insensitively.
func ParseDestination(s string) (Destination, error) {
	d := Destination(strings.ToUpper(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("invalid destination %q", s)
	}
	return d, nil
}

// ParseConsumer parses a consumer name case-insensitively.
func ParseConsumer(s string) (Consumer, error) {
	c := Consumer(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("invalid consumer %q", s)
	}
	return c, nil
}

// ParseSemantics parses a semantics name case-insensitively.
func ParseSemantics(s string) (Semantics, error) {
	v := Semantics(strings.ToUpper(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("invalid semantics %q", s)
	}
	return v, nil
}

// Alternative is a candidate classification the classifier considered and rejected.
type Alternative struct {
	Destination Destination `json:"destination"`
	Consumer    Consumer    `json:"consumer"`
	Semantics   Semantics   `json:"semantics"`
	Reason      string      `json:"reason"`
}

// Classification is the 3-axis taxonomy assigned to a request.
// Once bound to an operation it only changes through an explicit, logged correction.
type Classification struct {
	Destination  Destination   `json:"destination"`
	Consumer     Consumer      `json:"consumer"`
	Semantics    Semantics     `json:"semantics"`
	Confidence   float64       `json:"confidence"`
	Domain       string        `json:"domain"`
	ActionHint   string        `json:"action_hint"`
	Reasoning    string        `json:"reasoning"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
}

// Validate checks enum membership and the confidence range.
func (c *Classification) Validate() error {
	if c == nil {
		return errors.New("classification is nil")
	}
	if !c.Destination.Valid() {
		return fmt.Errorf("invalid destination %q", c.Destination)
	}
	if !c.Consumer.Valid() {
		return fmt.Errorf("invalid consumer %q", c.Consumer)
	}
	if !c.Semantics.Valid() {
		return fmt.Errorf("invalid semantics %q", c.Semantics)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("confidence must be within [0,1], got %v", c.Confidence)
	}
	return nil
}

// IsLowRisk reports whether the classification only produces human-facing
// stream output without side effects: READ or INTERPRET, STREAM, HUMAN.
func (c *Classification) IsLowRisk() bool {
	if c == nil {
		return false
	}
	return (c.Semantics == SemanticsRead || c.Semantics == SemanticsInterpret) &&
		c.Destination == DestinationStream &&
		c.Consumer == ConsumerHuman
}

// IsMutating reports whether the classification executes against the filesystem or processes.
func (c *Classification) IsMutating() bool {
	if c == nil {
		return false
	}
	return c.Semantics == SemanticsExecute &&
		(c.Destination == DestinationFile || c.Destination == DestinationProcess)
}

// Triple renders the classification axes as "DEST/CONSUMER/SEMANTICS".
func (c *Classification) Triple() string {
	if c == nil {
		return "unclassified"
	}
	return fmt.Sprintf("%s/%s/%s", c.Destination, c.Consumer, c.Semantics)
}

// Clone returns a deep copy.
func (c *Classification) Clone() *Classification {
	if c == nil {
		return nil
	}
	out := *c
	if c.Alternatives != nil {
		out.Alternatives = append([]Alternative(nil), c.Alternatives...)
	}
	return &out
}
