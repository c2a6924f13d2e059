package record

import (
	"encoding/json"
	"fmt"

	"github.com/lexlapax/omegamem/pkg/errors"
)

// Kind tags the active variant of a Content value.
type Kind uint8

const (
	// KindText holds free text.
	KindText Kind = iota + 1
	// KindStructured holds a JSON object.
	KindStructured
	// KindReference points at data held elsewhere (URI, path, foreign key).
	KindReference
	// KindSensory holds raw bytes from an observation.
	KindSensory
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindStructured:
		return "structured"
	case KindReference:
		return "reference"
	case KindSensory:
		return "sensory"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Content is a tagged variant. Exactly the field matching Kind is meaningful;
// build values with Text, Structured, Reference or Sensory.
type Content struct {
	Kind       Kind                   `json:"kind"`
	Text       string                 `json:"text,omitempty"`
	Structured map[string]interface{} `json:"structured,omitempty"`
	Reference  string                 `json:"reference,omitempty"`
	Sensory    []byte                 `json:"sensory,omitempty"`
}

// Text builds a text Content.
func Text(s string) Content {
	return Content{Kind: KindText, Text: s}
}

// Structured builds a structured Content. The map is copied shallowly.
func Structured(m map[string]interface{}) Content {
	cp := make(map[string]interface{}, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Content{Kind: KindStructured, Structured: cp}
}

// Reference builds a reference Content.
func Reference(uri string) Content {
	return Content{Kind: KindReference, Reference: uri}
}

// Sensory builds a sensory Content. The bytes are copied.
func Sensory(b []byte) Content {
	return Content{Kind: KindSensory, Sensory: append([]byte(nil), b...)}
}

// Validate reports ErrInvalidInput for an unknown or empty variant.
func (c Content) Validate() error {
	switch c.Kind {
	case KindText:
		if c.Text == "" {
			return errors.Wrap(errors.ErrInvalidInput, "empty text content")
		}
	case KindStructured:
		if c.Structured == nil {
			return errors.Wrap(errors.ErrInvalidInput, "nil structured content")
		}
	case KindReference:
		if c.Reference == "" {
			return errors.Wrap(errors.ErrInvalidInput, "empty reference content")
		}
	case KindSensory:
		if len(c.Sensory) == 0 {
			return errors.Wrap(errors.ErrInvalidInput, "empty sensory content")
		}
	default:
		return errors.Wrap(errors.ErrInvalidInput, "unknown content kind %s", c.Kind)
	}
	return nil
}

// Summary renders the content as a single display line, for logs and the CLI.
func (c Content) Summary(limit int) string {
	var s string
	switch c.Kind {
	case KindText:
		s = c.Text
	case KindStructured:
		b, err := json.Marshal(c.Structured)
		if err != nil {
			s = fmt.Sprintf("%v", c.Structured)
		} else {
			s = string(b)
		}
	case KindReference:
		s = "ref:" + c.Reference
	case KindSensory:
		s = fmt.Sprintf("sensory:%d bytes", len(c.Sensory))
	default:
		s = c.Kind.String()
	}
	if limit > 3 && len(s) > limit {
		return s[:limit-3] + "..."
	}
	return s
}

// Clone returns a deep enough copy that mutating the result never touches c.
func (c Content) Clone() Content {
	switch c.Kind {
	case KindStructured:
		return Structured(c.Structured)
	case KindSensory:
		return Sensory(c.Sensory)
	default:
		return c
	}
}
