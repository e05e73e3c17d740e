package result

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// ErrMalformed marks a result document that cannot be decoded at all.
// Individual missing or oddly typed fields never produce it; they fall back to defaults.
var ErrMalformed = errors.New("malformed result document")

// Outcome is the three-valued classification stored in "is_success".
type Outcome int

const (
	OutcomeFailure Outcome = 0
	OutcomeSuccess Outcome = 1
	OutcomeSkipped Outcome = 2

	// OutcomeUnknown is used when the field is absent or not a number.
	OutcomeUnknown Outcome = -1
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFailure:
		return "failure"
	case OutcomeSuccess:
		return "success"
	case OutcomeSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// DefaultStepName is reported for steps that carry no usable "step_name".
const DefaultStepName = "Unknown Step"

// Node is one entry of the result tree. Scenes and steps share the same shape:
// both have an outcome and an ordered list of nested entries under "scene_result".
type Node struct {
	Name     string
	Outcome  Outcome
	Children []Node
}

// Document is a decoded result file. Scenes holds the top-level entries; RawScenes keeps
// the original "scene_result" JSON so callers can hand it back to clients untouched.
type Document struct {
	Scenes    []Node
	RawScenes json.RawMessage
}

const (
	keyScenes   = "scene_result"
	keyOutcome  = "is_success"
	keyStepName = "step_name"
	keySceneNm  = "scene_name"
)

// ReadFile loads and decodes a result document. Documents are never cached:
// the producer may rewrite the file between two reads.
func ReadFile(path string) (*Document, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	doc, err := Decode(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return doc, nil
}

// Decode parses a result document. Only a JSON syntax error, a non-object root or a
// root "scene_result" that is not an array are reported (as ErrMalformed).
func Decode(b []byte) (*Document, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(b, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if root == nil {
		return nil, fmt.Errorf("%w: root is not an object", ErrMalformed)
	}
	doc := &Document{RawScenes: json.RawMessage("[]")}
	raw, ok := root[keyScenes]
	if !ok || string(raw) == "null" {
		return doc, nil
	}
	var scenes []any
	if err := json.Unmarshal(raw, &scenes); err != nil {
		return nil, fmt.Errorf("%w: %s is not an array", ErrMalformed, keyScenes)
	}
	doc.RawScenes = raw
	doc.Scenes = buildNodes(scenes)
	return doc, nil
}

// buildNodes converts the generic JSON tree into Nodes without recursion so that
// arbitrarily deep step nesting cannot exhaust the goroutine stack.
func buildNodes(items []any) []Node {
	type pending struct {
		dst *Node
		src map[string]any
	}
	out := make([]Node, len(items))
	stack := make([]pending, 0, len(items))
	for i := range items {
		m, _ := items[i].(map[string]any)
		stack = append(stack, pending{dst: &out[i], src: m})
	}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		p.dst.Name = nodeName(p.src)
		p.dst.Outcome = outcomeOf(p.src[keyOutcome])
		children, _ := p.src[keyScenes].([]any)
		if len(children) == 0 {
			continue
		}
		p.dst.Children = make([]Node, len(children))
		for i := range children {
			m, _ := children[i].(map[string]any)
			stack = append(stack, pending{dst: &p.dst.Children[i], src: m})
		}
	}
	return out
}

func nodeName(m map[string]any) string {
	if s, ok := m[keyStepName].(string); ok {
		return s
	}
	if s, ok := m[keySceneNm].(string); ok {
		return s
	}
	return DefaultStepName
}

// outcomeOf maps a decoded "is_success" value. Booleans compare like the integers
// 1 and 0; integral numbers are kept verbatim even outside the known range.
func outcomeOf(v any) Outcome {
	switch x := v.(type) {
	case bool:
		if x {
			return OutcomeSuccess
		}
		return OutcomeFailure
	case float64:
		if x != math.Trunc(x) || x > math.MaxInt32 || x < math.MinInt32 {
			return OutcomeUnknown
		}
		return Outcome(int(x))
	default:
		return OutcomeUnknown
	}
}
