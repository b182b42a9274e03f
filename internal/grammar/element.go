package grammar

import (
	"fmt"

	"github.com/goccy/go-json"
)

// ElementType tags one element of a compiled rule.
type ElementType uint32

const (
	// End terminates a rule.
	End ElementType = iota
	// Alt starts another alternative of the same rule.
	Alt
	// RuleRef references the rule whose index is Value.
	RuleRef
	// Char matches the code point Value, or starts a character class.
	Char
	// CharNot starts an inverted character class.
	CharNot
	// CharRngUpper turns the preceding Char or CharAlt into a range ending at Value.
	CharRngUpper
	// CharAlt adds another code point to the current character class.
	CharAlt
)

var elementNames = [...]string{
	End:          "end",
	Alt:          "alt",
	RuleRef:      "rule_ref",
	Char:         "char",
	CharNot:      "char_not",
	CharRngUpper: "char_rng_upper",
	CharAlt:      "char_alt",
}

func (t ElementType) String() string {
	if int(t) < len(elementNames) {
		return elementNames[t]
	}
	return fmt.Sprintf("element(%d)", uint32(t))
}

func (t ElementType) MarshalText() ([]byte, error) {
	if int(t) >= len(elementNames) {
		return nil, fmt.Errorf("unknown element type %d", uint32(t))
	}
	return []byte(elementNames[t]), nil
}

func (t *ElementType) UnmarshalText(b []byte) error {
	for i, name := range elementNames {
		if name == string(b) {
			*t = ElementType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown element type %q", b)
}

// Element is a single instruction of a compiled rule.
type Element struct {
	Type  ElementType `json:"type"`
	Value uint32      `json:"value"`
}

func isEndOfSequence(e Element) bool {
	return e.Type == End || e.Type == Alt
}

func isCharElement(e Element) bool {
	return e.Type == Char || e.Type == CharNot
}

// Rules is a compiled grammar: one element list per rule, each terminated by End.
type Rules struct {
	Rules   [][]Element    `json:"rules"`
	Root    int            `json:"root"`
	Symbols map[string]int `json:"symbols,omitempty"`
}

// LoadJSON decodes a rule table written by MarshalJSON or by hand.
func LoadJSON(data []byte) (*Rules, error) {
	var r Rules
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: decode rules: %v", ErrInvalidRules, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// MarshalJSON writes the rule table in the LoadJSON format.
func (r *Rules) MarshalJSON() ([]byte, error) {
	type plain Rules
	return json.Marshal((*plain)(r))
}

// Validate checks the table is well formed and free of left recursion.
func (r *Rules) Validate() error {
	if len(r.Rules) == 0 {
		return fmt.Errorf("%w: no rules", ErrInvalidRules)
	}
	if r.Root < 0 || r.Root >= len(r.Rules) || len(r.Rules[r.Root]) == 0 {
		return fmt.Errorf("%w: root rule %d is not defined", ErrInvalidRules, r.Root)
	}
	for i, rule := range r.Rules {
		if len(rule) == 0 {
			continue
		}
		if rule[len(rule)-1].Type != End {
			return fmt.Errorf("%w: rule %s is not terminated", ErrInvalidRules, r.name(i))
		}
		for j, e := range rule {
			switch e.Type {
			case End:
				if j != len(rule)-1 {
					return fmt.Errorf("%w: rule %s ends early at %d", ErrInvalidRules, r.name(i), j)
				}
			case RuleRef:
				if int(e.Value) >= len(r.Rules) || len(r.Rules[e.Value]) == 0 {
					return fmt.Errorf("%w: rule %s references undefined rule %d", ErrInvalidRules, r.name(i), e.Value)
				}
			case CharRngUpper, CharAlt:
				if j == 0 || !(isCharElement(rule[j-1]) || rule[j-1].Type == CharAlt || rule[j-1].Type == CharRngUpper) {
					return fmt.Errorf("%w: rule %s has a dangling %s at %d", ErrInvalidRules, r.name(i), e.Type, j)
				}
			case Alt, Char, CharNot:
			default:
				return fmt.Errorf("%w: rule %s has unknown element %d", ErrInvalidRules, r.name(i), uint32(e.Type))
			}
		}
	}

	n := len(r.Rules)
	visited := make([]bool, n)
	inProgress := make([]bool, n)
	mayBeEmpty := make([]bool, n)
	for i := range r.Rules {
		if visited[i] || len(r.Rules[i]) == 0 {
			continue
		}
		if r.leftRecursive(i, visited, inProgress, mayBeEmpty) {
			return fmt.Errorf("%w: rule %s is left recursive", ErrInvalidRules, r.name(i))
		}
	}
	return nil
}

func (r *Rules) leftRecursive(idx int, visited, inProgress, mayBeEmpty []bool) bool {
	if inProgress[idx] {
		return true
	}
	inProgress[idx] = true
	rule := r.Rules[idx]

	atStart := true
	for _, e := range rule {
		if isEndOfSequence(e) {
			if atStart {
				mayBeEmpty[idx] = true
				break
			}
			atStart = true
		} else {
			atStart = false
		}
	}

	recurse := true
	for _, e := range rule {
		switch {
		case e.Type == RuleRef && recurse:
			ref := int(e.Value)
			if r.leftRecursive(ref, visited, inProgress, mayBeEmpty) {
				return true
			}
			if !mayBeEmpty[ref] {
				recurse = false
			}
		case isEndOfSequence(e):
			recurse = true
		default:
			recurse = false
		}
	}

	inProgress[idx] = false
	visited[idx] = true
	return false
}

func (r *Rules) name(id int) string {
	for name, sym := range r.Symbols {
		if sym == id {
			return name
		}
	}
	return fmt.Sprintf("#%d", id)
}
