package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// SearchSpace maps dotted parameter names to distributions. Keys are unique and
// keep their insertion order so renderings and algorithm iteration are stable.
type SearchSpace struct {
	names []string
	dists map[string]Distribution
}

// Param is one (name, distribution) entry, used to build a SearchSpace.
type Param struct {
	Name         string
	Distribution Distribution
}

func NewSearchSpace(params ...Param) (SearchSpace, error) {
	var s SearchSpace
	for _, p := range params {
		if err := s.add(p.Name, p.Distribution); err != nil {
			return SearchSpace{}, err
		}
	}
	return s, nil
}

// MustSearchSpace is NewSearchSpace for static declarations.
func MustSearchSpace(params ...Param) SearchSpace {
	s, err := NewSearchSpace(params...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *SearchSpace) add(name string, d Distribution) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("parameter name is required")
	}
	if _, exists := s.dists[name]; exists {
		return fmt.Errorf("duplicate parameter %q", name)
	}
	if err := d.Validate(); err != nil {
		return fmt.Errorf("parameter %q: %w", name, err)
	}
	if s.dists == nil {
		s.dists = make(map[string]Distribution)
	}
	s.names = append(s.names, name)
	s.dists[name] = d
	return nil
}

func (s SearchSpace) Len() int {
	return len(s.names)
}

// Names returns the parameter names in declaration order.
func (s SearchSpace) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

func (s SearchSpace) Get(name string) (Distribution, bool) {
	d, ok := s.dists[name]
	return d, ok
}

// Params returns the entries in declaration order.
func (s SearchSpace) Params() []Param {
	out := make([]Param, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, Param{Name: name, Distribution: s.dists[name]})
	}
	return out
}

func (s SearchSpace) Validate() error {
	if len(s.names) == 0 {
		return errors.New("distributions must be non-empty")
	}
	for _, name := range s.names {
		if err := s.dists[name].Validate(); err != nil {
			return fmt.Errorf("parameter %q: %w", name, err)
		}
	}
	return nil
}

// CheckParams verifies one in-domain value per declared parameter.
func (s SearchSpace) CheckParams(params Params) error {
	for _, name := range s.names {
		v, ok := params[name]
		if !ok {
			return fmt.Errorf("missing value for parameter %q", name)
		}
		if !s.dists[name].Contains(v) {
			return fmt.Errorf("value %v for parameter %q outside %s", v, name, s.dists[name])
		}
	}
	if len(params) != len(s.names) {
		return fmt.Errorf("got %d values for %d parameters", len(params), len(s.names))
	}
	return nil
}

func (s *SearchSpace) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return errors.New("distributions must be a mapping")
	}
	var out SearchSpace
	for i := 0; i+1 < len(value.Content); i += 2 {
		var d Distribution
		if err := value.Content[i+1].Decode(&d); err != nil {
			return fmt.Errorf("parameter %q: %w", value.Content[i].Value, err)
		}
		if err := out.add(value.Content[i].Value, d); err != nil {
			return err
		}
	}
	*s = out
	return nil
}

func (s SearchSpace) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, name := range s.names {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: name},
			&yaml.Node{Kind: yaml.ScalarNode, Value: s.dists[name].String()},
		)
	}
	return node, nil
}

func (s SearchSpace) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range s.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(s.dists[name].String())
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *SearchSpace) UnmarshalJSON(b []byte) error {
	var node yaml.Node
	if err := yaml.Unmarshal(b, &node); err != nil {
		return err
	}
	if node.Kind != yaml.DocumentNode || len(node.Content) == 0 {
		return errors.New("distributions must be a mapping")
	}
	return s.UnmarshalYAML(node.Content[0])
}
