package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseDistribution parses the expression form accepted on the command line:
//
//	uniform(-10, 10)
//	log_uniform(0.001, 0.1)
//	int_uniform(3, 15)
//	categorical([16, 32, 64])
func ParseDistribution(expr string) (Distribution, error) {
	expr = strings.TrimSpace(expr)
	open := strings.Index(expr, "(")
	if open <= 0 || !strings.HasSuffix(expr, ")") {
		return Distribution{}, fmt.Errorf("%w: expected name(args), got %q", ErrInvalidDistribution, expr)
	}
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(expr[:open])), "_", "")
	args := strings.TrimSpace(expr[open+1 : len(expr)-1])

	var d Distribution
	switch name {
	case "uniform", "loguniform", "intuniform":
		var bounds []float64
		if err := yaml.Unmarshal([]byte("["+args+"]"), &bounds); err != nil {
			return Distribution{}, fmt.Errorf("%w: parse bounds %q: %v", ErrInvalidDistribution, args, err)
		}
		if len(bounds) != 2 {
			return Distribution{}, fmt.Errorf("%w: %s expects 2 bounds, got %d", ErrInvalidDistribution, name, len(bounds))
		}
		d = Distribution{Kind: kindFromName(name), Low: bounds[0], High: bounds[1]}
	case "categorical":
		list := args
		if !strings.HasPrefix(list, "[") {
			list = "[" + list + "]"
		}
		var choices []any
		if err := yaml.Unmarshal([]byte(list), &choices); err != nil {
			return Distribution{}, fmt.Errorf("%w: parse choices %q: %v", ErrInvalidDistribution, args, err)
		}
		d = Categorical(choices...)
	default:
		return Distribution{}, fmt.Errorf("%w: unknown distribution %q", ErrInvalidDistribution, expr[:open])
	}
	if err := d.Validate(); err != nil {
		return Distribution{}, err
	}
	return d, nil
}

func kindFromName(name string) DistributionKind {
	switch name {
	case "loguniform":
		return KindLogUniform
	case "intuniform":
		return KindIntUniform
	default:
		return KindUniform
	}
}

type distributionDoc struct {
	Kind    string   `yaml:"kind"`
	Low     *float64 `yaml:"low"`
	High    *float64 `yaml:"high"`
	Choices []any    `yaml:"choices"`
}

// UnmarshalYAML accepts either the expression form or a {kind, low, high, choices} mapping.
func (d *Distribution) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := ParseDistribution(value.Value)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case yaml.MappingNode:
		var doc distributionDoc
		if err := value.Decode(&doc); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDistribution, err)
		}
		name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(doc.Kind)), "_", "")
		switch name {
		case "categorical":
			*d = Categorical(doc.Choices...)
		case "uniform", "loguniform", "intuniform":
			if doc.Low == nil || doc.High == nil {
				return fmt.Errorf("%w: %s requires low and high", ErrInvalidDistribution, doc.Kind)
			}
			*d = Distribution{Kind: kindFromName(name), Low: *doc.Low, High: *doc.High}
		default:
			return fmt.Errorf("%w: unsupported kind %q", ErrInvalidDistribution, doc.Kind)
		}
		return d.Validate()
	default:
		return fmt.Errorf("%w: expected expression or mapping", ErrInvalidDistribution)
	}
}

func (d Distribution) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d Distribution) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Distribution) UnmarshalJSON(b []byte) error {
	var node yaml.Node
	if err := yaml.Unmarshal(b, &node); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDistribution, err)
	}
	if node.Kind != yaml.DocumentNode || len(node.Content) == 0 {
		return fmt.Errorf("%w: empty document", ErrInvalidDistribution)
	}
	return d.UnmarshalYAML(node.Content[0])
}
