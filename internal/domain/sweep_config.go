package domain

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Direction is the optimization goal of a sweep.
type Direction string

const (
	DirectionMaximize Direction = "maximize"
	DirectionMinimize Direction = "minimize"
)

var ErrInvalidConfig = errors.New("invalid sweep config")

func ParseDirection(value string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(DirectionMaximize), "max":
		return DirectionMaximize, nil
	case string(DirectionMinimize), "min":
		return DirectionMinimize, nil
	default:
		return "", fmt.Errorf("%w: direction must be maximize or minimize (got %q)", ErrInvalidConfig, value)
	}
}

// Better reports whether score a improves on score b.
func (d Direction) Better(a, b float64) bool {
	if d == DirectionMinimize {
		return a < b
	}
	return a > b
}

const (
	FrameworkBase             = "base"
	FrameworkPyTorchLightning = "pytorch_lightning"

	AlgorithmSearch   = "search"
	AlgorithmRandom   = "random"
	AlgorithmMidpoint = "midpoint"

	PrunerNone   = "none"
	PrunerMedian = "median"
)

// SweepConfig is the create/restart request accepted by the sweeper. JSON
// bodies decode through the YAML decoder as well.
type SweepConfig struct {
	SweepID            string      `json:"sweep_id" yaml:"sweep_id"`
	Name               string      `json:"name,omitempty" yaml:"name,omitempty"`
	User               string      `json:"user,omitempty" yaml:"user,omitempty"`
	ScriptPath         string      `json:"script_path" yaml:"script_path"`
	NumTrials          int         `json:"n_trials" yaml:"n_trials"`
	SimultaneousTrials int         `json:"simultaneous_trials" yaml:"simultaneous_trials"`
	Framework          string      `json:"framework,omitempty" yaml:"framework,omitempty"`
	ScriptArgs         []string    `json:"script_args,omitempty" yaml:"script_args,omitempty"`
	Distributions      SearchSpace `json:"distributions" yaml:"distributions"`
	CloudCompute       string      `json:"cloud_compute,omitempty" yaml:"cloud_compute,omitempty"`
	NumNodes           int         `json:"num_nodes,omitempty" yaml:"num_nodes,omitempty"`
	Direction          Direction   `json:"direction" yaml:"direction"`
	Logger             string      `json:"logger,omitempty" yaml:"logger,omitempty"`
	Requirements       []string    `json:"requirements,omitempty" yaml:"requirements,omitempty"`
	Monitor            string      `json:"monitor,omitempty" yaml:"monitor,omitempty"`
	Algorithm          string      `json:"algorithm,omitempty" yaml:"algorithm,omitempty"`
	Pruner             string      `json:"pruner,omitempty" yaml:"pruner,omitempty"`
	Seed               *int64      `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// ComposeSweepID builds the "{user}-{name}" identifier.
func ComposeSweepID(user, name string) string {
	user = strings.TrimSpace(user)
	name = strings.TrimSpace(name)
	if user == "" {
		return name
	}
	if name == "" {
		return user
	}
	return user + "-" + name
}

// DecodeSweepConfig decodes a YAML or JSON document without defaults or
// validation.
func DecodeSweepConfig(input []byte) (SweepConfig, error) {
	var cfg SweepConfig
	if err := yaml.Unmarshal(input, &cfg); err != nil {
		return SweepConfig{}, fmt.Errorf("%w: decode: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// ParseSweepConfig decodes a YAML or JSON document, applies defaults and validates it.
func ParseSweepConfig(input []byte) (SweepConfig, error) {
	cfg, err := DecodeSweepConfig(input)
	if err != nil {
		return SweepConfig{}, err
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return SweepConfig{}, err
	}
	return cfg, nil
}

func (c SweepConfig) WithDefaults() SweepConfig {
	if strings.TrimSpace(c.SweepID) == "" && strings.TrimSpace(c.Name) != "" {
		c.SweepID = ComposeSweepID(c.User, c.Name)
	}
	if c.SimultaneousTrials == 0 {
		c.SimultaneousTrials = 1
	}
	if c.NumNodes == 0 {
		c.NumNodes = 1
	}
	if strings.TrimSpace(c.Framework) == "" {
		c.Framework = FrameworkBase
	}
	if strings.TrimSpace(c.CloudCompute) == "" {
		c.CloudCompute = "cpu"
	}
	if strings.TrimSpace(c.Algorithm) == "" {
		c.Algorithm = AlgorithmSearch
	}
	if strings.TrimSpace(c.Pruner) == "" {
		c.Pruner = PrunerNone
	}
	if d, err := ParseDirection(string(c.Direction)); err == nil {
		c.Direction = d
	}
	return c
}

func (c SweepConfig) Validate() error {
	if strings.TrimSpace(c.SweepID) == "" {
		return fmt.Errorf("%w: sweep_id is required", ErrInvalidConfig)
	}
	if strings.ContainsAny(c.SweepID, "/ \t\n") {
		return fmt.Errorf("%w: sweep_id must not contain slashes or whitespace (got %q)", ErrInvalidConfig, c.SweepID)
	}
	if strings.TrimSpace(c.ScriptPath) == "" {
		return fmt.Errorf("%w: script_path is required", ErrInvalidConfig)
	}
	if c.NumTrials < 1 {
		return fmt.Errorf("%w: n_trials must be >= 1", ErrInvalidConfig)
	}
	if c.SimultaneousTrials < 1 {
		return fmt.Errorf("%w: simultaneous_trials must be >= 1", ErrInvalidConfig)
	}
	if c.NumNodes < 1 {
		return fmt.Errorf("%w: num_nodes must be >= 1", ErrInvalidConfig)
	}
	if _, err := ParseDirection(string(c.Direction)); err != nil {
		return err
	}
	if err := c.Distributions.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch c.Framework {
	case FrameworkBase, FrameworkPyTorchLightning:
	default:
		return fmt.Errorf("%w: unsupported framework %q", ErrInvalidConfig, c.Framework)
	}
	switch c.Algorithm {
	case AlgorithmSearch, AlgorithmRandom, AlgorithmMidpoint:
	default:
		return fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidConfig, c.Algorithm)
	}
	switch c.Pruner {
	case PrunerNone, PrunerMedian:
	default:
		return fmt.Errorf("%w: unsupported pruner %q", ErrInvalidConfig, c.Pruner)
	}
	return nil
}
