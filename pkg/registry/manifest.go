package registry

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/duplex/pkg/action"
	"github.com/Mindburn-Labs/duplex/pkg/schema"
)

// ProtocolVersion is the action protocol version this module implements.
// Manifests declare a constraint against it in "requires".
const ProtocolVersion = "1.2.0"

// Manifest declares a set of actions and their payload schemas.
type Manifest struct {
	Name     string           `yaml:"name"`
	Requires string           `yaml:"requires,omitempty"`
	Actions  []ManifestAction `yaml:"actions"`
}

// ManifestAction is one action entry. Input and Output are JSON Schemas
// written as YAML; absent schemas accept any payload.
type ManifestAction struct {
	Method      string           `yaml:"method"`
	Kind        action.Kind      `yaml:"kind"`
	Initiator   action.Initiator `yaml:"initiator"`
	Async       bool             `yaml:"async,omitempty"`
	Description string           `yaml:"description,omitempty"`
	Input       map[string]any   `yaml:"input,omitempty"`
	Output      map[string]any   `yaml:"output,omitempty"`
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load manifest %q: %w", path, err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("parse manifest %q: %w", path, err)
	}
	return m, nil
}

func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if err := CheckCompatibility(&m, ProtocolVersion); err != nil {
		return nil, err
	}
	return &m, nil
}

// CheckCompatibility verifies the manifest accepts the given protocol version.
// A manifest without a constraint is compatible with every version.
func CheckCompatibility(m *Manifest, version string) error {
	if m.Requires == "" {
		return nil
	}
	constraint, err := semver.NewConstraint(m.Requires)
	if err != nil {
		return fmt.Errorf("invalid protocol constraint in manifest %s: %w", m.Name, err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid protocol version %s: %w", version, err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("manifest %s requires protocol %s, but running %s", m.Name, m.Requires, version)
	}
	return nil
}

// Specs compiles every entry into an action spec.
func (m *Manifest) Specs() ([]action.Spec, error) {
	out := make([]action.Spec, 0, len(m.Actions))
	for _, a := range m.Actions {
		spec := action.Spec{
			Method:      a.Method,
			Kind:        a.Kind,
			Initiator:   a.Initiator,
			Async:       a.Async,
			Description: a.Description,
		}
		in, err := compileSchema(a.Method+".input", a.Input)
		if err != nil {
			return nil, err
		}
		outSchema, err := compileSchema(a.Method+".output", a.Output)
		if err != nil {
			return nil, err
		}
		if in != nil {
			spec.Input = in
		}
		if outSchema != nil {
			spec.Output = outSchema
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

// Register compiles the manifest into r.
func (m *Manifest) Register(r *Specs) error {
	specs, err := m.Specs()
	if err != nil {
		return err
	}
	for _, s := range specs {
		if err := r.Register(s); err != nil {
			return err
		}
	}
	return nil
}

func compileSchema(name string, doc map[string]any) (*schema.JSON, error) {
	if len(doc) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("schema %s is not representable as JSON: %w", name, err)
	}
	return schema.Compile(name, string(data))
}
