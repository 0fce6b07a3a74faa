package smartcfg

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Setting is one declared key/value pair within a section.
type Setting struct {
	Name  string
	Value Value
}

// Section is an ordered group of settings. Declaration order is preserved
// because it determines processing order, which matters for keys that
// share a toggle bracket.
type Section struct {
	Name     string
	Settings []Setting
}

// DesiredConfig is the declared desired state of the modem: ordered
// sections of ordered scalar settings. It is immutable during a
// reconciliation run.
type DesiredConfig struct {
	Sections []Section
}

// UnmarshalYAML decodes a two-level mapping of scalars while keeping the
// document's declaration order, which the generic map decoding of yaml.v3
// would lose.
func (c *DesiredConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: desired configuration must be a mapping of sections", node.Line)
	}

	for i := 0; i < len(node.Content); i += 2 {
		nameNode, bodyNode := node.Content[i], node.Content[i+1]

		section := Section{Name: nameNode.Value}
		if bodyNode.Kind != yaml.MappingNode {
			return fmt.Errorf("line %d: section %q must be a mapping of settings", bodyNode.Line, section.Name)
		}

		for j := 0; j < len(bodyNode.Content); j += 2 {
			keyNode, valueNode := bodyNode.Content[j], bodyNode.Content[j+1]

			value, err := decodeScalar(valueNode)
			if err != nil {
				return fmt.Errorf("section %q, key %q: %w", section.Name, keyNode.Value, err)
			}
			section.Settings = append(section.Settings, Setting{
				Name:  keyNode.Value,
				Value: value,
			})
		}

		c.Sections = append(c.Sections, section)
	}

	return nil
}

// ParseDesiredConfig decodes a YAML desired-configuration document.
func ParseDesiredConfig(data []byte) (*DesiredConfig, error) {
	var config DesiredConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse desired configuration: %w", err)
	}
	return &config, nil
}
