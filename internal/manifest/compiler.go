package manifest

import (
	"sort"

	"github.com/vaultic/skillbridge/internal/descriptor"
)

// ToolManifest is the compiled, agent-consumable description of a skill's
// operations.
type ToolManifest struct {
	SkillID string      `json:"skill_id"`
	Slug    string      `json:"slug"`
	Version string      `json:"version"`
	Tools   []ToolEntry `json:"tools"`
}

// ToolEntry describes one invocable tool in the manifest.
type ToolEntry struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	InputSchema SchemaObject `json:"input_schema"`
}

// SchemaObject is a JSON-Schema-like object node.
type SchemaObject struct {
	Type       string                  `json:"type"`
	Properties map[string]SchemaObject `json:"properties,omitempty"`
	Items      *SchemaObject           `json:"items,omitempty"`
	Required   []string                `json:"required,omitempty"`
}

// Compile turns a skill descriptor into a tool manifest and a capability
// card. Pure and deterministic: no I/O, and identical input yields
// byte-identical serialized output. A descriptor with zero operations
// compiles to a manifest with an empty tool list.
func Compile(d *descriptor.SkillDescriptor) (*ToolManifest, *CapabilityCard, error) {
	if err := d.Validate(); err != nil {
		return nil, nil, err
	}

	m := &ToolManifest{
		SkillID: d.ID,
		Slug:    d.Slug,
		Version: d.Version,
		Tools:   make([]ToolEntry, 0, len(d.Operations)),
	}
	for _, op := range d.Operations {
		m.Tools = append(m.Tools, ToolEntry{
			Name:        op.Name,
			Description: op.Description,
			InputSchema: compileParams(op.Params),
		})
	}

	return m, buildCard(d), nil
}

// compileParams renders an operation's parameter tree as an object schema.
// Top-level parameters are required unless their schema declares them
// optional.
func compileParams(params map[string]*descriptor.FieldSchema) SchemaObject {
	obj := SchemaObject{Type: "object"}
	if len(params) == 0 {
		return obj
	}
	obj.Properties = make(map[string]SchemaObject, len(params))
	var required []string
	for key, fs := range params {
		obj.Properties[key] = compileField(fs)
		if !fs.Optional {
			required = append(required, key)
		}
	}
	sort.Strings(required)
	obj.Required = required
	return obj
}

func compileField(fs *descriptor.FieldSchema) SchemaObject {
	out := SchemaObject{Type: string(fs.Kind)}
	switch fs.Kind {
	case descriptor.KindObject:
		if len(fs.Properties) > 0 {
			out.Properties = make(map[string]SchemaObject, len(fs.Properties))
			var required []string
			for key, child := range fs.Properties {
				out.Properties[key] = compileField(child)
				if !child.Optional {
					required = append(required, key)
				}
			}
			sort.Strings(required)
			out.Required = required
		}
	case descriptor.KindArray:
		if fs.Items != nil {
			items := compileField(fs.Items)
			out.Items = &items
		}
	}
	return out
}
