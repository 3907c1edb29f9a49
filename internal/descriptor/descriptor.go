package descriptor

import (
	"errors"
	"fmt"
)

// ErrInvalidDescriptor is returned when a skill descriptor fails validation.
var ErrInvalidDescriptor = errors.New("invalid skill descriptor")

// FieldKind enumerates the parameter node types a descriptor may declare.
type FieldKind string

const (
	KindString  FieldKind = "string"
	KindNumber  FieldKind = "number"
	KindBoolean FieldKind = "boolean"
	KindObject  FieldKind = "object"
	KindArray   FieldKind = "array"
)

// FieldSchema is one node in an operation's parameter tree. Authored as a
// tree, so cycles cannot occur.
type FieldSchema struct {
	Kind        FieldKind               `json:"kind"`
	Description string                  `json:"description,omitempty"`
	Optional    bool                    `json:"optional,omitempty"`
	Properties  map[string]*FieldSchema `json:"properties,omitempty"` // object nodes
	Items       *FieldSchema            `json:"items,omitempty"`      // array nodes
}

// Operation is one named, schema-typed callable action within a skill.
// Sensitive operations have their input redacted in audit records.
type Operation struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description"`
	Params      map[string]*FieldSchema `json:"params,omitempty"`
	Sensitive   bool                    `json:"sensitive,omitempty"`
}

// SkillDescriptor is the declarative definition of a skill's callable
// operations. Immutable once published; changes require a new version.
type SkillDescriptor struct {
	ID          string      `json:"id"`
	Slug        string      `json:"slug"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Version     string      `json:"version"`
	Endpoint    string      `json:"endpoint"`
	Operations  []Operation `json:"operations"`
}

// Operation returns the named operation, or nil if the descriptor does not
// declare it.
func (d *SkillDescriptor) Operation(name string) *Operation {
	for i := range d.Operations {
		if d.Operations[i].Name == name {
			return &d.Operations[i]
		}
	}
	return nil
}

// Validate checks descriptor invariants: non-empty identity fields, unique
// operation names, and well-formed parameter trees.
func (d *SkillDescriptor) Validate() error {
	if d.Slug == "" {
		return fmt.Errorf("%w: slug is required", ErrInvalidDescriptor)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDescriptor)
	}
	seen := make(map[string]struct{}, len(d.Operations))
	for _, op := range d.Operations {
		if op.Name == "" {
			return fmt.Errorf("%w: operation with empty name", ErrInvalidDescriptor)
		}
		if _, dup := seen[op.Name]; dup {
			return fmt.Errorf("%w: duplicate operation %q", ErrInvalidDescriptor, op.Name)
		}
		seen[op.Name] = struct{}{}
		for key, fs := range op.Params {
			if err := validateField(fs); err != nil {
				return fmt.Errorf("%w: operation %q param %q: %v", ErrInvalidDescriptor, op.Name, key, err)
			}
		}
	}
	return nil
}

func validateField(fs *FieldSchema) error {
	if fs == nil {
		return errors.New("nil schema node")
	}
	switch fs.Kind {
	case KindString, KindNumber, KindBoolean:
		return nil
	case KindObject:
		for key, child := range fs.Properties {
			if err := validateField(child); err != nil {
				return fmt.Errorf("property %q: %v", key, err)
			}
		}
		return nil
	case KindArray:
		if fs.Items == nil {
			return errors.New("array node without items")
		}
		return validateField(fs.Items)
	default:
		return fmt.Errorf("unknown kind %q", fs.Kind)
	}
}
