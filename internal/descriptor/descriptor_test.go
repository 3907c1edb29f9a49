package descriptor

import (
	"errors"
	"testing"
)

func validDescriptor() *SkillDescriptor {
	return &SkillDescriptor{
		ID:       "sk-1",
		Slug:     "market-data",
		Name:     "Market Data",
		Endpoint: "http://backend.local/call",
		Operations: []Operation{
			{
				Name:        "getPrice",
				Description: "Fetch the latest price for a symbol",
				Params: map[string]*FieldSchema{
					"symbol": {Kind: KindString},
				},
			},
		},
	}
}

func TestValidateOK(t *testing.T) {
	if err := validDescriptor().Validate(); err != nil {
		t.Fatalf("valid descriptor rejected: %v", err)
	}
}

func TestValidateDuplicateOperations(t *testing.T) {
	d := validDescriptor()
	d.Operations = append(d.Operations, Operation{Name: "getPrice"})
	err := d.Validate()
	if !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("expected ErrInvalidDescriptor, got %v", err)
	}
}

func TestValidateMissingFields(t *testing.T) {
	d := validDescriptor()
	d.Slug = ""
	if err := d.Validate(); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("missing slug: expected ErrInvalidDescriptor, got %v", err)
	}

	d = validDescriptor()
	d.Operations[0].Name = ""
	if err := d.Validate(); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("empty operation name: expected ErrInvalidDescriptor, got %v", err)
	}
}

func TestValidateNestedParams(t *testing.T) {
	d := validDescriptor()
	d.Operations[0].Params["filters"] = &FieldSchema{
		Kind: KindObject,
		Properties: map[string]*FieldSchema{
			"tags": {Kind: KindArray, Items: &FieldSchema{Kind: KindString}},
			"max":  {Kind: KindNumber, Optional: true},
		},
	}
	if err := d.Validate(); err != nil {
		t.Fatalf("nested params rejected: %v", err)
	}
}

func TestValidateBadParamTree(t *testing.T) {
	d := validDescriptor()
	d.Operations[0].Params["bad"] = &FieldSchema{Kind: "uuid"}
	if err := d.Validate(); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("unknown kind: expected ErrInvalidDescriptor, got %v", err)
	}

	d = validDescriptor()
	d.Operations[0].Params["items"] = &FieldSchema{Kind: KindArray}
	if err := d.Validate(); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("array without items: expected ErrInvalidDescriptor, got %v", err)
	}
}

func TestOperationLookup(t *testing.T) {
	d := validDescriptor()
	if op := d.Operation("getPrice"); op == nil {
		t.Fatal("expected getPrice to be found")
	}
	if op := d.Operation("nope"); op != nil {
		t.Fatalf("expected nil for unknown operation, got %v", op)
	}
}
