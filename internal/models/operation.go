package models

import "fmt"

// Kind is the input type of a parameter.
type Kind string

const (
	KindFile   Kind = "file"
	KindNumber Kind = "number"
	KindText   Kind = "text"
)

func (k Kind) Valid() bool {
	switch k {
	case KindFile, KindNumber, KindText:
		return true
	}
	return false
}

// Numeric narrows a number parameter to whole or fractional values.
type Numeric string

const (
	NumericInteger Numeric = "integer"
	NumericReal    Numeric = "real"
)

func (n Numeric) Valid() bool {
	switch n {
	case "", NumericInteger, NumericReal:
		return true
	}
	return false
}

type ParameterDescriptor struct {
	Label       string  `yaml:"label"`
	Kind        Kind    `yaml:"kind"`
	Numeric     Numeric `yaml:"numeric,omitempty"`
	Placeholder string  `yaml:"placeholder,omitempty"`
	Help        string  `yaml:"help,omitempty"`
}

// IsReal reports whether a number parameter accepts fractional values.
func (p ParameterDescriptor) IsReal() bool {
	return p.Kind == KindNumber && p.Numeric == NumericReal
}

// OperationDescriptor is one registered operation. Category is optional and
// groups operations under a heading in menus.
type OperationDescriptor struct {
	Name        string                `yaml:"name"`
	Description string                `yaml:"description,omitempty"`
	Category    string                `yaml:"category,omitempty"`
	Executable  string                `yaml:"executable"`
	Interpreter string                `yaml:"interpreter,omitempty"`
	Parameters  []ParameterDescriptor `yaml:"parameters"`
}

// Clone returns a copy that shares no slices with o.
func (o OperationDescriptor) Clone() OperationDescriptor {
	c := o
	c.Parameters = append([]ParameterDescriptor(nil), o.Parameters...)
	return c
}

// Check reports the first structural problem with the descriptor.
func (o OperationDescriptor) Check() error {
	if o.Name == "" {
		return fmt.Errorf("operation must have a name")
	}
	if o.Executable == "" {
		return fmt.Errorf("operation %q must have an executable", o.Name)
	}

	seen := make(map[string]bool, len(o.Parameters))
	for i, p := range o.Parameters {
		if p.Label == "" {
			return fmt.Errorf("operation %q: parameter %d must have a label", o.Name, i+1)
		}
		if seen[p.Label] {
			return fmt.Errorf("operation %q: duplicate parameter label %q", o.Name, p.Label)
		}
		seen[p.Label] = true

		if !p.Kind.Valid() {
			return fmt.Errorf("operation %q: parameter %q has unknown kind %q", o.Name, p.Label, p.Kind)
		}
		if !p.Numeric.Valid() {
			return fmt.Errorf("operation %q: parameter %q has unknown numeric type %q", o.Name, p.Label, p.Numeric)
		}
		if p.Numeric != "" && p.Kind != KindNumber {
			return fmt.Errorf("operation %q: parameter %q sets numeric on a %s field", o.Name, p.Label, p.Kind)
		}
	}

	return nil
}

// InputValue maps parameter labels to what the user entered. A label
// missing from the map was never touched and counts as empty.
type InputValue map[string]string

// Clone returns an independent copy.
func (in InputValue) Clone() InputValue {
	c := make(InputValue, len(in))
	for k, v := range in {
		c[k] = v
	}
	return c
}
