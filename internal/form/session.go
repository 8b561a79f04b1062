// Package form holds the state of one input form: a field per parameter,
// each either untouched or carrying a value the user supplied.
package form

import (
	"fmt"

	"github.com/mpataki/geolaunch/internal/models"
)

type Field struct {
	Param    models.ParameterDescriptor
	value    string
	provided bool
}

// Provided reports whether the user has set this field.
func (f Field) Provided() bool { return f.provided }

func (f Field) Value() string { return f.value }

// Display is what a renderer shows: the value if provided, otherwise the
// placeholder hint. Callers use Provided to style the two differently.
func (f Field) Display() string {
	if f.provided {
		return f.value
	}
	return f.Param.Placeholder
}

type Session struct {
	Operation models.OperationDescriptor
	fields    []Field
}

// Render starts a fresh session for op with every field untouched.
func Render(op models.OperationDescriptor) *Session {
	op = op.Clone()
	s := &Session{
		Operation: op,
		fields:    make([]Field, len(op.Parameters)),
	}
	for i, p := range op.Parameters {
		s.fields[i] = Field{Param: p}
	}
	return s
}

func (s *Session) Len() int { return len(s.fields) }

func (s *Session) Field(i int) Field { return s.fields[i] }

func (s *Session) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// Set records a user-typed value. An empty string still counts as touched;
// validation treats it as empty either way.
func (s *Session) Set(i int, value string) {
	s.fields[i].value = value
	s.fields[i].provided = true
}

// Clear returns the field to its untouched state.
func (s *Session) Clear(i int) {
	s.fields[i].value = ""
	s.fields[i].provided = false
}

// SelectFile overwrites a file field with a picked path. Existence is not
// checked here.
func (s *Session) SelectFile(i int, path string) error {
	if s.fields[i].Param.Kind != models.KindFile {
		return fmt.Errorf("field %q is not a file field", s.fields[i].Param.Label)
	}
	s.Set(i, path)
	return nil
}

// Submit collects the provided fields. Untouched fields are left out no
// matter what placeholder was shown.
func (s *Session) Submit() models.InputValue {
	in := make(models.InputValue, len(s.fields))
	for _, f := range s.fields {
		if f.provided {
			in[f.Param.Label] = f.value
		}
	}
	return in
}
