package registry

import (
	"errors"
	"fmt"

	"github.com/mpataki/geolaunch/internal/models"
)

var ErrOperationNotFound = errors.New("operation not found")

// Registry is the read-only catalog of operations, kept in the order they
// were registered.
type Registry struct {
	order []string
	ops   map[string]models.OperationDescriptor
}

// New builds a registry from ops. Names must be unique and every
// descriptor must pass Check.
func New(ops []models.OperationDescriptor) (*Registry, error) {
	r := &Registry{
		order: make([]string, 0, len(ops)),
		ops:   make(map[string]models.OperationDescriptor, len(ops)),
	}

	for _, op := range ops {
		if err := op.Check(); err != nil {
			return nil, err
		}
		if _, exists := r.ops[op.Name]; exists {
			return nil, fmt.Errorf("duplicate operation %q", op.Name)
		}
		r.order = append(r.order, op.Name)
		r.ops[op.Name] = op.Clone()
	}

	return r, nil
}

// List returns operation names in registration order.
func (r *Registry) List() []string {
	return append([]string(nil), r.order...)
}

// All returns every descriptor in registration order.
func (r *Registry) All() []models.OperationDescriptor {
	out := make([]models.OperationDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.ops[name].Clone())
	}
	return out
}

// Lookup returns a copy of the named descriptor.
func (r *Registry) Lookup(name string) (models.OperationDescriptor, error) {
	op, ok := r.ops[name]
	if !ok {
		return models.OperationDescriptor{}, fmt.Errorf("%w: %q", ErrOperationNotFound, name)
	}
	return op.Clone(), nil
}

func (r *Registry) Len() int {
	return len(r.order)
}
