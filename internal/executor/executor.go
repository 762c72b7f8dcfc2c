// Package executor defines the boundary to the neural-network forward-pass
// backend. The generation loops never perform tensor math beyond the
// vocab-sized logits vector; everything else happens behind Executor.
package executor

import (
	"context"
	"fmt"
)

// NamedTensor is a single named input or output of a forward pass.
// Data is either []float32 or []int64; Shape is row-major.
type NamedTensor struct {
	Name  string
	Shape []int64
	Data  any
}

// Executor runs one forward pass of a loaded model. Implementations must be
// safe for concurrent Forward calls; each generation call owns its own
// cache and never shares in-flight state.
type Executor interface {
	// Inputs reports the input names the loaded model declares. The
	// generation loops feed past key/value and position tensors only when
	// the model asks for them.
	Inputs() []string

	// Forward executes the model on the given inputs and returns its
	// outputs. Any failure is fatal for the in-progress generation call.
	Forward(ctx context.Context, inputs []NamedTensor) ([]NamedTensor, error)

	// Close releases the underlying session.
	Close() error
}

// Float32 builds a float32 tensor.
func Float32(name string, shape []int64, data []float32) NamedTensor {
	return NamedTensor{Name: name, Shape: shape, Data: data}
}

// Int64 builds an int64 tensor.
func Int64(name string, shape []int64, data []int64) NamedTensor {
	return NamedTensor{Name: name, Shape: shape, Data: data}
}

// Floats returns the tensor payload as []float32.
func (t NamedTensor) Floats() ([]float32, error) {
	v, ok := t.Data.([]float32)
	if !ok {
		return nil, fmt.Errorf("tensor %q: want float32 data, have %T", t.Name, t.Data)
	}
	return v, nil
}

// Ints returns the tensor payload as []int64.
func (t NamedTensor) Ints() ([]int64, error) {
	v, ok := t.Data.([]int64)
	if !ok {
		return nil, fmt.Errorf("tensor %q: want int64 data, have %T", t.Name, t.Data)
	}
	return v, nil
}

// Elems returns the element count implied by the shape.
func (t NamedTensor) Elems() int {
	n := 1
	for _, d := range t.Shape {
		n *= int(d)
	}
	return n
}

// Dim returns shape dimension i, or 0 when absent.
func (t NamedTensor) Dim(i int) int {
	if i < 0 || i >= len(t.Shape) {
		return 0
	}
	return int(t.Shape[i])
}

// ByName finds a tensor in a forward-pass result.
func ByName(ts []NamedTensor, name string) (NamedTensor, bool) {
	for _, t := range ts {
		if t.Name == name {
			return t, true
		}
	}
	return NamedTensor{}, false
}
