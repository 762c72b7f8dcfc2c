package executor

import "github.com/x448/float16"

// FromFloat16 widens a raw IEEE-754 half-precision payload to float32.
// Some exported decoders emit half-precision logits and present tensors;
// the engine operates on float32 throughout.
func FromFloat16(name string, shape []int64, raw []uint16) NamedTensor {
	data := make([]float32, len(raw))
	for i, u := range raw {
		data[i] = float16.Float16(u).Float32()
	}
	return NamedTensor{Name: name, Shape: shape, Data: data}
}
