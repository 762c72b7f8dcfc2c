// Package kvcache holds the attention key/value state accumulated across
// decode steps. Each generation call owns exactly one Cache; it is created
// at the start of the call and released at the end, never shared or reused.
package kvcache

import (
	"errors"
	"fmt"

	"github.com/strand-ml/strand/internal/executor"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("kvcache: cache is closed")

	// ErrCrossUnset is returned when a decoder pass needs the
	// cross-attention entries before the encoder pass has written them.
	ErrCrossUnset = errors.New("kvcache: cross-attention entries not set")
)

// Config sizes the cache. The values come from the model descriptor.
type Config struct {
	Layers  int
	KVHeads int
	HeadDim int

	// EncoderDecoder reserves a second, fixed-length cross-attention
	// entry set per layer and switches the tensor names to the
	// decoder/encoder qualified form.
	EncoderDecoder bool
}

// Cache is the per-call attention state. Self-attention entries grow by the
// number of tokens fed per forward pass; cross-attention entries are written
// once from the encoder pass and fixed afterwards.
type Cache struct {
	cfg    Config
	seqLen int

	selfKeys [][]float32
	selfVals [][]float32

	crossLen  int
	crossKeys [][]float32
	crossVals [][]float32
	crossSet  bool

	closed bool
}

// New validates the configuration and allocates an empty cache.
func New(cfg Config) (*Cache, error) {
	if cfg.Layers <= 0 || cfg.KVHeads <= 0 || cfg.HeadDim <= 0 {
		return nil, fmt.Errorf("kvcache: invalid config: layers=%d kv_heads=%d head_dim=%d",
			cfg.Layers, cfg.KVHeads, cfg.HeadDim)
	}
	c := &Cache{
		cfg:      cfg,
		selfKeys: make([][]float32, cfg.Layers),
		selfVals: make([][]float32, cfg.Layers),
	}
	if cfg.EncoderDecoder {
		c.crossKeys = make([][]float32, cfg.Layers)
		c.crossVals = make([][]float32, cfg.Layers)
	}
	return c, nil
}

// SeqLen reports the self-attention sequence length, which always equals
// the number of tokens fed to the model so far within this call.
func (c *Cache) SeqLen() int { return c.seqLen }

// IsEmpty reports whether no tokens have been fed yet.
func (c *Cache) IsEmpty() bool { return c.seqLen == 0 }

// HasCross reports whether the cross-attention entries have been written.
func (c *Cache) HasCross() bool { return c.crossSet }

// rowStride is the float count of one sequence position in one buffer.
func (c *Cache) rowStride() int { return c.cfg.KVHeads * c.cfg.HeadDim }

// SelfTensors returns the past self-attention inputs for the next forward
// pass. On an empty cache the tensors are zero-length along the seq axis but
// still correctly shaped, so prefill and decode share one input path.
func (c *Cache) SelfTensors() ([]executor.NamedTensor, error) {
	if c.closed {
		return nil, ErrClosed
	}
	out := make([]executor.NamedTensor, 0, 2*c.cfg.Layers)
	for l := 0; l < c.cfg.Layers; l++ {
		out = append(out,
			c.pastTensor(executor.KVSlot{Layer: l, Key: true}, c.selfKeys[l], c.seqLen),
			c.pastTensor(executor.KVSlot{Layer: l}, c.selfVals[l], c.seqLen),
		)
	}
	return out, nil
}

// CrossTensors returns the fixed cross-attention inputs. It fails until the
// encoder pass has populated them.
func (c *Cache) CrossTensors() ([]executor.NamedTensor, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if !c.cfg.EncoderDecoder {
		return nil, errors.New("kvcache: cache has no cross-attention entries")
	}
	if !c.crossSet {
		return nil, ErrCrossUnset
	}
	out := make([]executor.NamedTensor, 0, 2*c.cfg.Layers)
	for l := 0; l < c.cfg.Layers; l++ {
		out = append(out,
			c.pastTensor(executor.KVSlot{Layer: l, Cross: true, Key: true}, c.crossKeys[l], c.crossLen),
			c.pastTensor(executor.KVSlot{Layer: l, Cross: true}, c.crossVals[l], c.crossLen),
		)
	}
	return out, nil
}

func (c *Cache) pastTensor(slot executor.KVSlot, data []float32, seq int) executor.NamedTensor {
	shape := []int64{1, int64(c.cfg.KVHeads), int64(seq), int64(c.cfg.HeadDim)}
	return executor.Float32(executor.PastName(slot, c.cfg.EncoderDecoder), shape, data)
}

// Update ingests the present.* outputs of a forward pass that fed newTokens
// token positions. Every self-attention layer must grow by exactly newTokens,
// uniformly. Cross-attention outputs are written on first sight and ignored
// afterwards, keeping those entries fixed for the life of the call.
func (c *Cache) Update(outputs []executor.NamedTensor, newTokens int) error {
	if c.closed {
		return ErrClosed
	}
	if newTokens <= 0 {
		return fmt.Errorf("kvcache: update with %d new tokens", newTokens)
	}

	grown := make([]bool, 2*c.cfg.Layers)
	for _, t := range outputs {
		slot, ok := executor.ParsePresent(t.Name)
		if !ok {
			continue
		}
		if slot.Layer >= c.cfg.Layers {
			return fmt.Errorf("kvcache: output %q exceeds %d layers", t.Name, c.cfg.Layers)
		}
		data, err := t.Floats()
		if err != nil {
			return fmt.Errorf("kvcache: output %q: %w", t.Name, err)
		}
		if slot.Cross {
			if err := c.writeCross(slot, t, data); err != nil {
				return err
			}
			continue
		}
		if err := c.appendSelf(slot, t, data, newTokens); err != nil {
			return err
		}
		idx := 2 * slot.Layer
		if !slot.Key {
			idx++
		}
		grown[idx] = true
	}

	for i, ok := range grown {
		if !ok {
			slot := executor.KVSlot{Layer: i / 2, Key: i%2 == 0}
			return fmt.Errorf("kvcache: missing output %q", executor.PresentName(slot, c.cfg.EncoderDecoder))
		}
	}
	c.seqLen += newTokens
	return nil
}

// appendSelf concatenates the new positions of one present tensor onto the
// slot buffer. The tensor may carry either just the new positions or the
// full past+new sequence; only the tail is copied in the latter case.
func (c *Cache) appendSelf(slot executor.KVSlot, t executor.NamedTensor, data []float32, newTokens int) error {
	stride := c.rowStride()
	seq := t.Dim(2)
	switch seq {
	case newTokens, c.seqLen + newTokens:
	default:
		return fmt.Errorf("kvcache: output %q has seq %d, want %d or %d",
			t.Name, seq, newTokens, c.seqLen+newTokens)
	}
	if len(data) != seq*stride {
		return fmt.Errorf("kvcache: output %q has %d floats, shape implies %d",
			t.Name, len(data), seq*stride)
	}
	tail := data[(seq-newTokens)*stride:]

	buf := c.selfVals
	if slot.Key {
		buf = c.selfKeys
	}
	buf[slot.Layer] = append(buf[slot.Layer], tail...)
	return nil
}

func (c *Cache) writeCross(slot executor.KVSlot, t executor.NamedTensor, data []float32) error {
	if !c.cfg.EncoderDecoder {
		return fmt.Errorf("kvcache: unexpected cross-attention output %q", t.Name)
	}
	if c.crossSet {
		// Fixed after the first write; later decoder passes may still
		// emit the same tensors.
		return nil
	}
	seq := t.Dim(2)
	if len(data) != seq*c.rowStride() {
		return fmt.Errorf("kvcache: output %q has %d floats, shape implies %d",
			t.Name, len(data), seq*c.rowStride())
	}
	if c.crossLen == 0 {
		c.crossLen = seq
	} else if seq != c.crossLen {
		return fmt.Errorf("kvcache: output %q has seq %d, want %d", t.Name, seq, c.crossLen)
	}
	buf := c.crossVals
	if slot.Key {
		buf = c.crossKeys
	}
	buf[slot.Layer] = append([]float32(nil), data...)
	return nil
}

// SealCross marks the cross-attention entries complete after the encoder
// pass. Every layer must have received both its key and value tensor.
func (c *Cache) SealCross() error {
	if c.closed {
		return ErrClosed
	}
	if !c.cfg.EncoderDecoder {
		return errors.New("kvcache: cache has no cross-attention entries")
	}
	for l := 0; l < c.cfg.Layers; l++ {
		if c.crossKeys[l] == nil || c.crossVals[l] == nil {
			return fmt.Errorf("kvcache: layer %d cross entries incomplete", l)
		}
	}
	c.crossSet = true
	return nil
}

// Clear drops all accumulated state, returning the cache to its freshly
// constructed condition.
func (c *Cache) Clear() {
	if c.closed {
		return
	}
	c.seqLen = 0
	c.crossLen = 0
	c.crossSet = false
	for l := 0; l < c.cfg.Layers; l++ {
		c.selfKeys[l] = nil
		c.selfVals[l] = nil
		if c.cfg.EncoderDecoder {
			c.crossKeys[l] = nil
			c.crossVals[l] = nil
		}
	}
}

// Close releases the buffers. The cache is unusable afterwards.
func (c *Cache) Close() error {
	if c.closed {
		return nil
	}
	c.Clear()
	c.selfKeys, c.selfVals = nil, nil
	c.crossKeys, c.crossVals = nil, nil
	c.closed = true
	return nil
}
