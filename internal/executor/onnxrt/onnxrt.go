// Package onnxrt adapts an ONNX Runtime session to the executor boundary.
// One Session wraps one exported graph (a causal decoder, or the encoder or
// decoder half of a seq2seq model).
package onnxrt

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/strand-ml/strand/internal/executor"
)

// Options configure session creation.
type Options struct {
	// LibraryPath points at the onnxruntime shared library. Empty uses
	// the platform default search.
	LibraryPath string

	// Threads caps intra-op parallelism. Zero leaves the runtime default.
	Threads int
}

var (
	initMu   sync.Mutex
	initDone bool
)

// ensureRuntime initializes the ONNX Runtime environment once per process.
func ensureRuntime(libraryPath string) error {
	initMu.Lock()
	defer initMu.Unlock()
	if initDone {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}
	initDone = true
	return nil
}

// Session is an executor.Executor over one ONNX graph.
type Session struct {
	sess        *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
	inputDims   map[string][]int64
}

// Open loads the graph at modelPath and introspects its declared inputs and
// outputs. Any failure is fatal for the caller.
func Open(modelPath string, opts Options) (*Session, error) {
	if err := ensureRuntime(opts.LibraryPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", modelPath, err)
	}
	s := &Session{inputDims: make(map[string][]int64, len(inputs))}
	for _, in := range inputs {
		s.inputNames = append(s.inputNames, in.Name)
		s.inputDims[in.Name] = append([]int64(nil), in.Dimensions...)
	}
	for _, out := range outputs {
		s.outputNames = append(s.outputNames, out.Name)
	}

	sessOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer sessOpts.Destroy()
	if opts.Threads > 0 {
		if err := sessOpts.SetIntraOpNumThreads(opts.Threads); err != nil {
			return nil, fmt.Errorf("set threads: %w", err)
		}
	}

	sess, err := ort.NewDynamicAdvancedSession(modelPath, s.inputNames, s.outputNames, sessOpts)
	if err != nil {
		return nil, fmt.Errorf("open session %s: %w", modelPath, err)
	}
	s.sess = sess
	return s, nil
}

// Inputs reports the graph's declared input names.
func (s *Session) Inputs() []string {
	return append([]string(nil), s.inputNames...)
}

// Forward runs one pass. Inputs the graph declares but the caller did not
// provide are fed as zero-length tensors, which covers cache inputs before
// the first write. The runtime call itself is not interruptible; the
// context is honoured at the call boundary.
func (s *Session) Forward(ctx context.Context, inputs []executor.NamedTensor) ([]executor.NamedTensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	values := make([]ort.Value, 0, len(s.inputNames))
	destroy := func() {
		for _, v := range values {
			if v != nil {
				v.Destroy()
			}
		}
	}
	defer destroy()

	for _, name := range s.inputNames {
		nt, ok := executor.ByName(inputs, name)
		var v ort.Value
		var err error
		if ok {
			v, err = makeTensor(nt)
		} else {
			v, err = makeEmptyTensor(name, s.inputDims[name])
		}
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}

	outputs := make([]ort.Value, len(s.outputNames))
	if err := s.sess.Run(values, outputs); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	result := make([]executor.NamedTensor, 0, len(outputs))
	for i, o := range outputs {
		nt, err := fromValue(s.outputNames[i], o)
		if err != nil {
			return nil, err
		}
		result = append(result, nt)
	}
	return result, nil
}

// Close releases the session.
func (s *Session) Close() error {
	if s.sess == nil {
		return nil
	}
	err := s.sess.Destroy()
	s.sess = nil
	return err
}

func makeTensor(nt executor.NamedTensor) (ort.Value, error) {
	shape := ort.NewShape(nt.Shape...)
	switch data := nt.Data.(type) {
	case []float32:
		if len(data) == 0 {
			return ort.NewEmptyTensor[float32](shape)
		}
		return ort.NewTensor(shape, data)
	case []int64:
		if len(data) == 0 {
			return ort.NewEmptyTensor[int64](shape)
		}
		return ort.NewTensor(shape, data)
	default:
		return nil, fmt.Errorf("tensor %q: unsupported data type %T", nt.Name, nt.Data)
	}
}

// makeEmptyTensor builds a zero-length stand-in for a declared input the
// loop has nothing for yet, collapsing every dynamic dimension except the
// batch to zero.
func makeEmptyTensor(name string, dims []int64) (ort.Value, error) {
	shape := make([]int64, len(dims))
	for i, d := range dims {
		switch {
		case d >= 0:
			shape[i] = d
		case i == 0:
			shape[i] = 1
		default:
			shape[i] = 0
		}
	}
	if len(shape) == 0 {
		shape = []int64{0}
	}
	return ort.NewEmptyTensor[float32](ort.NewShape(shape...))
}

func fromValue(name string, v ort.Value) (executor.NamedTensor, error) {
	switch t := v.(type) {
	case *ort.Tensor[float32]:
		data := make([]float32, len(t.GetData()))
		copy(data, t.GetData())
		return executor.Float32(name, t.GetShape(), data), nil
	case *ort.Tensor[int64]:
		data := make([]int64, len(t.GetData()))
		copy(data, t.GetData())
		return executor.Int64(name, t.GetShape(), data), nil
	case *ort.Tensor[uint16]:
		// Exported graphs occasionally emit half precision; widen it.
		return executor.FromFloat16(name, t.GetShape(), t.GetData()), nil
	default:
		return executor.NamedTensor{}, fmt.Errorf("output %q: unsupported tensor type %T", name, v)
	}
}
