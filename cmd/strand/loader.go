package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/strand-ml/strand/internal/api"
	"github.com/strand-ml/strand/internal/executor/onnxrt"
	"github.com/strand-ml/strand/internal/generate"
	"github.com/strand-ml/strand/internal/logger"
	"github.com/strand-ml/strand/internal/model"
	"github.com/strand-ml/strand/internal/tokenizer"
)

// loadEngine opens a model directory: descriptor and tokenizer from the
// JSON sidecars, graphs from the ONNX exports. Encoder-decoder models
// carry two graphs, causal models one.
func loadEngine(dir string, log logger.Logger) (api.Engine, error) {
	desc, err := model.Load(dir)
	if err != nil {
		return nil, err
	}
	tok, err := tokenizer.Load(dir)
	if err != nil {
		return nil, err
	}

	opts := onnxrt.Options{
		LibraryPath: onnxLib,
		Threads:     int(threads),
	}

	if desc.EncoderDecoder {
		encPath, err := findGraph(dir, "encoder_model.onnx")
		if err != nil {
			return nil, err
		}
		decPath, err := findGraph(dir, "decoder_model_merged.onnx", "decoder_model.onnx")
		if err != nil {
			return nil, err
		}
		enc, err := onnxrt.Open(encPath, opts)
		if err != nil {
			return nil, err
		}
		dec, err := onnxrt.Open(decPath, opts)
		if err != nil {
			_ = enc.Close()
			return nil, err
		}
		s2s, err := generate.NewSeq2Seq(enc, dec, tok, desc, log)
		if err != nil {
			_ = enc.Close()
			_ = dec.Close()
			return nil, err
		}
		return s2s, nil
	}

	path, err := findGraph(dir, "model.onnx", "decoder_model_merged.onnx", "decoder_model.onnx")
	if err != nil {
		return nil, err
	}
	sess, err := onnxrt.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return generate.NewEngine(sess, tok, desc, log), nil
}

// findGraph looks for the first candidate in dir, then in dir/onnx where
// exporters commonly nest the graphs.
func findGraph(dir string, candidates ...string) (string, error) {
	for _, sub := range []string{"", "onnx"} {
		for _, name := range candidates {
			p := filepath.Join(dir, sub, name)
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("no ONNX graph in %s (looked for %v)", dir, candidates)
}
