package api

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeModelDir(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tokenizer.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestProviderLoadsOnce(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := writeModelDir(t, root, "tiny")

	loads := 0
	p := NewCachedProvider(ProviderConfig{
		DefaultModelDir: dir,
		Loader: func(d string) (Engine, error) {
			loads++
			return &stubEngine{text: "ok"}, nil
		},
	})

	for range 3 {
		err := p.WithEngine(context.Background(), "", func(engine Engine) error {
			if engine == nil {
				t.Fatal("nil engine")
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if loads != 1 {
		t.Fatalf("loader called %d times", loads)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProviderResolvesNames(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeModelDir(t, root, "alpha")
	writeModelDir(t, root, "beta")

	var loaded string
	p := NewCachedProvider(ProviderConfig{
		ModelsDir: root,
		Loader: func(d string) (Engine, error) {
			loaded = d
			return &stubEngine{text: "ok"}, nil
		},
	})

	if err := p.WithEngine(context.Background(), "beta", func(Engine) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if loaded != filepath.Join(root, "beta") {
		t.Fatalf("loaded %q", loaded)
	}

	err := p.WithEngine(context.Background(), "gamma", func(Engine) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	// Two models and no name to pick between them.
	err = p.WithEngine(context.Background(), "", func(Engine) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ambiguity error, got %v", err)
	}

	models, err := p.ListModels()
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 || models[0] != "alpha" || models[1] != "beta" {
		t.Fatalf("models = %v", models)
	}
}

func TestProviderSingleModelDefault(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeModelDir(t, root, "only")

	var loaded string
	p := NewCachedProvider(ProviderConfig{
		ModelsDir: root,
		Loader: func(d string) (Engine, error) {
			loaded = d
			return &stubEngine{text: "ok"}, nil
		},
	})
	if err := p.WithEngine(context.Background(), "", func(Engine) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if loaded != filepath.Join(root, "only") {
		t.Fatalf("loaded %q", loaded)
	}
}
