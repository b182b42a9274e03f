package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeModel(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func withTTY(t *testing.T, tty bool) {
	t.Helper()
	prev := stdinIsTTY
	stdinIsTTY = func() bool { return tty }
	t.Cleanup(func() { stdinIsTTY = prev })
}

func TestDiscoverModelsSorted(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, filepath.Join(dir, "b.onnx"))
	writeModel(t, filepath.Join(dir, "a.onnx"))
	writeModel(t, filepath.Join(dir, "c", "model.onnx"))
	writeModel(t, filepath.Join(dir, "d", "weights.bin"))
	writeModel(t, filepath.Join(dir, "ignore.txt"))

	got, err := discoverModels(dir)
	if err != nil {
		t.Fatalf("discoverModels returned error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.onnx"),
		filepath.Join(dir, "b.onnx"),
		filepath.Join(dir, "c"),
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected models: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected ordering at %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestResolveRunModelPath(t *testing.T) {
	t.Run("model flag bypasses env", func(t *testing.T) {
		t.Setenv(envModelsDir, "")
		got, err := resolveRunModelPath("/tmp/model.onnx", "", bytes.NewBuffer(nil), io.Discard)
		if err != nil {
			t.Fatalf("resolveRunModelPath returned error: %v", err)
		}
		if got != filepath.Clean("/tmp/model.onnx") {
			t.Fatalf("unexpected model path: got %q", got)
		}
	})

	t.Run("nothing configured selects the toy model", func(t *testing.T) {
		t.Setenv(envModelsDir, "")
		got, err := resolveRunModelPath("", "", bytes.NewBuffer(nil), io.Discard)
		if err != nil {
			t.Fatalf("resolveRunModelPath returned error: %v", err)
		}
		if got != "" {
			t.Fatalf("expected the toy model, got %q", got)
		}
	})

	t.Run("single model selects automatically", func(t *testing.T) {
		dir := t.TempDir()
		only := filepath.Join(dir, "only.onnx")
		writeModel(t, only)
		t.Setenv(envModelsDir, dir)
		withTTY(t, false)

		got, err := resolveRunModelPath("", "", bytes.NewBuffer(nil), io.Discard)
		if err != nil {
			t.Fatalf("resolveRunModelPath returned error: %v", err)
		}
		if got != only {
			t.Fatalf("unexpected model path: got %q want %q", got, only)
		}
	})

	t.Run("empty models dir is an error", func(t *testing.T) {
		t.Setenv(envModelsDir, "")
		if _, err := resolveRunModelPath("", t.TempDir(), bytes.NewBuffer(nil), io.Discard); err == nil {
			t.Fatal("expected error for a models dir without models")
		}
	})

	t.Run("multiple models requires tty", func(t *testing.T) {
		dir := t.TempDir()
		writeModel(t, filepath.Join(dir, "a.onnx"))
		writeModel(t, filepath.Join(dir, "b.onnx"))
		t.Setenv(envModelsDir, dir)
		withTTY(t, false)

		if _, err := resolveRunModelPath("", "", bytes.NewBuffer(nil), io.Discard); err == nil {
			t.Fatalf("expected error when multiple models and stdin is not a tty")
		}
	})

	t.Run("interactive selection chooses sorted index", func(t *testing.T) {
		dir := t.TempDir()
		b := filepath.Join(dir, "b.onnx")
		writeModel(t, b)
		writeModel(t, filepath.Join(dir, "a.onnx"))
		withTTY(t, true)

		got, err := resolveRunModelPath("", dir, bytes.NewBufferString("x\n2\n"), io.Discard)
		if err != nil {
			t.Fatalf("resolveRunModelPath returned error: %v", err)
		}
		if got != b {
			t.Fatalf("unexpected model selection: got %q want %q", got, b)
		}
	})
}
