package schema

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatch_NoOpForEmptyDirPath(t *testing.T) {
	if err := Watch(context.Background(), "", slog.New(slog.NewTextHandler(os.Stderr, nil)), func(*Registry) {
		t.Fatal("onReload should never be called for an empty dirPath")
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}
}

func TestWatch_NoOpForBundledDirPath(t *testing.T) {
	if err := Watch(context.Background(), "<bundled>", slog.New(slog.NewTextHandler(os.Stderr, nil)), func(*Registry) {
		t.Fatal("onReload should never be called for the bundled tree")
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}
}

func TestWatch_NoOpForNonexistentDir(t *testing.T) {
	if err := Watch(context.Background(), filepath.Join(t.TempDir(), "missing"), slog.New(slog.NewTextHandler(os.Stderr, nil)), func(*Registry) {
		t.Fatal("onReload should never be called for a directory that doesn't exist")
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}
}

func copyBundledSchemasTo(t *testing.T, dir string) {
	t.Helper()
	sub, err := fs.Sub(bundled, bundledRoot)
	if err != nil {
		t.Fatalf("fs.Sub: %v", err)
	}
	err = fs.WalkDir(sub, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		dest := filepath.Join(dir, path)
		if d.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}
		data, err := fs.ReadFile(sub, path)
		if err != nil {
			return err
		}
		return os.WriteFile(dest, data, 0o644)
	})
	if err != nil {
		t.Fatalf("copy bundled schemas: %v", err)
	}
}

func TestWatch_ReloadsOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	copyBundledSchemasTo(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Registry, 1)
	if err := Watch(ctx, dir, slog.New(slog.NewTextHandler(os.Stderr, nil)), func(reg *Registry) {
		reloaded <- reg
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// Touch the envelope schema to trigger a write event.
	data, err := os.ReadFile(filepath.Join(dir, "envelope.schema.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "envelope.schema.json"), data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case reg := <-reloaded:
		if reg == nil {
			t.Fatal("expected a non-nil reloaded registry")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for schema hot-reload")
	}
}
