//go:build cgo

package embeddings

import (
	"context"
	"os"
	"testing"
)

func TestFastEmbedProvider(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping FastEmbed test in short mode")
	}
	if os.Getenv("ONNX_PATH") == "" {
		if _, err := os.Stat("/usr/lib/libonnxruntime.so"); os.IsNotExist(err) {
			t.Skip("ONNX runtime not available, skipping FastEmbed test")
		}
	}

	p, err := NewFastEmbedProvider(FastEmbedConfig{CacheDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewFastEmbedProvider() error = %v", err)
	}
	defer p.Close()

	if p.Dimension() != 384 {
		t.Errorf("Dimension() = %d, want 384", p.Dimension())
	}
	vectors, err := p.EmbedDocuments(context.Background(), []string{"fever", "cough"})
	if err != nil {
		t.Fatalf("EmbedDocuments() error = %v", err)
	}
	if len(vectors) != 2 || len(vectors[0]) != 384 {
		t.Errorf("unexpected shape: %d vectors", len(vectors))
	}
}

func TestNewFastEmbedProvider_UnknownModel(t *testing.T) {
	if _, err := NewFastEmbedProvider(FastEmbedConfig{Model: "nope"}); err == nil {
		t.Error("expected error for unknown model")
	}
}
