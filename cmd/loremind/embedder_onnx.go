//go:build onnx

package main

import (
	"log"
	"os"

	"github.com/loremind/loremind/vector"
	"github.com/loremind/loremind/vector/embedder/onnx"
)

// newEmbedder returns the local all-MiniLM-L6-v2 embedder. Requires the
// onnxruntime shared library plus model files on disk.
func newEmbedder() vector.Embedder {
	embedder, err := onnx.New(onnx.Config{
		ModelPath:     envString("ONNX_MODEL_PATH", "models/all-MiniLM-L6-v2/model.onnx"),
		TokenizerPath: envString("ONNX_TOKENIZER_PATH", "models/all-MiniLM-L6-v2/tokenizer.json"),
		LibraryPath:   os.Getenv("ONNXRUNTIME_LIB"),
	})
	if err != nil {
		log.Fatalf("Load ONNX embedder: %v", err)
	}
	return embedder
}
