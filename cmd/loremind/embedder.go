//go:build !onnx

package main

import (
	"github.com/loremind/loremind/vector"
	"github.com/loremind/loremind/vector/embedder/mock"
)

// newEmbedder returns the deterministic hash embedder. It has no real
// semantic similarity; build with -tags onnx for the local MiniLM model.
func newEmbedder() vector.Embedder {
	return mock.New()
}
