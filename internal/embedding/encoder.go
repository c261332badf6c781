// Package embedding provides text encoders: a remote HTTP encoder service
// client, an in-process ONNX encoder (cgo builds), and a deterministic mock.
// All encoders return unit-normalized vectors so inner product equals cosine
// similarity downstream.
package embedding

import (
	"context"
	"errors"
)

// ErrEncoderUnavailable is returned when the encoder backend cannot be
// reached or refuses the request. Batch jobs abort without partial artifact
// writes; the server reports it as a dependency failure.
var ErrEncoderUnavailable = errors.New("encoder unavailable")

// Encoder produces vector embeddings for text.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
	Close() error
}
