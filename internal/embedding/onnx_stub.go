//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"fmt"
)

// ONNXEncoder stub type when built without CGO (see onnx.go for real implementation).
type ONNXEncoder struct{}

// NewONNXEncoder returns an error when built without CGO (ONNX not available).
func NewONNXEncoder(_, _ string, _, _, _ int) (*ONNXEncoder, error) {
	return nil, errONNXUnavailable()
}

func errONNXUnavailable() error {
	return fmt.Errorf("%w: ONNX encoder requires CGO; build with CGO_ENABLED=1 and onnxruntime", ErrEncoderUnavailable)
}

// Encode always fails on non-CGO builds.
func (e *ONNXEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	return nil, errONNXUnavailable()
}

// EncodeBatch always fails on non-CGO builds.
func (e *ONNXEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errONNXUnavailable()
}

// Dimensions returns 0 on non-CGO builds.
func (e *ONNXEncoder) Dimensions() int { return 0 }

// ModelName returns an empty identifier on non-CGO builds.
func (e *ONNXEncoder) ModelName() string { return "" }

// Close is a no-op.
func (e *ONNXEncoder) Close() error { return nil }
