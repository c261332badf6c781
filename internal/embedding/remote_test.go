package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newEmbedServer(t *testing.T, calls *int32, respond func(req embedRequest) [][]float32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(embedResponse{Embeddings: respond(req)})
	}))
}

func TestRemoteEncoder_EncodeBatch(t *testing.T) {
	var calls int32
	srv := newEmbedServer(t, &calls, func(req embedRequest) [][]float32 {
		if req.Model != "test-model" {
			t.Errorf("model = %s", req.Model)
		}
		out := make([][]float32, len(req.Input))
		for i := range req.Input {
			// Distinct non-normalized vectors; the client must normalize.
			out[i] = []float32{float32(i + 1), 0}
		}
		return out
	})
	defer srv.Close()

	enc := NewRemoteEncoder(WithBaseURL(srv.URL), WithModel("test-model"), WithDimensions(2))
	defer enc.Close()

	vecs, err := enc.EncodeBatch(context.Background(), []string{"one", "two", "three"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	for i, v := range vecs {
		var norm float64
		for _, x := range v {
			norm += float64(x * x)
		}
		if math.Abs(norm-1.0) > 1e-5 {
			t.Errorf("vector %d not unit length: %v", i, v)
		}
	}
	if enc.ModelName() != "test-model" {
		t.Errorf("ModelName = %s", enc.ModelName())
	}
}

func TestRemoteEncoder_CacheSkipsSecondRequest(t *testing.T) {
	var calls int32
	srv := newEmbedServer(t, &calls, func(req embedRequest) [][]float32 {
		out := make([][]float32, len(req.Input))
		for i := range req.Input {
			out[i] = []float32{1, 0}
		}
		return out
	})
	defer srv.Close()

	enc := NewRemoteEncoder(WithBaseURL(srv.URL), WithDimensions(2))
	defer enc.Close()

	if _, err := enc.Encode(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if _, err := enc.Encode(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("server called %d times, want 1", n)
	}
}

func TestRemoteEncoder_ConnectionRefused(t *testing.T) {
	enc := NewRemoteEncoder(WithBaseURL("http://127.0.0.1:1"), WithDimensions(2))
	defer enc.Close()
	_, err := enc.Encode(context.Background(), "hello")
	if !errors.Is(err, ErrEncoderUnavailable) {
		t.Errorf("err = %v, want ErrEncoderUnavailable", err)
	}
}

func TestRemoteEncoder_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	enc := NewRemoteEncoder(WithBaseURL(srv.URL), WithDimensions(2))
	defer enc.Close()
	_, err := enc.Encode(context.Background(), "hello")
	if !errors.Is(err, ErrEncoderUnavailable) {
		t.Errorf("err = %v, want ErrEncoderUnavailable", err)
	}
}

func TestRemoteEncoder_DimensionMismatch(t *testing.T) {
	var calls int32
	srv := newEmbedServer(t, &calls, func(req embedRequest) [][]float32 {
		out := make([][]float32, len(req.Input))
		for i := range req.Input {
			out[i] = []float32{1, 0, 0} // three dims, client expects two
		}
		return out
	})
	defer srv.Close()

	enc := NewRemoteEncoder(WithBaseURL(srv.URL), WithDimensions(2))
	defer enc.Close()
	if _, err := enc.Encode(context.Background(), "hello"); err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestMockEncoder_Deterministic(t *testing.T) {
	enc := NewMockEncoder(8)
	a, err := enc.Encode(context.Background(), "same text")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := enc.Encode(context.Background(), "same text")
	c, _ := enc.Encode(context.Background(), "other text")
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same text must encode identically")
		}
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts should not collide")
	}
	var norm float64
	for _, x := range a {
		norm += float64(x * x)
	}
	if math.Abs(norm-1.0) > 1e-5 {
		t.Errorf("mock vector not unit length: %f", norm)
	}
}
