package topics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/altiplano/afin/internal/models"
	"github.com/altiplano/afin/internal/storage"
)

func TestResolver_SameTopic(t *testing.T) {
	engine, manager, store := setupTopics(t)
	ctx := context.Background()
	seedCorpus(t, store, manager)
	if _, err := engine.Run(ctx); err != nil {
		t.Fatal(err)
	}

	resolver := NewResolver(store, "mock")

	siblings, err := resolver.SameTopic(ctx, "t0", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(siblings) != 5 {
		t.Fatalf("got %d siblings, want 5", len(siblings))
	}
	for _, s := range siblings {
		if s.UUID == "t0" {
			t.Error("anchor document returned as its own sibling")
		}
		if s.ClusterID != 0 {
			t.Errorf("sibling %s in cluster %d, want 0", s.UUID, s.ClusterID)
		}
	}

	// Upserts ran in seed order, so recency order is reverse seed order.
	if siblings[0].UUID != "t5" {
		t.Errorf("first sibling = %s, want most recently updated t5", siblings[0].UUID)
	}

	limited, err := resolver.SameTopic(ctx, "t0", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limit 2 returned %d siblings", len(limited))
	}
}

func TestResolver_SameTopic_Noise(t *testing.T) {
	engine, manager, store := setupTopics(t)
	ctx := context.Background()
	seedCorpus(t, store, manager)
	if _, err := engine.Run(ctx); err != nil {
		t.Fatal(err)
	}

	resolver := NewResolver(store, "mock")
	for i := 0; i < 4; i++ {
		_, err := resolver.SameTopic(ctx, fmt.Sprintf("s%d", i), 10)
		if !errors.Is(err, ErrNoiseCluster) {
			t.Errorf("s%d: err = %v, want ErrNoiseCluster", i, err)
		}
	}
}

func TestResolver_SameTopic_NeverClustered(t *testing.T) {
	_, _, store := setupTopics(t)
	ctx := context.Background()
	if err := store.UpsertDocument(ctx, &models.Document{UUID: "lone", Title: "t"}); err != nil {
		t.Fatal(err)
	}

	resolver := NewResolver(store, "mock")
	_, err := resolver.SameTopic(ctx, "lone", 10)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
