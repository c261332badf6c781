package topics

import (
	"testing"

	"github.com/altiplano/afin/internal/models"
	"github.com/altiplano/afin/pkg/utils"
)

// axisVector is a unit vector along one axis; two different axes sit at
// cosine distance 1, far outside any epsilon used here.
func axisVector(dims, axis int) []float32 {
	v := make([]float32, dims)
	v[axis] = 1
	return v
}

// tiltedVector leans off the first axis by tilt; small tilts stay within a
// tight cosine neighborhood of each other.
func tiltedVector(dims int, tilt float64) []float32 {
	v := make([]float32, dims)
	v[0] = 1
	v[1] = float32(tilt)
	utils.NormalizeL2(v)
	return v
}

func TestCluster_TightCoreWithScatter(t *testing.T) {
	vectors := make([][]float32, 0, 10)
	for i := 0; i < 6; i++ {
		vectors = append(vectors, tiltedVector(8, 0.05*float64(i)))
	}
	for i := 0; i < 4; i++ {
		vectors = append(vectors, axisVector(8, 2+i))
	}

	result := Cluster(vectors, ClusterParams{MinClusterSize: 5, MinSamples: 3, Epsilon: 0.25})

	if result.Clusters != 1 {
		t.Errorf("clusters = %d, want 1", result.Clusters)
	}
	if result.Noise != 4 {
		t.Errorf("noise = %d, want 4", result.Noise)
	}
	for i := 0; i < 6; i++ {
		if result.Labels[i] != 0 {
			t.Errorf("tight vector %d labeled %d, want 0", i, result.Labels[i])
		}
	}
	for i := 6; i < 10; i++ {
		if result.Labels[i] != models.NoiseCluster {
			t.Errorf("scattered vector %d labeled %d, want noise", i, result.Labels[i])
		}
	}
}

func TestCluster_DissolvesSmallClusters(t *testing.T) {
	// Three points form a dense region, but below the size floor the whole
	// region dissolves into noise.
	vectors := [][]float32{
		tiltedVector(4, 0),
		tiltedVector(4, 0.02),
		tiltedVector(4, 0.04),
	}

	result := Cluster(vectors, ClusterParams{MinClusterSize: 5, MinSamples: 2, Epsilon: 0.25})

	if result.Clusters != 0 || result.Noise != 3 {
		t.Errorf("got %d clusters, %d noise, want 0 and 3", result.Clusters, result.Noise)
	}
	for i, l := range result.Labels {
		if l != models.NoiseCluster {
			t.Errorf("vector %d labeled %d, want noise", i, l)
		}
	}
}

func TestCluster_NumbersByFirstMember(t *testing.T) {
	// Two well-separated groups; cluster ordinals follow scan order.
	vectors := [][]float32{
		axisVector(8, 0), axisVector(8, 0), axisVector(8, 0),
		axisVector(8, 4), axisVector(8, 4), axisVector(8, 4),
	}

	result := Cluster(vectors, ClusterParams{MinClusterSize: 2, MinSamples: 2, Epsilon: 0.1})

	if result.Clusters != 2 {
		t.Fatalf("clusters = %d, want 2", result.Clusters)
	}
	want := []int{0, 0, 0, 1, 1, 1}
	for i, l := range result.Labels {
		if l != want[i] {
			t.Errorf("labels = %v, want %v", result.Labels, want)
			break
		}
	}
}

func TestCluster_RenumbersAfterDissolution(t *testing.T) {
	// The first group is too small to survive; the second takes ordinal 0.
	vectors := [][]float32{
		axisVector(8, 0), axisVector(8, 0),
		axisVector(8, 4), axisVector(8, 4), axisVector(8, 4),
	}

	result := Cluster(vectors, ClusterParams{MinClusterSize: 3, MinSamples: 2, Epsilon: 0.1})

	if result.Clusters != 1 {
		t.Fatalf("clusters = %d, want 1", result.Clusters)
	}
	want := []int{models.NoiseCluster, models.NoiseCluster, 0, 0, 0}
	for i, l := range result.Labels {
		if l != want[i] {
			t.Errorf("labels = %v, want %v", result.Labels, want)
			break
		}
	}
}

func TestCluster_Deterministic(t *testing.T) {
	vectors := make([][]float32, 0, 12)
	for i := 0; i < 6; i++ {
		vectors = append(vectors, tiltedVector(8, 0.04*float64(i)))
	}
	for i := 0; i < 6; i++ {
		vectors = append(vectors, axisVector(8, i%4+2))
	}

	params := ClusterParams{MinClusterSize: 3, MinSamples: 2, Epsilon: 0.25}
	first := Cluster(vectors, params)
	second := Cluster(vectors, params)

	if len(first.Labels) != len(second.Labels) {
		t.Fatalf("label lengths diverge: %d vs %d", len(first.Labels), len(second.Labels))
	}
	for i := range first.Labels {
		if first.Labels[i] != second.Labels[i] {
			t.Fatalf("labels diverge at %d: %v vs %v", i, first.Labels, second.Labels)
		}
	}
}

func TestCluster_Empty(t *testing.T) {
	result := Cluster(nil, ClusterParams{})
	if result.Clusters != 0 || result.Noise != 0 || len(result.Labels) != 0 {
		t.Errorf("empty input: %+v", result)
	}
}
