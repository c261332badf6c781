package topics

import (
	"github.com/altiplano/afin/internal/models"
	"github.com/altiplano/afin/pkg/utils"
)

// ClusterParams control the density clustering pass.
type ClusterParams struct {
	// MinClusterSize is the smallest cluster worth keeping; anything
	// smaller dissolves into noise.
	MinClusterSize int

	// MinSamples is the neighborhood size (point included) required for a
	// point to be a core point.
	MinSamples int

	// Epsilon is the cosine distance radius of a neighborhood. Lower is
	// stricter (more noise), higher merges more aggressively.
	Epsilon float64
}

func (p *ClusterParams) defaults() {
	if p.MinClusterSize <= 0 {
		p.MinClusterSize = 5
	}
	if p.MinSamples <= 0 {
		p.MinSamples = 3
	}
	if p.Epsilon <= 0 {
		p.Epsilon = 0.25
	}
}

// Result holds one clustering outcome.
type Result struct {
	// Labels is parallel to the input vectors: cluster ordinal per vector,
	// or models.NoiseCluster.
	Labels   []int
	Clusters int
	Noise    int
}

const unclassified = -2

// Cluster runs DBSCAN over the vectors using cosine distance. Vectors are
// assumed L2-normalized, so distance is one minus the inner product. The
// scan visits points in ordinal order, which makes the labeling
// deterministic: clusters are numbered 0..n-1 by their first member's
// ordinal. Clusters smaller than MinClusterSize dissolve into noise before
// numbering.
func Cluster(vectors [][]float32, params ClusterParams) *Result {
	params.defaults()

	labels := make([]int, len(vectors))
	for i := range labels {
		labels[i] = unclassified
	}

	next := 0
	for i := range vectors {
		if labels[i] != unclassified {
			continue
		}
		neighbors := neighborsOf(vectors, i, params.Epsilon)
		if len(neighbors) < params.MinSamples {
			labels[i] = models.NoiseCluster
			continue
		}

		labels[i] = next
		queue := append([]int(nil), neighbors...)
		for head := 0; head < len(queue); head++ {
			j := queue[head]
			if labels[j] == models.NoiseCluster {
				// Border point: reachable from a core point but not
				// core itself.
				labels[j] = next
			}
			if labels[j] != unclassified {
				continue
			}
			labels[j] = next
			reach := neighborsOf(vectors, j, params.Epsilon)
			if len(reach) >= params.MinSamples {
				queue = append(queue, reach...)
			}
		}
		next++
	}

	dissolveSmall(labels, params.MinClusterSize)
	clusters := renumber(labels)

	noise := 0
	for _, l := range labels {
		if l == models.NoiseCluster {
			noise++
		}
	}
	return &Result{Labels: labels, Clusters: clusters, Noise: noise}
}

// neighborsOf returns the ordinals within eps of vectors[i], including i.
func neighborsOf(vectors [][]float32, i int, eps float64) []int {
	var out []int
	for j := range vectors {
		if cosineDistance(vectors[i], vectors[j]) <= eps {
			out = append(out, j)
		}
	}
	return out
}

func cosineDistance(a, b []float32) float64 {
	return 1 - float64(utils.InnerProduct(a, b))
}

// dissolveSmall turns every cluster below the size floor into noise.
func dissolveSmall(labels []int, minClusterSize int) {
	sizes := make(map[int]int)
	for _, l := range labels {
		if l >= 0 {
			sizes[l]++
		}
	}
	for i, l := range labels {
		if l >= 0 && sizes[l] < minClusterSize {
			labels[i] = models.NoiseCluster
		}
	}
}

// renumber closes the gaps dissolution left so cluster ordinals stay dense,
// ordered by first member. Returns the cluster count.
func renumber(labels []int) int {
	mapping := make(map[int]int)
	n := 0
	for _, l := range labels {
		if l < 0 {
			continue
		}
		if _, ok := mapping[l]; !ok {
			mapping[l] = n
			n++
		}
	}
	for i, l := range labels {
		if l >= 0 {
			labels[i] = mapping[l]
		}
	}
	return n
}
