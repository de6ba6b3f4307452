package sitemap

import (
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
)

// clusterCount implements the k = max(3, round(sqrt(n/10))).
func clusterCount(nodeCount int) int {
	k := int(math.Round(math.Sqrt(float64(nodeCount) / 10.0)))
	if k < 3 {
		k = 3
	}
	return k
}

// runKMeans clusters the feature matrix deterministically: centroid 0 is
// the feature-norm-weighted median node, subsequent centroids follow
// k-means++ seeded by a PRNG derived from domain, so identical inputs
// always produce identical output. Degenerate sites
// (node_count <= k*2) collapse to a single cluster.
func runKMeans(features [][FeatureDim]float32, norms []float32, dominant []PageType, domain string) (assignments []uint32, clusters []Cluster) {
	n := len(features)
	if n == 0 {
		return nil, nil
	}

	k := clusterCount(n)
	if n <= k*2 {
		k = 1
	}

	centroids := seedCentroids(features, norms, k, domain)
	assignments = make([]uint32, n)

	const maxIterations = 25
	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, row := range features {
			best, bestDist := 0, math.MaxFloat64
			for c, centroid := range centroids {
				d := sqDist(row, centroid)
				if d < bestDist {
					bestDist = d
					best = c
				}
			}
			if assignments[i] != uint32(best) {
				assignments[i] = uint32(best)
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}
		centroids = recomputeCentroids(features, assignments, k, centroids)
	}

	clusters = make([]Cluster, k)
	counts := make([]map[PageType]int, k)
	for c := range clusters {
		clusters[c].Centroid = centroids[c]
		counts[c] = make(map[PageType]int)
	}
	for i, a := range assignments {
		counts[a][dominant[i]]++
	}
	for c := range clusters {
		clusters[c].DominantType = mostCommon(counts[c])
	}
	return assignments, clusters
}

func mostCommon(counts map[PageType]int) PageType {
	best, bestCount := PageUnknown, -1
	for pt, c := range counts {
		if c > bestCount || (c == bestCount && pt < best) {
			best, bestCount = pt, c
		}
	}
	return best
}

func sqDist(a, b [FeatureDim]float32) float64 {
	var sum float64
	for d := 0; d < FeatureDim; d++ {
		diff := float64(a[d]) - float64(b[d])
		sum += diff * diff
	}
	return sum
}

func recomputeCentroids(features [][FeatureDim]float32, assignments []uint32, k int, previous [][FeatureDim]float32) [][FeatureDim]float32 {
	sums := make([][FeatureDim]float64, k)
	counts := make([]int, k)
	for i, row := range features {
		c := assignments[i]
		counts[c]++
		for d := 0; d < FeatureDim; d++ {
			sums[c][d] += float64(row[d])
		}
	}
	out := make([][FeatureDim]float32, k)
	for c := 0; c < k; c++ {
		if counts[c] == 0 {
			out[c] = previous[c] // empty cluster keeps its old centroid
			continue
		}
		for d := 0; d < FeatureDim; d++ {
			out[c][d] = float32(sums[c][d] / float64(counts[c]))
		}
	}
	return out
}

// seedCentroids picks centroid 0 as the feature-norm-weighted median node,
// then extends with k-means++ using a PRNG seeded from the domain name so
// the same domain always yields the same clustering.
func seedCentroids(features [][FeatureDim]float32, norms []float32, k int, domain string) [][FeatureDim]float32 {
	n := len(features)
	rng := rand.New(rand.NewSource(domainSeed(domain)))

	centroids := make([][FeatureDim]float32, 0, k)
	centroids = append(centroids, features[weightedMedianIndex(norms)])

	for len(centroids) < k && len(centroids) < n {
		distances := make([]float64, n)
		var total float64
		for i, row := range features {
			best := math.MaxFloat64
			for _, c := range centroids {
				if d := sqDist(row, c); d < best {
					best = d
				}
			}
			distances[i] = best
			total += best
		}
		if total == 0 {
			break
		}
		target := rng.Float64() * total
		var cum float64
		chosen := n - 1
		for i, d := range distances {
			cum += d
			if cum >= target {
				chosen = i
				break
			}
		}
		centroids = append(centroids, features[chosen])
	}

	for len(centroids) < k {
		centroids = append(centroids, features[0])
	}
	return centroids
}

// weightedMedianIndex returns the norm-weighted median node: nodes are
// ordered by norm and the first one at which the running sum of norms
// reaches half the total is chosen. If every norm is zero it falls back to
// the plain median index. Used as a deterministic, representative starting
// centroid.
func weightedMedianIndex(norms []float32) int {
	n := len(norms)
	order := make([]int, n)
	var total float64
	for i := range order {
		order[i] = i
		total += float64(norms[i])
	}
	sort.Slice(order, func(i, j int) bool { return norms[order[i]] < norms[order[j]] })
	if total == 0 {
		return order[n/2]
	}
	var cum float64
	for _, i := range order {
		cum += float64(norms[i])
		if cum >= total/2 {
			return i
		}
	}
	return order[n-1]
}

func domainSeed(domain string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(domain))
	return int64(h.Sum64())
}
