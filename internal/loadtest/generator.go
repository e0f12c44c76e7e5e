package loadtest

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Sites are spread across Port Harcourt so clusters never overlap: the grid
// step is several times the duplicate radius.
const (
	originLat   = 4.75
	originLng   = 6.95
	siteStepDeg = 0.03
	sitesPerRow = 20
	// jitterMeters keeps follow-up reports well inside the duplicate radius.
	jitterMeters    = 60
	metersPerDegree = 111_195.0
)

var categories = []string{
	"Pothole", "Broken Streetlight", "Blocked Drainage", "Waste Dumping",
	"Flooding", "Fallen Tree", "Leaking Pipe", "Graffiti",
}

var subjects = map[string][]string{
	"Pothole":            {"Large pothole", "Deep pothole", "Dangerous pothole"},
	"Broken Streetlight": {"Streetlight out", "Street lamp not working", "Broken street light"},
	"Blocked Drainage":   {"Blocked drain", "Drainage blocked with refuse", "Gutter blocked"},
	"Waste Dumping":      {"Refuse dumped", "Illegal waste dump", "Rubbish heap"},
	"Flooding":           {"Road flooded", "Flooding after rain", "Water flooding road"},
	"Fallen Tree":        {"Fallen tree", "Tree down", "Tree fell"},
	"Leaking Pipe":       {"Burst water pipe", "Leaking pipe", "Water pipe leaking"},
	"Graffiti":           {"Graffiti on wall", "Wall defaced with graffiti", "Spray paint graffiti"},
}

var streets = []string{
	"Aggrey Road", "Ikwerre Road", "Olu Obasanjo Road", "Trans Amadi Road",
	"Rumuola Road", "Woji Road", "Elelenwo Street", "Ada George Road",
}

// Generate builds clusters*size reports. Reports of one cluster share the
// category and street and sit within jitterMeters of the site; the first of
// each cluster is its original.
func Generate(seed uint64, clusters, size int) []Report {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]Report, 0, clusters*size)
	for c := 0; c < clusters; c++ {
		cat := categories[rng.IntN(len(categories))]
		street := streets[rng.IntN(len(streets))]
		lat := originLat + float64(c/sitesPerRow)*siteStepDeg
		lng := originLng + float64(c%sitesPerRow)*siteStepDeg
		phrases := subjects[cat]
		for i := 0; i < size; i++ {
			dLat, dLng := jitter(rng, lat)
			out = append(out, Report{
				Category:    cat,
				Description: fmt.Sprintf("%s on %s", phrases[i%len(phrases)], street),
				Lat:         lat + dLat,
				Lng:         lng + dLng,
				Cluster:     c,
				Original:    i == 0,
			})
		}
	}
	return out
}

func jitter(rng *rand.Rand, lat float64) (float64, float64) {
	r := rng.Float64() * jitterMeters
	theta := rng.Float64() * 2 * math.Pi
	dLat := r * math.Cos(theta) / metersPerDegree
	dLng := r * math.Sin(theta) / (metersPerDegree * math.Cos(lat*math.Pi/180))
	return dLat, dLng
}

// byCluster groups reports, preserving order inside each cluster.
func byCluster(reports []Report) [][]Report {
	n := 0
	for _, r := range reports {
		n = max(n, r.Cluster+1)
	}
	out := make([][]Report, n)
	for _, r := range reports {
		out[r.Cluster] = append(out[r.Cluster], r)
	}
	return out
}
