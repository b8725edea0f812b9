// Package scoring turns a finding set into 0-100 health scores. The
// formula is deliberately simple and fully deterministic: the same
// graph and findings always produce the same scores.
package scoring

import (
	"math"

	"github.com/reposage/reposage/internal/detect"
	"github.com/reposage/reposage/internal/querycache"
)

// Severity penalty weights.
var penaltyWeights = map[string]float64{
	detect.SeverityCritical: 10,
	detect.SeverityHigh:     5,
	detect.SeverityMedium:   2,
	detect.SeverityLow:      1,
	detect.SeverityInfo:     0.5,
}

// Category weights in the overall health score.
var categoryWeights = map[string]float64{
	"structure":    0.3,
	"quality":      0.4,
	"architecture": 0.3,
}

// densityFactor converts penalty-per-entity into score points.
const densityFactor = 25

// Scores is the result of scoring one run.
type Scores struct {
	Health       float64 `json:"health"`
	Structure    float64 `json:"structure"`
	Quality      float64 `json:"quality"`
	Architecture float64 `json:"architecture"`
}

// Compute scores the finding set against the size of the repository.
// An empty repository scores a perfect 100 across the board: no code
// means no findings and nothing to penalize.
func Compute(cache *querycache.Cache, findings []detect.Finding) Scores {
	entities := len(cache.Functions) + len(cache.Classes) + len(cache.Files)
	if entities == 0 {
		return Scores{Health: 100, Structure: 100, Quality: 100, Architecture: 100}
	}

	penalties := make(map[string]float64, len(categoryWeights))
	for _, f := range findings {
		w, ok := penaltyWeights[f.Severity]
		if !ok {
			w = penaltyWeights[detect.SeverityLow]
		}
		penalties[f.Category] += w
	}

	score := func(category string) float64 {
		density := penalties[category] / float64(entities)
		s := 100 - densityFactor*density
		if s < 0 {
			return 0
		}
		return round1(s)
	}

	out := Scores{
		Structure:    score("structure"),
		Quality:      score("quality"),
		Architecture: score("architecture"),
	}

	health := 0.0
	for category, weight := range categoryWeights {
		switch category {
		case "structure":
			health += weight * out.Structure
		case "quality":
			health += weight * out.Quality
		case "architecture":
			health += weight * out.Architecture
		}
	}
	out.Health = round1(health)
	return out
}

// Delta returns current minus previous health, rounded. Positive means
// the repository got healthier.
func Delta(current, previous float64) float64 {
	return round1(current - previous)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
