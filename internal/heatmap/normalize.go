// Package heatmap turns raw key counts into colored heatmap records and
// fans them out to live subscribers.
package heatmap

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Normalizer maps a raw count to a ratio in [0, 1].
type Normalizer func(count int) float64

// Normalizer names accepted by NewNormalizer.
const (
	NormalizerLog        = "log"
	NormalizerPercentile = "percentile"
)

// DefaultPercentile is used by the percentile normalizer when none is configured.
const DefaultPercentile = 0.95

// NewNormalizer builds the named normalizer over the given counts.
// An empty name selects the log normalizer.
func NewNormalizer(name string, counts []int, percentile float64) (Normalizer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NormalizerLog:
		return LogNormalizer(counts), nil
	case NormalizerPercentile:
		if percentile <= 0 || percentile > 1 {
			percentile = DefaultPercentile
		}
		return PercentileClip(counts, percentile), nil
	default:
		return nil, fmt.Errorf("unknown normalizer: %s", name)
	}
}

// LogNormalizer scales counts logarithmically against the largest count, so
// that a handful of very hot keys do not wash out everything else.
func LogNormalizer(counts []int) Normalizer {
	max := 0
	for _, v := range counts {
		if v > max {
			max = v
		}
	}
	if max <= 0 {
		return func(int) float64 { return 0 }
	}
	logMax := math.Log(float64(max) + 1)
	return func(v int) float64 {
		if v < 0 {
			v = 0
		}
		r := math.Log(float64(v)+1) / logMax
		if r > 1 {
			return 1
		}
		return r
	}
}

// PercentileClip scales counts linearly against the value at the given
// percentile; everything above it saturates at 1.
func PercentileClip(counts []int, percentile float64) Normalizer {
	if len(counts) == 0 {
		return func(int) float64 { return 0 }
	}
	sorted := append([]int{}, counts...)
	sort.Ints(sorted)
	index := int(float64(len(sorted)) * percentile)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	if index < 0 {
		index = 0
	}
	max := sorted[index]
	if max <= 0 {
		return func(int) float64 { return 0 }
	}
	return func(v int) float64 {
		r := float64(v) / float64(max)
		if r > 1 {
			return 1
		}
		if r < 0 {
			return 0
		}
		return r
	}
}
