package heatmap

import (
	"sort"

	"github.com/karastat/heatmap/internal/models"
)

// DefaultRegionSuffix marks the interior shape of a key in the diagram.
const DefaultRegionSuffix = "-inner"

// Builder converts key counts into heatmap records.
type Builder struct {
	Normalizer string
	Percentile float64
	Suffix     string
	Keymap     *models.Keymap
}

// NewBuilder creates a builder with the given normalizer and region suffix.
func NewBuilder(normalizer string, percentile float64, suffix string, keymap *models.Keymap) *Builder {
	if suffix == "" {
		suffix = DefaultRegionSuffix
	}
	if keymap != nil && keymap.Suffix != "" {
		suffix = keymap.Suffix
	}
	return &Builder{
		Normalizer: normalizer,
		Percentile: percentile,
		Suffix:     suffix,
		Keymap:     keymap,
	}
}

// RegionID returns the diagram id a key is published under.
func (b *Builder) RegionID(key string) string {
	prefix := key
	if b.Keymap != nil {
		if alias, ok := b.Keymap.Aliases[key]; ok && alias != "" {
			prefix = alias
		}
	}
	return prefix + b.Suffix
}

// Build normalizes the counts and returns one record per key, sorted by id.
// Ignored keys are dropped before normalization so they cannot skew the scale.
func (b *Builder) Build(data []models.KeyCount) ([]models.HeatmapRecord, error) {
	ignored := make(map[string]struct{})
	if b.Keymap != nil {
		for _, k := range b.Keymap.Ignore {
			ignored[k] = struct{}{}
		}
	}

	kept := make([]models.KeyCount, 0, len(data))
	counts := make([]int, 0, len(data))
	for _, d := range data {
		if _, skip := ignored[d.Key]; skip {
			continue
		}
		kept = append(kept, d)
		counts = append(counts, d.Count)
	}

	getRatio, err := NewNormalizer(b.Normalizer, counts, b.Percentile)
	if err != nil {
		return nil, err
	}

	results := make([]models.HeatmapRecord, 0, len(kept))
	for _, item := range kept {
		results = append(results, models.HeatmapRecord{
			ID:    b.RegionID(item.Key),
			Fill:  RainbowColor(getRatio(item.Count)),
			Count: models.CountOf(item.Count),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].ID < results[j].ID
	})
	return results, nil
}
