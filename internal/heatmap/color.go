package heatmap

import "fmt"

// RainbowColor maps a ratio in [0, 1] to an HSL color running from purple
// (hue 270, coldest) through blue, cyan, green and yellow to red (hue 0).
//
// The log normalizer gives every pressed key a ratio above 0, so hue 270
// only shows up for keys that were never pressed.
func RainbowColor(ratio float64) string {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	h := int(270 * (1 - ratio))
	return fmt.Sprintf("hsl(%d, 100%%, 50%%)", h)
}
