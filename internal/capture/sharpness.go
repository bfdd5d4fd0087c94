package capture

import (
	"image"
	"math"
)

const (
	// sharpnessGrid bounds the number of sampled columns so large frames stay cheap.
	sharpnessGrid = 160
	// sharpnessKnee is the Laplacian variance that maps to a sharpness of 0.5.
	sharpnessKnee = 250.0
)

// Sharpness estimates focus as the variance of a 4-neighbour Laplacian over
// a sampled grayscale grid, squashed into [0,1]. Flat or blurred frames score
// near zero.
func Sharpness(img image.Image) float64 {
	b := img.Bounds()
	step := b.Dx() / sharpnessGrid
	if step < 1 {
		step = 1
	}
	if b.Dx() < 3*step || b.Dy() < 3*step {
		return 0
	}

	var sum, sumSq float64
	n := 0
	for y := b.Min.Y + step; y < b.Max.Y-step; y += step {
		for x := b.Min.X + step; x < b.Max.X-step; x += step {
			lap := gray(img, x-step, y) + gray(img, x+step, y) +
				gray(img, x, y-step) + gray(img, x, y+step) - 4*gray(img, x, y)
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance <= 0 || math.IsNaN(variance) {
		return 0
	}
	return variance / (variance + sharpnessKnee)
}

// gray returns the luma of a pixel in 0..255.
func gray(img image.Image, x, y int) float64 {
	r, g, b, _ := img.At(x, y).RGBA()
	return (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 256.0
}
