package geotiff

import "math"

// averageOverview reduces px by factor f. Each output pixel is the mean of
// the non-NaN base pixels in its f x f block, or NaN when the block is empty.
// Blocks on the right and bottom edges may be partial.
func averageOverview(px []float32, width, height, f int) ([]float32, int, int) {
	w, h := OverviewSize(width, height, f)
	out := make([]float32, w*h)
	for oy := 0; oy < h; oy++ {
		for ox := 0; ox < w; ox++ {
			var sum float64
			n := 0
			for y := oy * f; y < min((oy+1)*f, height); y++ {
				for x := ox * f; x < min((ox+1)*f, width); x++ {
					v := px[y*width+x]
					if v != v {
						continue
					}
					sum += float64(v)
					n++
				}
			}
			if n == 0 {
				out[oy*w+ox] = float32(math.NaN())
				continue
			}
			out[oy*w+ox] = float32(sum / float64(n))
		}
	}
	return out, w, h
}

// OverviewSize returns the dimensions of the overview at factor f.
func OverviewSize(width, height, f int) (int, int) {
	return (width + f - 1) / f, (height + f - 1) / f
}
