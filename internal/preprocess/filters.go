package preprocess

import (
	"image"
	"image/color"
	"sort"

	"golang.org/x/image/draw"
)

// toGray converts img to an 8-bit luma image anchored at the origin.
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	if src, ok := img.(*image.Gray); ok {
		for y := 0; y < b.Dy(); y++ {
			si := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out.Pix[y*out.Stride:y*out.Stride+b.Dx()], src.Pix[si:si+b.Dx()])
		}
		return out
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			out.Pix[y*out.Stride+x] = c.Y
		}
	}
	return out
}

// adjustContrast blends g against a flat image of its mean gray level.
// factor 1 is the identity, larger values push pixels away from the mean.
func adjustContrast(g *image.Gray, factor float64) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w*h == 0 {
		return g
	}
	var sum uint64
	for y := 0; y < h; y++ {
		for _, v := range g.Pix[y*g.Stride : y*g.Stride+w] {
			sum += uint64(v)
		}
	}
	mean := float64(int(float64(sum)/float64(w*h) + 0.5))

	var lut [256]uint8
	for i := range lut {
		lut[i] = clamp8(mean + factor*(float64(i)-mean))
	}
	out := image.NewGray(g.Rect)
	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		dst := out.Pix[y*out.Stride : y*out.Stride+w]
		for x, v := range row {
			dst[x] = lut[v]
		}
	}
	return out
}

// sharpen applies the 3x3 kernel [-2 -2 -2; -2 32 -2; -2 -2 -2] / 16.
// Border pixels are copied unchanged.
func sharpen(g *image.Gray) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := image.NewGray(g.Rect)
	copy(out.Pix, g.Pix)
	if w < 3 || h < 3 {
		return out
	}
	px := func(x, y int) int { return int(g.Pix[y*g.Stride+x]) }
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			ring := px(x-1, y-1) + px(x, y-1) + px(x+1, y-1) +
				px(x-1, y) + px(x+1, y) +
				px(x-1, y+1) + px(x, y+1) + px(x+1, y+1)
			v := float64(32*px(x, y)-2*ring) / 16
			out.Pix[y*out.Stride+x] = clamp8(v + 0.5)
		}
	}
	return out
}

// resizeWidth scales g to width w keeping the aspect ratio. The height is
// truncated, so extremely wide inputs can collapse to zero rows.
func resizeWidth(g *image.Gray, w int) *image.Gray {
	sw, sh := g.Rect.Dx(), g.Rect.Dy()
	if sw == 0 {
		return image.NewGray(image.Rectangle{})
	}
	h := int(float64(sh) * (float64(w) / float64(sw)))
	out := image.NewGray(image.Rect(0, 0, w, h))
	if h == 0 {
		return out
	}
	draw.CatmullRom.Scale(out, out.Bounds(), g, g.Bounds(), draw.Src, nil)
	return out
}

// threshold maps pixels above t to white and everything else to black.
func threshold(g *image.Gray, t uint8) *image.Gray {
	out := image.NewGray(g.Rect)
	w, h := g.Rect.Dx(), g.Rect.Dy()
	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		dst := out.Pix[y*out.Stride : y*out.Stride+w]
		for x, v := range row {
			if v > t {
				dst[x] = 255
			}
		}
	}
	return out
}

// otsuThreshold picks the gray level that maximizes between-class variance.
func otsuThreshold(g *image.Gray) uint8 {
	var hist [256]int
	w, h := g.Rect.Dx(), g.Rect.Dy()
	for y := 0; y < h; y++ {
		for _, v := range g.Pix[y*g.Stride : y*g.Stride+w] {
			hist[v]++
		}
	}
	total := float64(w * h)
	if total == 0 {
		return 0
	}
	var sum float64
	for i, n := range hist {
		sum += float64(i * n)
	}

	var (
		sumB, wB float64
		best     uint8
		maxVar   float64
	)
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > maxVar {
			maxVar = between
			best = uint8(t)
		}
	}
	return best
}

// medianBlur replaces each pixel by the median of its k×k neighborhood,
// replicating edge pixels outside the image.
func medianBlur(g *image.Gray, k int) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := image.NewGray(g.Rect)
	if k <= 1 {
		copy(out.Pix, g.Pix)
		return out
	}
	r := k / 2
	window := make([]int, 0, k*k)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			window = window[:0]
			for dy := -r; dy <= r; dy++ {
				yy := clampInt(y+dy, 0, h-1)
				for dx := -r; dx <= r; dx++ {
					xx := clampInt(x+dx, 0, w-1)
					window = append(window, int(g.Pix[yy*g.Stride+xx]))
				}
			}
			sort.Ints(window)
			out.Pix[y*out.Stride+x] = uint8(window[len(window)/2])
		}
	}
	return out
}

// open performs erosion followed by dilation with a k×k square element.
func open(g *image.Gray, k int) *image.Gray {
	if k <= 1 {
		out := image.NewGray(g.Rect)
		copy(out.Pix, g.Pix)
		return out
	}
	return morph(morph(g, k, true), k, false)
}

func morph(g *image.Gray, k int, erode bool) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := image.NewGray(g.Rect)
	lo := -(k - 1) / 2
	hi := k / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			acc := 0
			if erode {
				acc = 255
			}
			for dy := lo; dy <= hi; dy++ {
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				for dx := lo; dx <= hi; dx++ {
					xx := x + dx
					if xx < 0 || xx >= w {
						continue
					}
					v := int(g.Pix[yy*g.Stride+xx])
					if erode && v < acc || !erode && v > acc {
						acc = v
					}
				}
			}
			out.Pix[y*out.Stride+x] = uint8(acc)
		}
	}
	return out
}

func clamp8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
