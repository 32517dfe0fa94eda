package motion

import (
	"image"
	"math"
)

// plane is an 8-bit single channel image.
type plane struct {
	w, h int
	pix  []uint8
}

func newPlane(w, h int) *plane {
	return &plane{w: w, h: h, pix: make([]uint8, w*h)}
}

// grayscale converts to luma with the ITU-R BT.601 weights.
func grayscale(img *image.RGBA) *plane {
	b := img.Bounds()
	p := newPlane(b.Dx(), b.Dy())
	for y := 0; y < p.h; y++ {
		row := img.Pix[y*img.Stride:]
		out := p.pix[y*p.w : (y+1)*p.w]
		for x := range out {
			r, g, bl := int(row[x*4]), int(row[x*4+1]), int(row[x*4+2])
			out[x] = uint8((299*r + 587*g + 114*bl + 500) / 1000)
		}
	}
	return p
}

// gaussianKernel builds a normalized 1D kernel. Sigma follows the usual
// derivation from the kernel size when the caller does not fix one.
func gaussianKernel(size int) []float32 {
	if size < 1 {
		size = 1
	}
	if size%2 == 0 {
		size++
	}
	sigma := 0.3*(float64(size-1)*0.5-1) + 0.8
	half := size / 2
	k := make([]float32, size)
	var sum float64
	for i := range k {
		d := float64(i - half)
		v := math.Exp(-(d * d) / (2 * sigma * sigma))
		k[i] = float32(v)
		sum += v
	}
	for i := range k {
		k[i] = float32(float64(k[i]) / sum)
	}
	return k
}

// reflect101 maps an out of range index back into [0, n) mirroring around
// the edge pixel without repeating it.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

// gaussianBlur applies a separable Gaussian of the given kernel size.
func gaussianBlur(src *plane, size int) *plane {
	k := gaussianKernel(size)
	half := len(k) / 2
	if half == 0 {
		dst := newPlane(src.w, src.h)
		copy(dst.pix, src.pix)
		return dst
	}

	tmp := make([]float32, src.w*src.h)
	for y := 0; y < src.h; y++ {
		row := src.pix[y*src.w : (y+1)*src.w]
		for x := 0; x < src.w; x++ {
			var acc float32
			for i, kv := range k {
				acc += kv * float32(row[reflect101(x+i-half, src.w)])
			}
			tmp[y*src.w+x] = acc
		}
	}

	dst := newPlane(src.w, src.h)
	for y := 0; y < src.h; y++ {
		for x := 0; x < src.w; x++ {
			var acc float32
			for i, kv := range k {
				acc += kv * tmp[reflect101(y+i-half, src.h)*src.w+x]
			}
			dst.pix[y*src.w+x] = clamp8(acc + 0.5)
		}
	}
	return dst
}

func clamp8(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}

// absDiffThreshold computes |a-b| and binarizes it: strictly above t becomes 255.
func absDiffThreshold(a, b *plane, t int) *plane {
	dst := newPlane(a.w, a.h)
	for i := range a.pix {
		d := int(a.pix[i]) - int(b.pix[i])
		if d < 0 {
			d = -d
		}
		if d > t {
			dst.pix[i] = 255
		}
	}
	return dst
}

// dilate grows set pixels with a 3x3 structuring element.
func dilate(src *plane, iterations int) *plane {
	cur := src
	for n := 0; n < iterations; n++ {
		next := newPlane(cur.w, cur.h)
		for y := 0; y < cur.h; y++ {
			for x := 0; x < cur.w; x++ {
				if cur.pix[y*cur.w+x] == 0 {
					continue
				}
				for dy := -1; dy <= 1; dy++ {
					yy := y + dy
					if yy < 0 || yy >= cur.h {
						continue
					}
					for dx := -1; dx <= 1; dx++ {
						xx := x + dx
						if xx < 0 || xx >= cur.w {
							continue
						}
						next.pix[yy*cur.w+xx] = 255
					}
				}
			}
		}
		cur = next
	}
	return cur
}

// countRegions counts 8-connected foreground regions with at least minArea pixels.
func countRegions(p *plane, minArea int) int {
	visited := make([]bool, len(p.pix))
	stack := make([]int, 0, 1024)
	count := 0

	for start := range p.pix {
		if p.pix[start] == 0 || visited[start] {
			continue
		}
		area := 0
		visited[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			area++
			x, y := i%p.w, i/p.w
			for dy := -1; dy <= 1; dy++ {
				yy := y + dy
				if yy < 0 || yy >= p.h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					xx := x + dx
					if xx < 0 || xx >= p.w {
						continue
					}
					j := yy*p.w + xx
					if p.pix[j] != 0 && !visited[j] {
						visited[j] = true
						stack = append(stack, j)
					}
				}
			}
		}
		if area >= minArea {
			count++
		}
	}
	return count
}

// mean returns the rounded average intensity.
func mean(p *plane) int {
	if len(p.pix) == 0 {
		return 0
	}
	var sum uint64
	for _, v := range p.pix {
		sum += uint64(v)
	}
	return int((sum + uint64(len(p.pix))/2) / uint64(len(p.pix)))
}
