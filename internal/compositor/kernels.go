package compositor

import (
	"image"
	"math"
)

const inv255 = 1.0 / 255

// tap is one axis of a bilinear sample: two source indices and weights.
type tap struct {
	i0, i1 int
	w0, w1 float32
}

// sampler maps destination pixels onto a source image with the same
// center-aligned bilinear taps as x/image/draw.BiLinear.
type sampler struct {
	img      *image.RGBA
	identity bool
	xs       []tap
	ys       []tap
}

func newSampler(img *image.RGBA, dw, dh int) sampler {
	s := sampler{img: img}
	sw, sh := img.Rect.Dx(), img.Rect.Dy()
	if sw == dw && sh == dh {
		s.identity = true
		return s
	}
	s.xs = taps(dw, sw)
	s.ys = taps(dh, sh)
	return s
}

func taps(dst, src int) []tap {
	scale := float64(src) / float64(dst)
	out := make([]tap, dst)
	for d := range out {
		pos := (float64(d)+0.5)*scale - 0.5
		i0 := int(pos)
		frac := pos - float64(i0)
		i1 := i0 + 1
		switch {
		case pos < 0:
			out[d] = tap{0, 0, 1, 0}
		case i1 > src-1:
			out[d] = tap{src - 1, src - 1, 1, 0}
		default:
			out[d] = tap{i0, i1, float32(1 - frac), float32(frac)}
		}
	}
	return out
}

func (s *sampler) texel(x, y int) (r, g, b, a float32) {
	i := s.img.PixOffset(s.img.Rect.Min.X+x, s.img.Rect.Min.Y+y)
	p := s.img.Pix[i : i+4 : i+4]
	return float32(p[0]) * inv255, float32(p[1]) * inv255, float32(p[2]) * inv255, float32(p[3]) * inv255
}

func (s *sampler) at(x, y int) (r, g, b, a float32) {
	if s.identity {
		return s.texel(x, y)
	}
	tx, ty := s.xs[x], s.ys[y]
	r00, g00, b00, a00 := s.texel(tx.i0, ty.i0)
	r10, g10, b10, a10 := s.texel(tx.i1, ty.i0)
	r01, g01, b01, a01 := s.texel(tx.i0, ty.i1)
	r11, g11, b11, a11 := s.texel(tx.i1, ty.i1)

	lerp := func(c00, c10, c01, c11 float32) float32 {
		top := tx.w0*c00 + tx.w1*c10
		bot := tx.w0*c01 + tx.w1*c11
		return ty.w0*top + ty.w1*bot
	}
	return lerp(r00, r10, r01, r11), lerp(g00, g10, g01, g11), lerp(b00, b10, b01, b11), lerp(a00, a10, a01, a11)
}

// blendKernel writes video with overlay source-over, premultiplied.
func blendKernel(t image.Rectangle, w int, dst []float32, video, overlay *sampler) {
	for y := t.Min.Y; y < t.Max.Y; y++ {
		for x := t.Min.X; x < t.Max.X; x++ {
			r, g, b, a := video.at(x, y)
			if overlay != nil {
				or, og, ob, oa := overlay.at(x, y)
				k := 1 - oa
				r, g, b, a = or+r*k, og+g*k, ob+b*k, oa+a*k
			}
			i := (y*w + x) * 4
			dst[i], dst[i+1], dst[i+2], dst[i+3] = r, g, b, a
		}
	}
}

// storeKernel quantizes to bytes with alpha forced opaque.
func storeKernel(t image.Rectangle, w int, src []float32, pix []byte) {
	for y := t.Min.Y; y < t.Max.Y; y++ {
		for x := t.Min.X; x < t.Max.X; x++ {
			i := (y*w + x) * 4
			pix[i] = toByte(src[i])
			pix[i+1] = toByte(src[i+1])
			pix[i+2] = toByte(src[i+2])
			pix[i+3] = 0xff
		}
	}
}

func toByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 0xff
	default:
		return uint8(v*255 + 0.5)
	}
}

// rowSample linearly samples channel ch of row y at fractional x, clamped.
func rowSample(buf []float32, w, y int, x float64, ch int) float32 {
	if x <= 0 {
		return buf[(y*w)*4+ch]
	}
	if x >= float64(w-1) {
		return buf[(y*w+w-1)*4+ch]
	}
	x0 := int(x)
	f := float32(x - float64(x0))
	return buf[(y*w+x0)*4+ch]*(1-f) + buf[(y*w+x0+1)*4+ch]*f
}

func chromaticKernel(t image.Rectangle, w int, in, out []float32, shift float64) {
	for y := t.Min.Y; y < t.Max.Y; y++ {
		for x := t.Min.X; x < t.Max.X; x++ {
			i := (y*w + x) * 4
			out[i] = rowSample(in, w, y, float64(x)+shift, 0)
			out[i+1] = in[i+1]
			out[i+2] = rowSample(in, w, y, float64(x)-shift, 2)
			out[i+3] = in[i+3]
		}
	}
}

func luma(r, g, b float32) float32 {
	return 0.2126*r + 0.7152*g + 0.0722*b
}

// brightScale returns the bright-pass gain for a pixel.
func brightScale(r, g, b float32, threshold float64) float32 {
	if threshold >= 1 {
		return 0
	}
	l := luma(r, g, b)
	th := float32(threshold)
	if l <= th {
		return 0
	}
	return (l - th) / (1 - th)
}

// brightBlurRowsKernel box-blurs the bright pass horizontally into tmp.
func brightBlurRowsKernel(t image.Rectangle, w int, in, tmp []float32, b Bloom) {
	r := max(b.Radius, 0)
	norm := 1 / float32(2*r+1)
	for y := t.Min.Y; y < t.Max.Y; y++ {
		for x := t.Min.X; x < t.Max.X; x++ {
			var sr, sg, sb float32
			for dx := -r; dx <= r; dx++ {
				sx := min(max(x+dx, 0), w-1)
				j := (y*w + sx) * 4
				k := brightScale(in[j], in[j+1], in[j+2], b.Threshold)
				sr += in[j] * k
				sg += in[j+1] * k
				sb += in[j+2] * k
			}
			i := (y*w + x) * 4
			tmp[i], tmp[i+1], tmp[i+2] = sr*norm, sg*norm, sb*norm
		}
	}
}

// bloomComposeKernel blurs tmp vertically and adds it to the input.
func bloomComposeKernel(t image.Rectangle, w, h int, in, tmp, out []float32, b Bloom) {
	r := max(b.Radius, 0)
	gain := float32(b.Strength) / float32(2*r+1)
	for y := t.Min.Y; y < t.Max.Y; y++ {
		for x := t.Min.X; x < t.Max.X; x++ {
			var sr, sg, sb float32
			for dy := -r; dy <= r; dy++ {
				sy := min(max(y+dy, 0), h-1)
				j := (sy*w + x) * 4
				sr += tmp[j]
				sg += tmp[j+1]
				sb += tmp[j+2]
			}
			i := (y*w + x) * 4
			out[i] = in[i] + sr*gain
			out[i+1] = in[i+1] + sg*gain
			out[i+2] = in[i+2] + sb*gain
			out[i+3] = in[i+3]
		}
	}
}

func scanlineKernel(t image.Rectangle, w int, in, out []float32, s Scanlines) {
	spacing := s.Spacing
	if spacing < 1 {
		spacing = 2
	}
	dark := float32(1 - s.Intensity)
	for y := t.Min.Y; y < t.Max.Y; y++ {
		k := float32(1)
		if y%spacing == spacing-1 {
			k = dark
		}
		for x := t.Min.X; x < t.Max.X; x++ {
			i := (y*w + x) * 4
			out[i], out[i+1], out[i+2], out[i+3] = in[i]*k, in[i+1]*k, in[i+2]*k, in[i+3]
		}
	}
}

func smoothstep(edge0, edge1, x float64) float64 {
	if edge1 <= edge0 {
		if x < edge0 {
			return 0
		}
		return 1
	}
	v := min(max((x-edge0)/(edge1-edge0), 0), 1)
	return v * v * (3 - 2*v)
}

func vignetteKernel(t image.Rectangle, w, h int, in, out []float32, v Vignette) {
	cx := math.Max(float64(w-1)/2, 1)
	cy := math.Max(float64(h-1)/2, 1)
	for y := t.Min.Y; y < t.Max.Y; y++ {
		ny := (float64(y) - cy) / cy
		for x := t.Min.X; x < t.Max.X; x++ {
			nx := (float64(x) - cx) / cx
			d := math.Sqrt(nx*nx+ny*ny) / math.Sqrt2
			k := float32(1 - v.Strength*smoothstep(v.Radius, 1, d))
			i := (y*w + x) * 4
			out[i], out[i+1], out[i+2], out[i+3] = in[i]*k, in[i+1]*k, in[i+2]*k, in[i+3]
		}
	}
}

func grainKernel(t image.Rectangle, w int, in, out []float32, amount float64, seed uint64) {
	for y := t.Min.Y; y < t.Max.Y; y++ {
		for x := t.Min.X; x < t.Max.X; x++ {
			n := float32(amount * noise(seed, x, y))
			i := (y*w + x) * 4
			out[i], out[i+1], out[i+2], out[i+3] = in[i]+n, in[i+1]+n, in[i+2]+n, in[i+3]
		}
	}
}

// noise returns a deterministic value in [-1, 1) for a pixel.
func noise(seed uint64, x, y int) float64 {
	z := seed ^ uint64(uint32(y))<<32 ^ uint64(uint32(x))
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31
	return float64(z>>11)/(1<<53)*2 - 1
}
