package capture

import (
	"fmt"
	"image"
	"strconv"
	"strings"

	"golang.org/x/image/draw"

	"github.com/e7canasta/orion-facemesh/internal/types"
)

// Size is a fixed output size. The zero value keeps the native size.
type Size struct {
	Width  int
	Height int
}

// Native reports whether the size keeps the captured dimensions
func (s Size) Native() bool {
	return s.Width == 0 && s.Height == 0
}

func (s Size) String() string {
	if s.Native() {
		return "native"
	}
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ParseSize parses "native" (or "orig", or empty) and "WIDTHxHEIGHT"
func ParseSize(s string) (Size, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "native", "orig":
		return Size{}, nil
	}

	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return Size{}, fmt.Errorf("invalid size %q (must be native or WIDTHxHEIGHT)", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return Size{}, fmt.Errorf("invalid width in size %q", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return Size{}, fmt.Errorf("invalid height in size %q", s)
	}
	return Size{Width: width, Height: height}, nil
}

// Transform is the per-frame conversion chain: format, brightness, resize.
type Transform struct {
	Format     types.PixelFormat
	Brightness float64
	Size       Size

	// lut maps each input byte through the brightness multiplier
	lut *[256]byte
}

// NewTransform validates the parameters and precomputes the brightness table
func NewTransform(format types.PixelFormat, brightness float64, size Size) (*Transform, error) {
	if brightness < 0 {
		return nil, fmt.Errorf("capture: brightness must be >= 0, got %v", brightness)
	}
	if size.Width < 0 || size.Height < 0 || (size.Width == 0) != (size.Height == 0) {
		return nil, fmt.Errorf("capture: invalid output size %s", size)
	}

	t := &Transform{
		Format:     format,
		Brightness: brightness,
		Size:       size,
	}

	if brightness != 1.0 {
		var lut [256]byte
		for i := range lut {
			v := float64(i)*brightness + 0.5
			if v > 255 {
				v = 255
			}
			lut[i] = byte(v)
		}
		t.lut = &lut
	}

	return t, nil
}

// Apply runs the chain on img. The input buffer is not modified.
func (t *Transform) Apply(img types.Image) (types.Image, error) {
	if img.Empty() {
		return img, fmt.Errorf("capture: empty image")
	}
	if want := img.Stride() * img.Height; len(img.Data) < want {
		return img, fmt.Errorf("capture: short buffer: %d bytes for %dx%d %s", len(img.Data), img.Width, img.Height, img.Format)
	}

	out, err := ConvertFormat(img, t.Format)
	if err != nil {
		return img, err
	}

	if t.lut != nil {
		if &out.Data[0] == &img.Data[0] {
			out.Data = append([]byte(nil), out.Data...)
		}
		for i, b := range out.Data {
			out.Data[i] = t.lut[b]
		}
	}

	if !t.Size.Native() && (out.Width != t.Size.Width || out.Height != t.Size.Height) {
		out = Resize(out, t.Size.Width, t.Size.Height)
	}

	return out, nil
}

// ConvertFormat converts between packed BGR, RGB and gray. Converting gray
// to color replicates the luma channel. The result shares img.Data when the
// format already matches.
func ConvertFormat(img types.Image, to types.PixelFormat) (types.Image, error) {
	if img.Format == to {
		return img, nil
	}

	n := img.Width * img.Height
	out := types.Image{Width: img.Width, Height: img.Height, Format: to}

	switch {
	case img.Format == types.FormatGray8:
		out.Data = make([]byte, 3*n)
		for i := 0; i < n; i++ {
			v := img.Data[i]
			out.Data[3*i], out.Data[3*i+1], out.Data[3*i+2] = v, v, v
		}

	case to == types.FormatGray8:
		// BT.601 luma
		rIdx, bIdx := 2, 0
		if img.Format == types.FormatRGB24 {
			rIdx, bIdx = 0, 2
		}
		out.Data = make([]byte, n)
		for i := 0; i < n; i++ {
			p := img.Data[3*i : 3*i+3]
			y := (299*int(p[rIdx]) + 587*int(p[1]) + 114*int(p[bIdx]) + 500) / 1000
			out.Data[i] = byte(y)
		}

	case (img.Format == types.FormatBGR24 && to == types.FormatRGB24) ||
		(img.Format == types.FormatRGB24 && to == types.FormatBGR24):
		out.Data = make([]byte, 3*n)
		for i := 0; i < 3*n; i += 3 {
			out.Data[i], out.Data[i+1], out.Data[i+2] = img.Data[i+2], img.Data[i+1], img.Data[i]
		}

	default:
		return img, fmt.Errorf("capture: unsupported conversion %s -> %s", img.Format, to)
	}

	return out, nil
}

// Resize scales img to width x height with bilinear interpolation
func Resize(img types.Image, width, height int) types.Image {
	srcRect := image.Rect(0, 0, img.Width, img.Height)
	dstRect := image.Rect(0, 0, width, height)

	if img.Format == types.FormatGray8 {
		src := &image.Gray{Pix: img.Data, Stride: img.Width, Rect: srcRect}
		dst := image.NewGray(dstRect)
		draw.BiLinear.Scale(dst, dstRect, src, srcRect, draw.Src, nil)
		return types.Image{Data: dst.Pix, Width: width, Height: height, Format: img.Format}
	}

	// Channels are interpolated independently, so BGR can ride in the RGB slots
	src := toRGBA(img)
	dst := image.NewRGBA(dstRect)
	draw.BiLinear.Scale(dst, dstRect, src, srcRect, draw.Src, nil)

	return fromRGBA(dst, img.Format)
}

func toRGBA(img types.Image) *image.RGBA {
	rgba := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	n := img.Width * img.Height
	for i := 0; i < n; i++ {
		copy(rgba.Pix[4*i:4*i+3], img.Data[3*i:3*i+3])
		rgba.Pix[4*i+3] = 0xFF
	}
	return rgba
}

func fromRGBA(rgba *image.RGBA, format types.PixelFormat) types.Image {
	b := rgba.Bounds()
	n := b.Dx() * b.Dy()
	data := make([]byte, 3*n)
	for i := 0; i < n; i++ {
		copy(data[3*i:3*i+3], rgba.Pix[4*i:4*i+3])
	}
	return types.Image{Data: data, Width: b.Dx(), Height: b.Dy(), Format: format}
}
