package types

import "fmt"

// PixelFormat identifies the byte layout of an Image buffer
type PixelFormat int

const (
	// FormatBGR24 is packed 8-bit blue, green, red (GStreamer/OpenCV native order)
	FormatBGR24 PixelFormat = iota
	// FormatRGB24 is packed 8-bit red, green, blue
	FormatRGB24
	// FormatGray8 is a single 8-bit luma channel
	FormatGray8
)

// String returns a human-readable representation of the format
func (f PixelFormat) String() string {
	switch f {
	case FormatBGR24:
		return "bgr"
	case FormatRGB24:
		return "rgb"
	case FormatGray8:
		return "gray"
	default:
		return "unknown"
	}
}

// Channels returns the number of bytes per pixel
func (f PixelFormat) Channels() int {
	if f == FormatGray8 {
		return 1
	}
	return 3
}

// ParsePixelFormat maps a configuration string to a PixelFormat
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch s {
	case "bgr", "BGR", "bgr24", "BGR24":
		return FormatBGR24, nil
	case "rgb", "RGB", "rgb24", "RGB24":
		return FormatRGB24, nil
	case "gray", "GRAY", "gray8", "GRAY8":
		return FormatGray8, nil
	default:
		return 0, fmt.Errorf("unknown pixel format %q (must be bgr, rgb or gray)", s)
	}
}

// Image is a packed pixel buffer
type Image struct {
	// Data contains Width*Height*Format.Channels() bytes, row-major, no padding
	Data   []byte
	Width  int
	Height int
	Format PixelFormat
}

// Empty reports whether the image carries no pixels
func (img Image) Empty() bool {
	return len(img.Data) == 0 || img.Width == 0 || img.Height == 0
}

// Stride returns the number of bytes per row
func (img Image) Stride() int {
	return img.Width * img.Format.Channels()
}

// Frame is one captured image plus its capture metadata.
//
// A Frame is owned by whichever stage currently holds it. Sending it on a
// channel hands it off; the sender must not touch Image.Data afterwards.
type Frame struct {
	// Seq is the monotonic capture sequence number (starts at 1)
	Seq uint64
	// Timestamp is seconds on the source's monotonic clock
	Timestamp float64
	// Image is the transformed pixel buffer
	Image Image
	// TraceID follows the frame through the pipeline in logs
	TraceID string
}
