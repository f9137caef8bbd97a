// Package frame holds the pixel plumbing shared by image mode and live mode:
// decoding uploads, converting to the byte order the model expects, and drawing overlays.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

// ErrEmptyImage is returned when an image has no pixels.
var ErrEmptyImage = errors.New("image has no pixels")

// LabelColor is the overlay color used for live-mode labels.
var LabelColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}

var labelFont *truetype.Font

func init() {
	var err error
	labelFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Decode reads a JPEG or PNG and applies the EXIF orientation so phone photos come out upright.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	return img, nil
}

// Fit downscales img so neither side exceeds maxSide. Smaller images are returned untouched.
func Fit(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	if maxSide <= 0 || (b.Dx() <= maxSide && b.Dy() <= maxSide) {
		return img
	}
	return imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
}

// EncodeJPEG encodes img at the given quality (1-100).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// BGR is a packed bgr24 frame.
type BGR struct {
	Pix    []byte
	Width  int
	Height int
}

// NewBGR converts img into a BGR frame.
func NewBGR(img image.Image) BGR {
	pix, w, h := ToBGR(img)
	return BGR{Pix: pix, Width: w, Height: h}
}

// Image converts the frame back into an image.
func (b BGR) Image() (*image.NRGBA, error) {
	return FromBGR(b.Pix, b.Width, b.Height)
}

// ToBGR flattens img into packed bgr24 rows, the channel order OpenCV-based models read.
func ToBGR(img image.Image) (pix []byte, width, height int) {
	b := img.Bounds()
	width, height = b.Dx(), b.Dy()
	pix = make([]byte, width*height*3)

	// Fast path for the layout imaging and the JPEG decoder hand us most often.
	if nrgba, ok := img.(*image.NRGBA); ok {
		for y := 0; y < height; y++ {
			row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+width*4]
			out := pix[y*width*3 : (y+1)*width*3]
			for x := 0; x < width; x++ {
				out[x*3] = row[x*4+2]
				out[x*3+1] = row[x*4+1]
				out[x*3+2] = row[x*4]
			}
		}
		return pix, width, height
	}

	off := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			pix[off] = c.B
			pix[off+1] = c.G
			pix[off+2] = c.R
			off += 3
		}
	}
	return pix, width, height
}

// FromBGR is the inverse of ToBGR.
func FromBGR(pix []byte, width, height int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrEmptyImage
	}
	if len(pix) != width*height*3 {
		return nil, fmt.Errorf("bgr buffer is %d bytes, want %d", len(pix), width*height*3)
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i < len(pix); i, j = i+3, j+4 {
		img.Pix[j] = pix[i+2]
		img.Pix[j+1] = pix[i+1]
		img.Pix[j+2] = pix[i]
		img.Pix[j+3] = 255
	}
	return img, nil
}

// DrawLabel returns a copy of img with text drawn with its baseline at p.
func DrawLabel(img image.Image, text string, p image.Point, c color.Color, size float64) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetFontFace(truetype.NewFace(labelFont, &truetype.Options{Size: size}))
	dc.SetColor(c)
	dc.DrawString(text, float64(p.X), float64(p.Y))
	return dc.Image()
}
