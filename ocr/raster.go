package ocr

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// fitPixels downsamples img so that it holds at most max pixels, keeping the
// aspect ratio. max <= 0 disables the cap.
func fitPixels(img image.Image, max int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if max <= 0 || w*h <= max {
		return img
	}
	f := math.Sqrt(float64(max) / float64(w*h))
	tw := int(math.Max(1, math.Floor(float64(w)*f)))
	th := int(math.Max(1, math.Floor(float64(h)*f)))
	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
