// Package images - image primitives used to turn an uploaded radiograph into the
// single-channel grid the classifier consumes.
package images

import (
	"image"
	"image/color"
	"image/draw"
	"runtime"
	"sync"
)

// ITU-R BT.601 luma weights in 16.16 fixed point. They sum to 1<<16, so a
// uniform RGB pixel maps to the same gray value.
const (
	lumaR = 19595
	lumaG = 38470
	lumaB = 7471
)

// Grayscale converts an image to 8-bit grayscale using ITU-R BT.601 luma
// coefficients (L = 0.299R + 0.587G + 0.114B), computed on non-premultiplied
// RGB so that transparency does not darken the result.
//
// Arguments:
//   - img: The source image to convert.
//
// Returns:
//   - *image.Gray: A new grayscale image anchored at (0,0) with the same size.
//
// @example
// gray := Grayscale(decoded)
func Grayscale(img image.Image) *image.Gray {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	dst := image.NewGray(image.Rect(0, 0, width, height))

	// Already single channel: copy the plane as-is.
	if src, ok := img.(*image.Gray); ok {
		draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)
		return dst
	}

	Parallel(height, func(partStart, partEnd int) {
		for y := partStart; y < partEnd; y++ {
			row := dst.Pix[y*dst.Stride : y*dst.Stride+width]
			for x := 0; x < width; x++ {
				c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
				row[x] = Luma(c.R, c.G, c.B)
			}
		}
	})

	return dst
}

// Luma returns the BT.601 luma of an 8-bit RGB triple, rounded to nearest.
func Luma(r, g, b uint8) uint8 {
	return uint8((lumaR*uint32(r) + lumaG*uint32(g) + lumaB*uint32(b) + 1<<15) >> 16)
}

// Parallel executes a function in parallel across multiple goroutines.
//
// Arguments:
//   - dataSize: The size of the data to process.
//   - fn: Function to execute for each partition (receives start and end indices).
//
// @example
//
//	Parallel(height, func(start, end int) {
//	    for y := start; y < end; y++ {
//	        // Process row y
//	    }
//	})
func Parallel(dataSize int, fn func(partStart, partEnd int)) {
	numGoroutines := runtime.NumCPU()

	// Small inputs are not worth the scheduling overhead.
	if dataSize < numGoroutines*2 {
		fn(0, dataSize)
		return
	}

	partSize := dataSize / numGoroutines

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		partStart := i * partSize
		partEnd := partStart + partSize

		// Last partition gets any remaining rows.
		if i == numGoroutines-1 {
			partEnd = dataSize
		}

		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(partStart, partEnd)
	}

	wg.Wait()
}
