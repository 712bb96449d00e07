package image

import (
	"fmt"
	"image"
	"runtime"
	"sync"

	"gocv.io/x/gocv"
)

// forEachStripe runs fn over horizontal stripes of [0,height) in parallel.
func forEachStripe(height int, fn func(yStart, yEnd int)) {
	numWorkers := runtime.NumCPU()
	rowsPerWorker := (height + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		startY := w * rowsPerWorker
		endY := min(startY+rowsPerWorker, height)
		if startY >= height {
			break
		}
		wg.Add(1)
		go func(yStart, yEnd int) {
			defer wg.Done()
			fn(yStart, yEnd)
		}(startY, endY)
	}
	wg.Wait()
}

// ToMat converts an image.Image to a BGR gocv.Mat. The caller owns the Mat.
func ToMat(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return gocv.NewMat(), ErrEmptyImage
	}

	buf := make([]byte, width*height*3)
	forEachStripe(height, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			row := y * width * 3
			for x := 0; x < width; x++ {
				r, g, b, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
				// OpenCV uses BGR format
				buf[row+x*3+0] = uint8(b >> 8)
				buf[row+x*3+1] = uint8(g >> 8)
				buf[row+x*3+2] = uint8(r >> 8)
			}
		}
	})

	mat, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, buf)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to build mat: %w", err)
	}
	return mat, nil
}

// ToImage converts a BGR or single-channel gocv.Mat to an *image.RGBA.
func ToImage(mat gocv.Mat) (*image.RGBA, error) {
	if mat.Empty() {
		return nil, ErrEmptyImage
	}
	h, w := mat.Rows(), mat.Cols()
	channels := mat.Channels()
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}

	if !mat.IsContinuous() {
		c := mat.Clone()
		defer c.Close()
		mat = c
	}

	data, err := mat.DataPtrUint8()
	if err != nil {
		return nil, fmt.Errorf("failed to read mat: %w", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	stride := img.Stride
	forEachStripe(h, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			rowOffset := y * stride
			src := y * w * channels
			for x := 0; x < w; x++ {
				pix := rowOffset + x*4
				if channels == 1 {
					v := data[src+x]
					img.Pix[pix+0], img.Pix[pix+1], img.Pix[pix+2] = v, v, v
				} else {
					img.Pix[pix+0] = data[src+x*3+2]
					img.Pix[pix+1] = data[src+x*3+1]
					img.Pix[pix+2] = data[src+x*3+0]
				}
				img.Pix[pix+3] = 255
			}
		}
	})
	return img, nil
}
