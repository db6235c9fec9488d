package vision

import (
	"image"

	"golang.org/x/image/draw"
)

var (
	detMean = [3]float32{127.5, 127.5, 127.5}
	detStd  = [3]float32{128, 128, 128}
	embMean = [3]float32{127.5, 127.5, 127.5}
	embStd  = [3]float32{127.5, 127.5, 127.5}
)

// toCHW resizes img to w x h and lays it out as normalized planar RGB:
//
//	pixel = (pixel - mean) / std
func toCHW(img image.Image, w, h int, mean, std [3]float32) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := w * h
	data := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			i := y*w + x
			data[i] = (float32(row[x*4+0]) - mean[0]) / std[0]
			data[plane+i] = (float32(row[x*4+1]) - mean[1]) / std[1]
			data[2*plane+i] = (float32(row[x*4+2]) - mean[2]) / std[2]
		}
	}
	return data
}

// cropFace cuts the face box out of img with 10% padding on each side,
// clamped to the image. It returns nil for an empty box.
func cropFace(img image.Image, box image.Rectangle) image.Image {
	b := img.Bounds()
	box = box.Intersect(b)
	if box.Empty() {
		return nil
	}

	padW, padH := box.Dx()/10, box.Dy()/10
	box = image.Rect(box.Min.X-padW, box.Min.Y-padH, box.Max.X+padW, box.Max.Y+padH).Intersect(b)

	crop := image.NewRGBA(image.Rect(0, 0, box.Dx(), box.Dy()))
	draw.Copy(crop, image.Point{}, img, box, draw.Src, nil)
	return crop
}
