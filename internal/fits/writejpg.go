// Copyright (C) 2024 the polarlight authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package fits

import (
	"bufio"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"
	colorful "github.com/lucasb-eyer/go-colorful"
)

// Write a single image plane to a mono JPG, using the given min, max and gamma.
func (f *Image) WriteMonoJPGToFile(fileName string, min, max, gamma float32, quality int) error {
	file, err := os.Create(fileName)
	if err != nil { return err }
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	return f.WriteMonoJPG(writer, min, max, gamma, quality)
}

// Write a single image plane to a mono JPG, using the given min, max and gamma.
func (f *Image) WriteMonoJPG(writer io.Writer, min, max, gamma float32, quality int) error {
	width, height := int(f.Naxisn[0]), int(f.Naxisn[1])
	img := image.NewRGBA(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale := 1.0 / (max - min)
	gammaInv := float64(1.0 / gamma)
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			v := (f.Data[yoffset+x] - min) * scale
			// replace NaNs with zeros for export, else JPG output breaks
			if math.IsNaN(float64(v)) || v < 0 { v = 0 }
			if v > 1 { v = 1 }
			if gammaInv != 1.0 {
				v = float32(math.Pow(float64(v), gammaInv))
			}
			c := color.RGBA{uint8(v * 255), uint8(v * 255), uint8(v * 255), 255}
			img.SetRGBA(x, y, c)
		}
	}

	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}

// Write a polarization false-color JPG from an angle plane (radians) and an
// intensity plane: the angle maps onto hue, the intensity onto value. The
// planes must have identical dimensions matching f.Naxisn[0:2].
func WritePolarizationJPGToFile(fileName string, angle, intensity []float32, width int32, maxIntensity float32, quality int) error {
	file, err := os.Create(fileName)
	if err != nil { return err }
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	return WritePolarizationJPG(writer, angle, intensity, width, maxIntensity, quality)
}

// Write a polarization false-color JPG to an io.Writer. See WritePolarizationJPGToFile.
func WritePolarizationJPG(writer io.Writer, angle, intensity []float32, width int32, maxIntensity float32, quality int) error {
	w, h := int(width), len(angle)/int(width)
	img := image.NewRGBA(image.Rectangle{image.Point{0, 0}, image.Point{w, h}})
	for y := 0; y < h; y++ {
		yoffset := y * w
		for x := 0; x < w; x++ {
			a := float64(angle[yoffset+x])
			v := float64(intensity[yoffset+x] / maxIntensity)
			if math.IsNaN(a) { a = 0 }
			if math.IsNaN(v) || v < 0 { v = 0 }
			if v > 1 { v = 1 }
			// AoLP is periodic in [-pi/2, pi/2); stretch onto the full hue circle
			hue := (a + math.Pi/2) / math.Pi * 360.0
			col := colorful.Hsv(hue, 1.0, v).Clamped()
			r, g, b := col.RGB255()
			img.SetRGBA(x, y, color.RGBA{r, g, b, 255})
		}
	}

	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}
