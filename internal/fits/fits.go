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
	"fmt"
	"strings"
	"github.com/astropol/polarlight/internal/stats"
)

// A FITS image.
// Spec here:   https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
// Primer here: https://fits.gsfc.nasa.gov/fits_primer.html
type Image struct {
	ID       int         // Sequential ID number, for log output. Counted upwards from 0 for science frames
	FileName string      // Original file name, if any, for log output

	Header Header        // The header with all keys, values, comments, history entries etc.
	Bitpix int32         // Bits per pixel value from the header. Positive values are integral, negative floating
	Bzero  float32       // Zero offset. True pixel value is Bzero + Bscale * Data[i]
	Bscale float32       // Value scaler. True pixel value is Bzero + Bscale * Data[i]
	Naxisn []int32       // Axis dimensions. Most quickly varying dimension first (i.e. X,Y,planes)
	Pixels int32         // Number of pixels in the image. Product of Naxisn[]

	Data   []float32     // The image data

	Exposure float32     // Image exposure in seconds

	Stats  *stats.Stats  // Basic image statistics: min, mean, max
}

// Creates a FITS image initialized with empty header
func NewImage() *Image {
	return &Image{
		Header:  NewHeader(),
		Bscale:  1,
	}
}

// Creates a FITS image from given naxisn. Data is not copied, allocated if nil. naxisn is deep copied
func NewImageFromNaxisn(naxisn []int32, data []float32) *Image {
	numPixels:=int32(1)
	for _,naxis:=range(naxisn) {
		numPixels*=naxis
	}
	if data==nil {
		data=make([]float32, numPixels)
	}
	return &Image{
		ID:       0,
		FileName: "",
		Header:   NewHeader(),
		Bitpix:   -32,
		Bzero:    0,
		Bscale:   1,
		Naxisn:   append([]int32(nil), naxisn...), // clone slice
		Pixels:   numPixels,
		Data:     data,
		Exposure: 0,
		Stats:    stats.NewStats(data),
	}
}

// FITS header data
type Header struct {
	Bools    map[string]bool
	Ints     map[string]int32
	Floats   map[string]float32
	Strings  map[string]string
	Dates    map[string]string
	Comments []string
	History  []string
	End      bool
	Length   int32
}

// Creates a FITS header initialized with empty maps and arrays
func NewHeader() Header {
	return Header{
		Bools:   make(map[string]bool),
		Ints:    make(map[string]int32),
		Floats:  make(map[string]float32),
		Strings: make(map[string]string),
		Dates:   make(map[string]string),
		Comments:make([]string,0),
		History: make([]string,0),
		End:     false,
	}
}

// Returns a float-valued header card, falling back to int-valued cards,
// as FITS writers routinely store integral floats as ints
func (h *Header) Float(key string) (val float32, ok bool) {
	if v, ok:=h.Floats[key];  ok { return v, true }
	if v, ok:=h.Ints[key];    ok { return float32(v), true }
	return 0, false
}

// Returns an int-valued header card
func (h *Header) Int(key string) (val int32, ok bool) {
	v, ok:=h.Ints[key]
	return v, ok
}

// Returns a string-valued header card
func (h *Header) String(key string) (val string, ok bool) {
	v, ok:=h.Strings[key]
	return v, ok
}

const fitsBlockSize   int = 2880  // Block size of FITS header and data units
const HeaderLineSize  int =   80  // Line size of a FITS header

func (f *Image) DimensionsToString() string {
	b:=strings.Builder{}
	for i,naxis:=range(f.Naxisn) {
		if i>0 {
			fmt.Fprintf(&b, "x%d", naxis)
		} else {
			fmt.Fprintf(&b, "%d", naxis)
		}
	}
	return b.String()
}

// Returns the plane of given index as a subslice of the image data.
// The image must have at least two dimensions
func (f *Image) Plane(index int32) []float32 {
	planePixels:=f.Naxisn[0]*f.Naxisn[1]
	return f.Data[index*planePixels : (index+1)*planePixels]
}

func EqualInt32Slice(a, b []int32) bool {
	if len(a)!=len(b) { return false }
	for i:=range a {
		if a[i]!=b[i] { return false }
	}
	return true
}
