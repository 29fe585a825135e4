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


package polcal

import (
	"fmt"
	"math"
)

// Empirical instrumental polarization coefficients, as fractions of Stokes I
type IPCoefficients struct {
	PQ, PU float32
}

// A Locator estimates the subpixel center of a point source inside a
// search window of an image plane
type Locator interface {
	Locate(data []float32, width, height int32, x, y, halfWidth int32) (cx, cy float32)
}

// CenterOfMassLocator finds sources by intensity-weighted centroid inside
// the search window. The zero value is ready to use
type CenterOfMassLocator struct{}

func (CenterOfMassLocator) Locate(data []float32, width, height int32, x, y, halfWidth int32) (cx, cy float32) {
	var sum, sumX, sumY float64
	for yy:=maxInt32(0, y-halfWidth); yy<=minInt32(height-1, y+halfWidth); yy++ {
		for xx:=maxInt32(0, x-halfWidth); xx<=minInt32(width-1, x+halfWidth); xx++ {
			v:=float64(data[yy*width+xx])
			if v!=v || v<0 { continue }
			sum+=v
			sumX+=v*float64(xx)
			sumY+=v*float64(yy)
		}
	}
	if sum==0 { return float32(x), float32(y) }
	return float32(sumX/sum), float32(sumY/sum)
}

// MeasureInstpol estimates the fractional instrumental polarization of one
// Stokes plane as the mean of the per-pixel ratio X/I inside a circular
// aperture of the given radius about the image center. NaN pixels are
// excluded
func MeasureInstpol(x, i []float32, width, height int32, radius float32) (float32, error) {
	cx:=0.5*float32(width-1)
	cy:=0.5*float32(height-1)
	return aperturePolarization(x, i, width, height, cx, cy, radius)
}

// MeasureInstpolSpots estimates the fractional instrumental polarization
// from the four calibration satellite spots placed at the given separation
// (pixels) from the image center at 45, 135, 225 and 315 degrees. Each spot
// is re-centered with the locator before measuring, and the four estimates
// are averaged
func MeasureInstpolSpots(x, i []float32, width, height int32, radius, separation float32, loc Locator) (float32, error) {
	if loc==nil { loc=CenterOfMassLocator{} }
	cx:=0.5*float32(width-1)
	cy:=0.5*float32(height-1)
	offset:=separation*float32(math.Sqrt2)/2
	halfWidth:=int32(radius*2)
	if halfWidth<4 { halfWidth=4 }

	var sum float32
	var count int
	for _, s:=range [4][2]float32{{1, 1}, {-1, 1}, {-1, -1}, {1, -1}} {
		sx:=int32(cx+s[0]*offset+0.5)
		sy:=int32(cy+s[1]*offset+0.5)
		fx, fy:=loc.Locate(i, width, height, sx, sy, halfWidth)
		p, err:=aperturePolarization(x, i, width, height, fx, fy, radius)
		if err!=nil { continue }
		sum+=p
		count++
	}
	if count==0 {
		return 0, fmt.Errorf("%w: no usable satellite spot", ErrInsufficientData)
	}
	return sum/float32(count), nil
}

// aperturePolarization averages the per-pixel ratio X/I over the aperture.
// The ratio, not the ratio of sums: on a peaked source the two differ when
// the leakage varies across the aperture. Pixels with NaN or zero intensity
// carry no ratio and are skipped
func aperturePolarization(x, i []float32, width, height int32, cx, cy, radius float32) (float32, error) {
	var sum float64
	var count int
	r2:=float64(radius)*float64(radius)
	for yy:=int32(0); yy<height; yy++ {
		dy:=float64(yy)-float64(cy)
		for xx:=int32(0); xx<width; xx++ {
			dx:=float64(xx)-float64(cx)
			if dx*dx+dy*dy>r2 { continue }
			vx, vi:=float64(x[yy*width+xx]), float64(i[yy*width+xx])
			if vx!=vx || vi!=vi || vi==0 { continue }
			sum+=vx/vi
			count++
		}
	}
	if count==0 {
		return 0, fmt.Errorf("%w: empty aperture at (%.1f,%.1f) r=%.1f", ErrInsufficientData, cx, cy, radius)
	}
	return float32(sum/float64(count)), nil
}

// InstpolCorrect subtracts the measured fractional leakage scaled by the
// intensity plane from every cycle of the cube. The operation is pure and
// self-inverse under coefficient negation
func (cube *StokesCube) InstpolCorrect(ip IPCoefficients) *StokesCube {
	res:=&StokesCube{
		Width: cube.Width, Height: cube.Height, NumCycles: cube.NumCycles,
		I: cube.I,
		Q: make([]float32, len(cube.Q)),
		U: make([]float32, len(cube.U)),
		DerotAngles: cube.DerotAngles,
		Results: cube.Results,
	}
	for p, iv:=range cube.I {
		res.Q[p]=cube.Q[p]-ip.PQ*iv
		res.U[p]=cube.U[p]-ip.PU*iv
	}
	return res
}

// InstpolCorrect on a collapsed frame, same semantics as on the cube
func (f *StokesFrame) InstpolCorrect(ip IPCoefficients) *StokesFrame {
	res:=&StokesFrame{
		Width: f.Width, Height: f.Height,
		I: f.I,
		Q: make([]float32, len(f.Q)),
		U: make([]float32, len(f.U)),
	}
	for p, iv:=range f.I {
		res.Q[p]=f.Q[p]-ip.PQ*iv
		res.U[p]=f.U[p]-ip.PU*iv
	}
	return res
}

func minInt32(a, b int32) int32 { if a<b { return a }; return b }
func maxInt32(a, b int32) int32 { if a>b { return a }; return b }
