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

	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/optimize"
)

// FrameAngles returns the azimuth atan2(dy,dx) of every pixel about the
// image center, in radians
func FrameAngles(width, height int32) []float32 {
	res:=make([]float32, int(width)*int(height))
	cx:=0.5*float64(width-1)
	cy:=0.5*float64(height-1)
	for y:=int32(0); y<height; y++ {
		dy:=float64(y)-cy
		for x:=int32(0); x<width; x++ {
			dx:=float64(x)-cx
			res[y*width+x]=float32(math.Atan2(dy, dx))
		}
	}
	return res
}

// RadialStokes transforms Q/U into the azimuthal basis about the image
// center, with an optional global phase offset phi in radians:
//
//	Qphi = -Q*cos(2(theta+phi)) - U*sin(2(theta+phi))
//	Uphi =  Q*sin(2(theta+phi)) - U*cos(2(theta+phi))
//
// For a centrosymmetric scattering pattern all signal lands in Qphi and
// Uphi vanishes
func RadialStokes(q, u []float32, width, height int32, phi float32) (qphi, uphi []float32) {
	angles:=FrameAngles(width, height)
	qphi=make([]float32, len(q))
	uphi=make([]float32, len(q))
	for p:=range q {
		a:=2*float64(angles[p]+phi)
		sin, cos:=math.Sin(a), math.Cos(a)
		qphi[p]=float32(-float64(q[p])*cos-float64(u[p])*sin)
		uphi[p]=float32( float64(q[p])*sin-float64(u[p])*cos)
	}
	return qphi, uphi
}

// OptimizeUphi finds the phase offset phi in [-pi/2, pi/2] minimizing the
// total squared Uphi signal inside a circular aperture of the given radius
// about the image center. Nelder-Mead with randomized restarts; the problem
// is a smooth 1-D trigonometric sum, so a handful of restarts covers the
// period
func OptimizeUphi(q, u []float32, width, height int32, radius float32) (float32, error) {
	angles:=FrameAngles(width, height)
	cx:=0.5*float64(width-1)
	cy:=0.5*float64(height-1)
	r2:=float64(radius)*float64(radius)

	// collect aperture pixels once
	var qs, us, angs []float64
	for y:=int32(0); y<height; y++ {
		dy:=float64(y)-cy
		for x:=int32(0); x<width; x++ {
			dx:=float64(x)-cx
			if dx*dx+dy*dy>r2 { continue }
			p:=y*width+x
			qv, uv:=float64(q[p]), float64(u[p])
			if qv!=qv || uv!=uv { continue }
			qs=append(qs, qv)
			us=append(us, uv)
			angs=append(angs, float64(angles[p]))
		}
	}
	if len(qs)==0 {
		return 0, fmt.Errorf("%w: empty aperture r=%.1f", ErrInsufficientData, radius)
	}

	problem:=optimize.Problem{
		Func: func(x []float64) float64 {
			var sum float64
			for i:=range qs {
				a:=2*(angs[i]+x[0])
				uphi:=qs[i]*math.Sin(a)-us[i]*math.Cos(a)
				sum+=uphi*uphi
			}
			return sum
		},
	}

	rng:=fastrand.RNG{}
	rng.Seed(0xdecaf)
	bestPhi, bestF:=0.0, math.Inf(1)
	for restart:=0; restart<4; restart++ {
		init:=(float64(rng.Uint32n(1000))/1000-0.5)*math.Pi
		res, err:=optimize.Minimize(problem, []float64{init}, nil, &optimize.NelderMead{})
		if err!=nil { continue }
		if res.F<bestF {
			bestF=res.F
			bestPhi=res.X[0]
		}
	}
	if math.IsInf(bestF, 1) {
		return 0, fmt.Errorf("%w: phase optimization failed to converge", ErrNumericalDegeneracy)
	}

	// Uphi is pi-periodic in phi; wrap into [-pi/2, pi/2]
	phi:=math.Mod(bestPhi+math.Pi/2, math.Pi)
	if phi<0 { phi+=math.Pi }
	return float32(phi-math.Pi/2), nil
}
