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


// Package mueller models the polarization transfer function of the
// instrument as a product of elementary Mueller matrices, one per optical
// element in the train.
package mueller

import (
	"errors"
	"fmt"
	"math"
	"gonum.org/v1/gonum/mat"
)

// Returned for unrecognized camera, filter or FLC state values.
// There are no silent defaults; a wrong matrix looks plausible and is
// far more dangerous than a failed frame.
var ErrInvalidConfiguration = errors.New("invalid instrument configuration")

// Fast-axis orientations of the FLC in its two switching states
const (
	flcTheta1 = 0.0
	flcTheta2 = math.Pi / 4
)

// Amplitude leakage of the rejected beam through the Wollaston prism.
// Finite extinction keeps the U and V rows of the per-camera matrices
// alive, which the downstream leakage terms depend on.
const wollastonLeak = 0.06

// Calibrated retardances per filter, radians
type filterParams struct {
	HWPDelta float64 // half-wave plate
	IMRDelta float64 // image rotator
	FLCDelta float64 // ferroelectric liquid crystal
}

var filterTable = map[string]filterParams{
	"Open":   {1.000 * math.Pi, 1.000 * math.Pi, 1.000 * math.Pi},
	"625-50": {0.998 * math.Pi, 1.012 * math.Pi, 0.996 * math.Pi},
	"675-50": {1.000 * math.Pi, 1.006 * math.Pi, 0.998 * math.Pi},
	"725-50": {1.001 * math.Pi, 0.996 * math.Pi, 1.001 * math.Pi},
	"750-50": {0.999 * math.Pi, 0.990 * math.Pi, 1.003 * math.Pi},
	"775-50": {0.997 * math.Pi, 0.984 * math.Pi, 1.005 * math.Pi},
}

// Instrument configuration for one frame. Angles are radians
type Config struct {
	Camera   int32   // 1 or 2, the two Wollaston output beams
	Filter   string  // filter name, selects calibrated retardances
	FLCState int32   // 1 or 2
	QWP1     float64 // first quarter-wave plate angle
	QWP2     float64 // second quarter-wave plate angle
	IMRTheta float64 // image rotator angle
	HWPTheta float64 // half-wave plate angle
	PA       float64 // parallactic angle
	Altitude float64 // telescope altitude
}

// Rotator returns the Mueller matrix of a frame rotation by theta
func Rotator(theta float64) *mat.Dense {
	c, s:=math.Cos(2*theta), math.Sin(2*theta)
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, c, s, 0,
		0,-s, c, 0,
		0, 0, 0, 1,
	})
}

// Retarder returns the Mueller matrix of a linear retarder with fast axis
// at theta and retardance delta
func Retarder(theta, delta float64) *mat.Dense {
	c, s:=math.Cos(delta), math.Sin(delta)
	r0:=mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, c, s,
		0, 0,-s, c,
	})
	return compose(Rotator(-theta), r0, Rotator(theta))
}

// HWP returns an ideal half-wave plate with fast axis at theta
func HWP(theta float64) *mat.Dense { return Retarder(theta, math.Pi) }

// QWP returns an ideal quarter-wave plate with fast axis at theta
func QWP(theta float64) *mat.Dense { return Retarder(theta, math.Pi/2) }

// Mirror returns the Mueller matrix of an ideal flat mirror
func Mirror() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0,-1, 0,
		0, 0, 0,-1,
	})
}

// Polarizer returns the Mueller matrix of a linear polarizer with
// horizontal and vertical amplitude transmissions px and py
func Polarizer(px, py float64) *mat.Dense {
	a:=0.5*(px*px + py*py)
	b:=0.5*(px*px - py*py)
	c:=px*py
	return mat.NewDense(4, 4, []float64{
		a, b, 0, 0,
		b, a, 0, 0,
		0, 0, c, 0,
		0, 0, 0, c,
	})
}

// Wollaston returns the beam-splitter matrix for the ordinary (camera 1)
// or extraordinary (camera 2) beam, with finite extinction
func Wollaston(ordinary bool) *mat.Dense {
	if ordinary {
		return Polarizer(1, wollastonLeak)
	}
	return Polarizer(wollastonLeak, 1)
}

// Model evaluates the instrument Mueller matrix for the given
// configuration, composed sky to detector:
// parallactic rotation, altitude rotation, telescope mirror, HWP, image
// rotator, QWP1, QWP2, FLC, Wollaston. The composition order is the
// physical light path and must not be changed. The result is normalized
// to unit intensity transmission, so entry (0,0) is always 1.
func Model(cfg Config) (*mat.Dense, error) {
	params, ok:=filterTable[cfg.Filter]
	if !ok { return nil, fmt.Errorf("%w: unknown filter %q", ErrInvalidConfiguration, cfg.Filter) }

	var flcTheta float64
	switch cfg.FLCState {
	case 1: flcTheta=flcTheta1
	case 2: flcTheta=flcTheta2
	default: return nil, fmt.Errorf("%w: FLC state %d", ErrInvalidConfiguration, cfg.FLCState)
	}

	var woll *mat.Dense
	switch cfg.Camera {
	case 1: woll=Wollaston(true)
	case 2: woll=Wollaston(false)
	default: return nil, fmt.Errorf("%w: camera %d", ErrInvalidConfiguration, cfg.Camera)
	}

	m:=compose(
		woll,
		Retarder(flcTheta, params.FLCDelta),
		QWP(cfg.QWP2),
		QWP(cfg.QWP1),
		Retarder(cfg.IMRTheta, params.IMRDelta),
		Retarder(cfg.HWPTheta, params.HWPDelta),
		Mirror(),
		Rotator(cfg.Altitude),
		Rotator(cfg.PA),
	)
	m.Scale(1.0/m.At(0, 0), m)
	return m, nil
}

// Filters returns the names of all calibrated filters
func Filters() []string {
	names:=make([]string, 0, len(filterTable))
	for name:=range filterTable {
		names=append(names, name)
	}
	return names
}

// compose multiplies the given matrices left to right
func compose(ms ...*mat.Dense) *mat.Dense {
	res:=mat.NewDense(4, 4, nil)
	res.Copy(ms[0])
	tmp:=mat.NewDense(4, 4, nil)
	for _, m:=range ms[1:] {
		tmp.Mul(res, m)
		res, tmp=tmp, res
	}
	return res
}
