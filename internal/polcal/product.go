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

	"github.com/astropol/polarlight/internal/fits"
)

// Plane order of the assembled Stokes product, recorded in the STOKES key
const ProductPlanes="I,Q,U,Qphi,Uphi,LP_I,AoLP"

// AssembleProduct packs a collapsed Stokes frame into the standard 7-plane
// product cube: I, Q, U, Qphi, Uphi, linear polarized intensity and angle of
// linear polarization (radians). phi is the radial-Stokes phase offset,
// recorded in VPP_PHI. Inputs are not modified; calling twice on the same
// frame yields identical products
func AssembleProduct(f *StokesFrame, phi float32, ip *IPCoefficients) *fits.Image {
	pixels:=int(f.Width)*int(f.Height)
	data:=make([]float32, 7*pixels)
	copy(data[0*pixels:], f.I)
	copy(data[1*pixels:], f.Q)
	copy(data[2*pixels:], f.U)

	qphi, uphi:=RadialStokes(f.Q, f.U, f.Width, f.Height, phi)
	copy(data[3*pixels:], qphi)
	copy(data[4*pixels:], uphi)

	lp:=data[5*pixels : 6*pixels]
	aolp:=data[6*pixels : 7*pixels]
	for p:=0; p<pixels; p++ {
		qv, uv:=float64(f.Q[p]), float64(f.U[p])
		lp[p]=float32(math.Hypot(uv, qv))
		aolp[p]=float32(0.5*math.Atan2(uv, qv))
	}

	img:=fits.NewImageFromNaxisn([]int32{f.Width, f.Height, 7}, data)
	img.Header.Strings["STOKES"]=ProductPlanes
	img.Header.Floats["VPP_PHI"]=phi
	if ip!=nil {
		img.Header.Floats["VPP_PQ"]=ip.PQ
		img.Header.Floats["VPP_PU"]=ip.PU
	}
	return img
}

// ProductHistory appends the per-cycle provenance of the cube to the
// product's HISTORY cards
func ProductHistory(img *fits.Image, cube *StokesCube) {
	img.Header.History=append(img.Header.History,
		fmt.Sprintf("combined %d acquisition cycles", cube.NumCycles))
	for _, r:=range cube.Results {
		if r.Err!=nil {
			img.Header.History=append(img.Header.History,
				fmt.Sprintf("cycle at frame %d dropped: %.60s", r.Index, r.Err.Error()))
		} else {
			img.Header.History=append(img.Header.History,
				fmt.Sprintf("cycle at frame %d derot %.2f deg", r.Index, r.Stokes.DerotAngle))
		}
	}
}

// ProductPlane returns the named plane of an assembled product as a subslice
func ProductPlane(img *fits.Image, name string) []float32 {
	if len(img.Naxisn)!=3 || img.Naxisn[2]!=7 { return nil }
	names:=[7]string{"I", "Q", "U", "Qphi", "Uphi", "LP_I", "AoLP"}
	for i, n:=range names {
		if n==name { return img.Plane(int32(i)) }
	}
	return nil
}
