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
	"math"
	"testing"
)

func testStokesFrame(width, height int32) *StokesFrame {
	pixels:=int(width)*int(height)
	f:=&StokesFrame{Width: width, Height: height,
		I: make([]float32, pixels), Q: make([]float32, pixels), U: make([]float32, pixels)}
	for p:=0; p<pixels; p++ {
		f.I[p]=float32(p+1)
		f.Q[p]=0.03*float32(p+1)
		f.U[p]=0.04*float32(p+1)
	}
	return f
}

func TestAssembleProduct(t *testing.T) {
	f:=testStokesFrame(4, 4)
	img:=AssembleProduct(f, 0.125, &IPCoefficients{PQ: 0.01, PU: 0.02})
	if len(img.Naxisn)!=3 || img.Naxisn[0]!=4 || img.Naxisn[1]!=4 || img.Naxisn[2]!=7 {
		t.Fatalf("naxisn=%v; want [4 4 7]", img.Naxisn)
	}
	if s, _:=img.Header.String("STOKES"); s!=ProductPlanes {
		t.Errorf("STOKES=%q; want %q", s, ProductPlanes)
	}
	if v, _:=img.Header.Float("VPP_PHI"); v!=0.125 {
		t.Errorf("VPP_PHI=%v; want 0.125", v)
	}
	if v, _:=img.Header.Float("VPP_PQ"); v!=0.01 {
		t.Errorf("VPP_PQ=%v; want 0.01", v)
	}

	// polarized intensity and angle derive from Q and U
	p:=5
	lp:=ProductPlane(img, "LP_I")
	aolp:=ProductPlane(img, "AoLP")
	wantLP:=float32(math.Hypot(float64(f.U[p]), float64(f.Q[p])))
	wantAoLP:=float32(0.5*math.Atan2(float64(f.U[p]), float64(f.Q[p])))
	if abs32(lp[p]-wantLP)>1e-6 {
		t.Errorf("LP_I[%d]=%v; want %v", p, lp[p], wantLP)
	}
	if abs32(aolp[p]-wantAoLP)>1e-6 {
		t.Errorf("AoLP[%d]=%v; want %v", p, aolp[p], wantAoLP)
	}
}

func TestAssembleProductIdempotent(t *testing.T) {
	f:=testStokesFrame(4, 4)
	a:=AssembleProduct(f, 0.1, nil)
	b:=AssembleProduct(f, 0.1, nil)
	for p:=range a.Data {
		if a.Data[p]!=b.Data[p] {
			t.Fatalf("Data[%d] differs: %v != %v", p, a.Data[p], b.Data[p])
		}
	}
}

func TestProductPlaneNames(t *testing.T) {
	f:=testStokesFrame(3, 3)
	img:=AssembleProduct(f, 0, nil)
	for _, name:=range []string{"I", "Q", "U", "Qphi", "Uphi", "LP_I", "AoLP"} {
		if plane:=ProductPlane(img, name); len(plane)!=9 {
			t.Errorf("plane %s has %d pixels; want 9", name, len(plane))
		}
	}
	if plane:=ProductPlane(img, "V"); plane!=nil {
		t.Errorf("plane V=%v; want nil", plane)
	}
	if plane:=ProductPlane(img, "I"); plane[4]!=f.I[4] {
		t.Errorf("I[4]=%v; want %v", plane[4], f.I[4])
	}
}
