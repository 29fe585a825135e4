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
	"errors"
	"io"
	"math"
	"testing"
)

func testContext() *Context {
	return &Context{Log: io.Discard, MemoryMB: 1024, MaxThreads: 4, Method: MethodTripleDiff, ApplyCrosstalk: true}
}

func TestBuildStokesCube(t *testing.T) {
	frames:=syntheticCycle(t, FrameRecord{Camera: 1, Filter: "Open"}, 0.05, 0.02)
	frames=append(frames, syntheticCycle(t, FrameRecord{Camera: 1, Filter: "Open"}, 0.01, 0)...)
	cube, err:=BuildStokesCube(frames, testContext())
	if err!=nil { t.Fatalf("BuildStokesCube: %v", err) }
	if cube.NumCycles!=2 { t.Fatalf("numCycles=%d; want 2", cube.NumCycles) }
	if cube.Width!=testWidth || cube.Height!=testHeight {
		t.Fatalf("dims=%dx%d; want %dx%d", cube.Width, cube.Height, testWidth, testHeight)
	}
	if q:=cube.Plane("Q", 0)[0]; abs32(q-0.05)>1e-5 { t.Errorf("cycle 0 Q=%v; want 0.05", q) }
	if q:=cube.Plane("Q", 1)[0]; abs32(q-0.01)>1e-5 { t.Errorf("cycle 1 Q=%v; want 0.01", q) }
	if u:=cube.Plane("U", 0)[0]; abs32(u-0.02)>1e-5 { t.Errorf("cycle 0 U=%v; want 0.02", u) }
}

func TestBuildStokesCubeNoCycles(t *testing.T) {
	frames:=syntheticCycle(t, FrameRecord{Camera: 1, Filter: "Open"}, 0, 0)
	for _, f:=range frames { f.HWPAngle=45 }
	_, err:=BuildStokesCube(frames, testContext())
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err=%v; want ErrInsufficientData", err)
	}
}

func TestBuildStokesCubeEmpty(t *testing.T) {
	if _, err:=BuildStokesCube(nil, testContext()); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err=%v; want ErrInsufficientData", err)
	}
}

// With a zero derotation angle Collapse is the per-pixel median of the
// cycles away from the frame border
func TestCollapseIdentity(t *testing.T) {
	base:=FrameRecord{Camera: 1, Filter: "Open", IMRPAD: -PupilOffset}
	frames:=syntheticCycle(t, base, 0.05, 0)
	cube, err:=BuildStokesCube(frames, testContext())
	if err!=nil { t.Fatalf("BuildStokesCube: %v", err) }
	f:=cube.Collapse()
	for y:=int32(1); y<cube.Height-1; y++ {
		for x:=int32(1); x<cube.Width-1; x++ {
			p:=y*cube.Width+x
			if abs32(f.Q[p]-0.05)>1e-5 {
				t.Fatalf("Q[%d]=%v; want 0.05", p, f.Q[p])
			}
		}
	}
}

// A 180 degree derotation maps interior pixels onto their point reflection
func TestCollapseRotates(t *testing.T) {
	width, height:=int32(5), int32(5)
	pixels:=int(width)*int(height)
	cube:=&StokesCube{Width: width, Height: height, NumCycles: 1,
		I: make([]float32, pixels), Q: make([]float32, pixels), U: make([]float32, pixels),
		DerotAngles: []float32{180},
	}
	cube.Q[1*width+1]=1 // off-center marker
	f:=cube.Collapse()
	if f.Q[3*width+3]!=1 {
		t.Errorf("Q[3,3]=%v; want 1 after 180 degree derotation", f.Q[3*width+3])
	}
	if f.Q[1*width+1]!=0 {
		t.Errorf("Q[1,1]=%v; want 0 after 180 degree derotation", f.Q[1*width+1])
	}
}

func TestCollapseExcludesOutOfFrame(t *testing.T) {
	width, height:=int32(4), int32(4)
	pixels:=int(width)*int(height)
	cube:=&StokesCube{Width: width, Height: height, NumCycles: 2,
		I: make([]float32, 2*pixels), Q: make([]float32, 2*pixels), U: make([]float32, 2*pixels),
		DerotAngles: []float32{0, 45},
	}
	for p:=0; p<pixels; p++ { cube.Q[p]=3 }        // cycle 0, no rotation
	for p:=pixels; p<2*pixels; p++ { cube.Q[p]=7 } // cycle 1, rotated 45 degrees
	f:=cube.Collapse()
	// corner pixels rotate out of frame in cycle 1 and must fall back to
	// the surviving cycle's value rather than NaN
	if v:=f.Q[0]; v!=3 {
		t.Errorf("corner Q=%v; want 3", v)
	}
}

func TestStokesCubeImage(t *testing.T) {
	frames:=syntheticCycle(t, FrameRecord{Camera: 1, Filter: "Open"}, 0.05, 0)
	cube, err:=BuildStokesCube(frames, testContext())
	if err!=nil { t.Fatalf("BuildStokesCube: %v", err) }
	img:=cube.Image("Q", 0)
	if img.Naxisn[0]!=testWidth || img.Naxisn[1]!=testHeight {
		t.Errorf("naxisn=%v; want [%d %d]", img.Naxisn, testWidth, testHeight)
	}
	if s, _:=img.Header.String("STOKES"); s!="Q" {
		t.Errorf("STOKES=%q; want Q", s)
	}
}

func TestDerotateCenterInvariant(t *testing.T) {
	width, height:=int32(5), int32(5)
	src:=make([]float32, 25)
	dst:=make([]float32, 25)
	src[2*width+2]=4
	derotate(src, dst, width, height, 90)
	if dst[2*width+2]!=4 {
		t.Errorf("center=%v; want 4", dst[2*width+2])
	}
	if math.IsNaN(float64(dst[2*width+2])) {
		t.Errorf("center is NaN")
	}
}
