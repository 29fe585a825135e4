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
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/astropol/polarlight/internal/fits"
)

// writes one cycle of synthetic frame files into dir and returns their names
func writeCycleFiles(t *testing.T, dir string, q, u float32) []string {
	t.Helper()
	frames:=syntheticCycle(t, FrameRecord{Camera: 1, Filter: "Open", IMRPAD: -PupilOffset}, q, u)
	names:=make([]string, len(frames))
	for i, f:=range frames {
		pixels:=len(f.Summ)
		data:=make([]float32, 2*pixels)
		copy(data[:pixels], f.Summ)
		copy(data[pixels:], f.Diff)
		img:=fits.NewImageFromNaxisn([]int32{f.Width, int32(pixels)/f.Width, 2}, data)
		img.Header.Ints["U_CAMERA"]=f.Camera
		img.Header.Ints["U_FLCSTT"]=f.FLCState
		img.Header.Floats["U_HWPANG"]=f.HWPAngle
		img.Header.Strings["U_FILTER"]=f.Filter
		img.Header.Floats["D_IMRPAD"]=f.IMRPAD
		img.Header.Floats["D_IMRPAP"]=f.IMRPAP
		img.Header.Floats["D_IMRANG"]=f.IMRAngle
		img.Header.Floats["ALTITUDE"]=f.Altitude
		img.Header.Floats["U_QWP1"]=f.QWP1
		img.Header.Floats["U_QWP2"]=f.QWP2
		names[i]=filepath.Join(dir, fmt.Sprintf("frame%02d.fits", i))
		if err:=img.WriteFile(names[i]); err!=nil {
			t.Fatalf("writing %s: %v", names[i], err)
		}
	}
	return names
}

func TestRunJobEndToEnd(t *testing.T) {
	dir:=t.TempDir()
	names:=writeCycleFiles(t, dir, 0.05, 0.02)
	outName:=filepath.Join(dir, "stokes.fits")
	job:=&Job{FileNames: names, IPMode: IPModeNone, OutName: outName, JPG: true, TIFF: true}
	c:=&Context{Log: io.Discard, MemoryMB: 1024, MaxThreads: 2, Method: MethodTripleDiff, ApplyCrosstalk: true}

	res, err:=RunJob(job, c)
	if err!=nil { t.Fatalf("RunJob: %v", err) }
	if res.Cube.NumCycles!=1 { t.Fatalf("numCycles=%d; want 1", res.Cube.NumCycles) }

	// interior pixels survive the zero-angle derotation unchanged
	p:=int32(1)*res.Frame.Width+1
	if abs32(res.Frame.Q[p]-0.05)>1e-4 {
		t.Errorf("Q=%v; want 0.05", res.Frame.Q[p])
	}
	if abs32(res.Frame.U[p]-0.02)>1e-4 {
		t.Errorf("U=%v; want 0.02", res.Frame.U[p])
	}

	// the product round trips through the file
	img, err:=fits.NewImageFromFile(outName, 0, io.Discard)
	if err!=nil { t.Fatalf("reading product: %v", err) }
	if s, _:=img.Header.String("STOKES"); s!=ProductPlanes {
		t.Errorf("STOKES=%q; want %q", s, ProductPlanes)
	}
	if len(img.Naxisn)!=3 || img.Naxisn[2]!=7 {
		t.Errorf("naxisn=%v; want 7 planes", img.Naxisn)
	}

	// previews derive their names from the output path
	for _, name:=range []string{"stokes_aolp.jpg", "stokes_i.jpg", "stokes_qphi.tiff"} {
		if _, err:=os.Stat(filepath.Join(dir, name)); err!=nil {
			t.Errorf("missing preview %s: %v", name, err)
		}
	}
}

func TestRunJobAperture(t *testing.T) {
	dir:=t.TempDir()
	names:=writeCycleFiles(t, dir, 0.05, 0)
	job:=&Job{FileNames: names, IPMode: IPModeAperture, IPRadius: 1.5}
	c:=&Context{Log: io.Discard, MemoryMB: 1024, MaxThreads: 2, Method: MethodTripleDiff, ApplyCrosstalk: true}

	res, err:=RunJob(job, c)
	if err!=nil { t.Fatalf("RunJob: %v", err) }
	// the source is uniform, so the aperture measures the full signal and
	// the correction removes it
	if abs32(res.IP.PQ-0.025)>1e-4 {
		t.Errorf("pQ=%v; want 0.025", res.IP.PQ)
	}
	p:=int32(1)*res.Frame.Width+1
	if abs32(res.Frame.Q[p])>1e-4 {
		t.Errorf("corrected Q=%v; want 0", res.Frame.Q[p])
	}
	if v, _:=res.Product.Header.Float("VPP_PQ"); abs32(v-res.IP.PQ)>1e-6 {
		t.Errorf("VPP_PQ=%v; want %v", v, res.IP.PQ)
	}
}

func TestRunJobNoFiles(t *testing.T) {
	c:=&Context{Log: io.Discard, Method: MethodTripleDiff}
	if _, err:=RunJob(&Job{}, c); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err=%v; want ErrInsufficientData", err)
	}
}

func TestRunJobBadIPMode(t *testing.T) {
	dir:=t.TempDir()
	names:=writeCycleFiles(t, dir, 0, 0)
	c:=&Context{Log: io.Discard, Method: MethodTripleDiff}
	if _, err:=RunJob(&Job{FileNames: names, IPMode: "bogus"}, c); err==nil {
		t.Errorf("err=nil; want error for unknown mode")
	}
}

func TestStripExt(t *testing.T) {
	if s:=stripExt("out/stokes.fits"); s!="out/stokes" {
		t.Errorf("s=%q; want out/stokes", s)
	}
	if s:=stripExt("stokes.fits.gz"); s!="stokes" {
		t.Errorf("s=%q; want stokes", s)
	}
}

func TestPhiDegrees(t *testing.T) {
	if d:=PhiDegrees(float32(math.Pi)); abs32(d-180)>1e-4 {
		t.Errorf("d=%v; want 180", d)
	}
}
