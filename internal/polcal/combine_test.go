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
	"math"
	"testing"
)

const testWidth, testHeight = 4, 4

// Builds one 16-frame acquisition cycle observing a uniform source with the
// given fractional Stokes q and u. The differenced planes are filled from
// each frame's own camera-difference model matrix, so the cycle is
// self-consistent for any instrument articulation carried by base
func syntheticCycle(t *testing.T, base FrameRecord, q, u float32) []*FrameRecord {
	t.Helper()
	pixels:=testWidth*testHeight
	frames:=[]*FrameRecord{}
	for _, ang:=range [4]float32{0, 45, 22.5, 67.5} {
		for i:=0; i<4; i++ {
			f:=base
			f.HWPAngle=ang
			f.FLCState=int32(1+(i&1))
			f.Width=testWidth
			f.Summ=make([]float32, pixels)
			f.Diff=make([]float32, pixels)
			m, err:=f.DiffMuellerMatrix()
			if err!=nil { t.Fatalf("model: %v", err) }
			d:=float32(m.At(0, 0))+float32(m.At(0, 1))*q+float32(m.At(0, 2))*u
			for p:=0; p<pixels; p++ {
				f.Summ[p]=2
				f.Diff[p]=d
			}
			frames=append(frames, &f)
		}
	}
	return frames
}

func TestCombineCycleZeroDiff(t *testing.T) {
	frames:=syntheticCycle(t, FrameRecord{Camera: 1, Filter: "Open"}, 0, 0)
	c:=&Context{Method: MethodTripleDiff}
	cs, err:=CombineCycle(frames, c)
	if err!=nil { t.Fatalf("CombineCycle: %v", err) }
	for p:=range cs.I {
		if cs.I[p]!=2 { t.Fatalf("I[%d]=%v; want 2", p, cs.I[p]) }
		if abs32(cs.Q[p])>1e-6 || abs32(cs.U[p])>1e-6 {
			t.Fatalf("Q[%d]=%v U[%d]=%v; want 0", p, cs.Q[p], p, cs.U[p])
		}
	}
	if cs.Degenerate { t.Errorf("degenerate=true; want false") }
}

func TestCombineCycleRecoversStokes(t *testing.T) {
	frames:=syntheticCycle(t, FrameRecord{Camera: 1, Filter: "Open"}, 0.05, 0.02)
	c:=&Context{Method: MethodTripleDiff, ApplyCrosstalk: true}
	cs, err:=CombineCycle(frames, c)
	if err!=nil { t.Fatalf("CombineCycle: %v", err) }
	if cs.Degenerate { t.Fatalf("degenerate=true; want false") }
	for p:=range cs.Q {
		if abs32(cs.Q[p]-0.05)>1e-5 {
			t.Fatalf("Q[%d]=%v; want 0.05", p, cs.Q[p])
		}
		if abs32(cs.U[p]-0.02)>1e-5 {
			t.Fatalf("U[%d]=%v; want 0.02", p, cs.U[p])
		}
	}
}

// Same recovery with the instrument fully articulated and a narrowband
// filter, exercising the whole model chain
func TestCombineCycleRecoversStokesArticulated(t *testing.T) {
	base:=FrameRecord{
		Camera: 1, Filter: "750-50",
		IMRPAD: 10, IMRPAP: 161.35211, IMRAngle: 34.950426,
		Altitude: 68.754935, QWP1: 9.981135, QWP2: 4.996402,
	}
	frames:=syntheticCycle(t, base, 0.05, 0.02)
	c:=&Context{Method: MethodTripleDiff, ApplyCrosstalk: true}
	cs, err:=CombineCycle(frames, c)
	if err!=nil { t.Fatalf("CombineCycle: %v", err) }
	if cs.Degenerate { t.Fatalf("degenerate=true; want false") }
	for p:=range cs.Q {
		if abs32(cs.Q[p]-0.05)>1e-4 || abs32(cs.U[p]-0.02)>1e-4 {
			t.Fatalf("Q[%d]=%v U[%d]=%v; want 0.05 0.02", p, cs.Q[p], p, cs.U[p])
		}
	}
}

// Without crosstalk application the Q/U planes keep the raw differential
// efficiency scaling, but the corrected planes are still available
func TestCombineCycleKeepsUncorrectedByDefault(t *testing.T) {
	frames:=syntheticCycle(t, FrameRecord{Camera: 1, Filter: "Open"}, 0.05, 0)
	c:=&Context{Method: MethodTripleDiff}
	cs, err:=CombineCycle(frames, c)
	if err!=nil { t.Fatalf("CombineCycle: %v", err) }
	if abs32(cs.Q[0]-0.099282583)>1e-5 {
		t.Errorf("Q[0]=%v; want 0.099282583", cs.Q[0])
	}
	if cs.QCorr==nil || abs32(cs.QCorr[0]-0.05)>1e-5 {
		t.Errorf("QCorr[0]=%v; want 0.05", cs.QCorr)
	}
}

func TestCombineCycleMalformed(t *testing.T) {
	frames:=syntheticCycle(t, FrameRecord{Camera: 1, Filter: "Open"}, 0, 0)
	if _, err:=CombineCycle(frames[:7], &Context{}); !errors.Is(err, ErrMalformedCycle) {
		t.Errorf("err=%v; want ErrMalformedCycle", err)
	}
	for _, f:=range frames { f.HWPAngle=0 } // all frames at one HWP angle
	if _, err:=CombineCycle(frames, &Context{}); !errors.Is(err, ErrMalformedCycle) {
		t.Errorf("err=%v; want ErrMalformedCycle", err)
	}
}

func TestCombineCycleDoesNotMutateInputs(t *testing.T) {
	frames:=syntheticCycle(t, FrameRecord{Camera: 1, Filter: "Open"}, 0.05, 0.02)
	before:=make([]float32, len(frames[0].Diff))
	copy(before, frames[0].Diff)
	if _, err:=CombineCycle(frames, &Context{ApplyCrosstalk: true}); err!=nil {
		t.Fatalf("CombineCycle: %v", err)
	}
	for p:=range before {
		if frames[0].Diff[p]!=before[p] {
			t.Fatalf("Diff[%d] mutated from %v to %v", p, before[p], frames[0].Diff[p])
		}
	}
}

func TestCombineCycleDerotAngle(t *testing.T) {
	base:=FrameRecord{Camera: 1, Filter: "Open", IMRPAD: 30}
	frames:=syntheticCycle(t, base, 0, 0)
	cs, err:=CombineCycle(frames, &Context{})
	if err!=nil { t.Fatalf("CombineCycle: %v", err) }
	want:=30+PupilOffset
	if abs32(cs.DerotAngle-want)>1e-3 && abs32(cs.DerotAngle-want+360)>1e-3 {
		t.Errorf("derot=%v; want %v", cs.DerotAngle, want)
	}
}

func abs32(x float32) float32 {
	return float32(math.Abs(float64(x)))
}

// Swapping the two FLC frames of every exposure pair flips the alternation
// phase; the combiner groups by state, so recovery must be unchanged
func TestCombineCycleFLCPhaseFlipped(t *testing.T) {
	frames:=syntheticCycle(t, FrameRecord{Camera: 1, Filter: "Open"}, 0.05, 0.02)
	for i:=0; i+1<len(frames); i+=2 {
		frames[i], frames[i+1]=frames[i+1], frames[i]
	}
	c:=&Context{Method: MethodTripleDiff, ApplyCrosstalk: true}
	cs, err:=CombineCycle(frames, c)
	if err!=nil { t.Fatalf("CombineCycle: %v", err) }
	if abs32(cs.Q[0]-0.05)>1e-5 || abs32(cs.U[0]-0.02)>1e-5 {
		t.Errorf("Q=%v U=%v; want 0.05 0.02", cs.Q[0], cs.U[0])
	}
}
