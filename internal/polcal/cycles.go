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

// The canonical HWP angle sequence of one modulation cycle, degrees.
// The 0/45 pair measures Q, the 22.5/67.5 pair measures U
var canonicalHWPAngles=[4]float32{0, 45, 22.5, 67.5}

// FindCycles scans the time-sorted state sequence for complete HWP
// modulation cycles of n frames per HWP state (n is 2 or 4) and returns the
// starting index of every cycle found, in time order. A cycle at index i
// spans the 4n frames [i, i+4n).
//
// The scan slides a window of length 4n: a window forming one complete
// cycle is consumed whole and the scan continues after it; otherwise the
// window advances by a single frame. The scan never backtracks, so one
// corrupted frame voids its entire window. This is intentional: a missed
// HWP step desynchronizes the whole modulation cycle on the instrument, and
// frames from desynchronized windows must not be combined.
//
// An empty result means no complete cycle exists; callers must treat that
// as fatal for the polarimetric stage before invoking the combiner.
func FindCycles(states []FrameState, n int) []int {
	cycleLen:=4*n

	starts:=[]int{}
	idx:=0
	for idx<=len(states)-cycleLen {
		if matchesCycle(states[idx:idx+cycleLen], n) {
			starts=append(starts, idx)
			idx+=cycleLen
		} else {
			idx++
		}
	}
	return starts
}

// matchesCycle reports whether the window forms one complete modulation
// cycle: each canonical HWP angle held for n frames, with the FLC toggling
// between its two states on every frame. Either alternation phase is
// accepted; the combiner groups frames by state, not by position
func matchesCycle(window []FrameState, n int) bool {
	phase:=window[0].FLCState
	if phase!=1 && phase!=2 { return false }
	for i, s:=range window {
		if s.HWPAngle!=canonicalHWPAngles[i/n] { return false }
		want:=phase
		if i&1==1 { want=3-phase }
		if s.FLCState!=want { return false }
	}
	return true
}
