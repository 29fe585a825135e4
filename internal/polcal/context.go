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
	"io"
	"runtime"
	"github.com/pbnjay/memory"
)

// Differencing method for Stokes-cube construction
type Method int

const (
	// 16-frame cycles, double difference across FLC states nested inside a
	// second difference across HWP angle pairs
	MethodTripleDiff Method = iota
	// 8-frame cycles, the FLC double difference is the final Q/U
	MethodDoubleDiff
)

func (m Method) String() string {
	switch m {
	case MethodTripleDiff: return "triplediff"
	case MethodDoubleDiff: return "doublediff"
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// Frames per HWP state for the method's acquisition cycle
func (m Method) FramesPerState() int {
	if m==MethodDoubleDiff { return 2 }
	return 4
}

// Frames per complete acquisition cycle
func (m Method) CycleLength() int { return 4*m.FramesPerState() }

func ParseMethod(s string) (Method, error) {
	switch s {
	case "triplediff": return MethodTripleDiff, nil
	case "doublediff": return MethodDoubleDiff, nil
	}
	return 0, fmt.Errorf("unknown differencing method %q", s)
}

// Derotation offset between the image rotator pupil angle and the detector,
// in degrees. Instrument constant
const PupilOffset float32 = 140.4

// An execution context for the polarimetric pipeline stages. Stages read
// from the context and return their outputs; they never store state in it
type Context struct {
	Log            io.Writer
	MemoryMB       int    // memory.TotalMemory()/1024/1024
	MaxThreads     int    // upper limit on parallel cycle tasks
	Method         Method
	ApplyCrosstalk bool   // store crosstalk-corrected Q/U instead of uncorrected
}

// cycleThreads bounds parallel cycle reductions by both CPU count and the
// working set of a single cycle (input planes plus intermediates)
func (c *Context) cycleThreads(width, height int32) int {
	threads:=c.MaxThreads
	if threads<1 { threads=1 }
	cycleMB:=int(int64(width)*int64(height)*4*int64(4*c.Method.CycleLength())/1024/1024)+1
	if c.MemoryMB>0 && threads>c.MemoryMB/cycleMB {
		threads=c.MemoryMB/cycleMB
		if threads<1 { threads=1 }
	}
	return threads
}

func NewContext(log io.Writer, method Method) *Context {
	memoryMB:=int(memory.TotalMemory()/1024/1024)
	return &Context{
		Log        : log,
		MemoryMB   : memoryMB,
		MaxThreads : runtime.GOMAXPROCS(0),
		Method     : method,
	}
}
