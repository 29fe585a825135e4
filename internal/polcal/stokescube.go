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
	"github.com/astropol/polarlight/internal/qsort"
)

// CycleResult pairs one acquisition cycle with its reduction outcome
type CycleResult struct {
	Index  int             // starting frame index of the cycle in the input sequence
	Frames []*FrameRecord
	Stokes *CycleStokes    // nil when Err is set
	Err    error
}

// StokesCube holds per-cycle Stokes planes for a reduced sequence.
// Failed cycles are excluded; NumCycles counts surviving ones only
type StokesCube struct {
	Width, Height int32
	NumCycles     int
	I, Q, U       []float32 // each NumCycles*Height*Width, cycle-major
	DerotAngles   []float32 // degrees, one per surviving cycle
	Results       []CycleResult // all attempted cycles, including failures
}

// StokesFrame is a single collapsed Stokes image
type StokesFrame struct {
	Width, Height int32
	I, Q, U       []float32
}

// BuildStokesCube scans the frame sequence for valid acquisition cycles and
// reduces them concurrently into a Stokes cube. Cycles failing to combine are
// logged and dropped; the cube is compacted so surviving cycles are contiguous.
// Returns ErrInsufficientData when no cycle can be found or all of them fail.
func BuildStokesCube(frames []*FrameRecord, c *Context) (*StokesCube, error) {
	if len(frames)==0 { return nil, fmt.Errorf("%w: empty frame sequence", ErrInsufficientData) }
	states:=make([]FrameState, len(frames))
	for i, f:=range frames { states[i]=f.State() }
	n:=c.Method.FramesPerState()
	starts:=FindCycles(states, n)
	if len(starts)==0 {
		return nil, fmt.Errorf("%w: no %s cycle in %d frames", ErrInsufficientData, c.Method, len(frames))
	}
	cycleLen:=c.Method.CycleLength()
	width:=frames[0].Width
	height:=int32(len(frames[0].Summ))/width

	results:=make([]CycleResult, len(starts))
	limiter:=make(chan bool, c.cycleThreads(width, height))
	for i, start:=range starts {
		limiter <- true
		go func(i, start int) {
			defer func() { <-limiter }()
			cycle:=frames[start:start+cycleLen]
			st, err:=CombineCycle(cycle, c)
			results[i]=CycleResult{Index: start, Frames: cycle, Stokes: st, Err: err}
		}(i, start)
	}
	for i:=0; i<cap(limiter); i++ {  // wait for goroutines to finish
		limiter <- true
	}

	cube:=&StokesCube{Width: width, Height: height, Results: results}
	for _, r:=range results {
		if r.Err!=nil {
			if c.Log!=nil {
				fmt.Fprintf(c.Log, "dropping cycle at frame %d: %v\n", r.Index, r.Err)
			}
			continue
		}
		cube.I=append(cube.I, r.Stokes.I...)
		cube.Q=append(cube.Q, r.Stokes.Q...)
		cube.U=append(cube.U, r.Stokes.U...)
		cube.DerotAngles=append(cube.DerotAngles, r.Stokes.DerotAngle)
		cube.NumCycles++
	}
	if cube.NumCycles==0 {
		return nil, fmt.Errorf("%w: all %d cycles failed to combine", ErrInsufficientData, len(starts))
	}
	if c.Log!=nil {
		fmt.Fprintf(c.Log, "combined %d of %d cycles into %s Stokes cube\n",
			cube.NumCycles, len(starts), c.Method)
	}
	return cube, nil
}

// Plane returns the given Stokes plane of the given cycle as a subslice
func (cube *StokesCube) Plane(stokes string, cycle int) []float32 {
	pixels:=int(cube.Width)*int(cube.Height)
	var data []float32
	switch stokes {
	case "I": data=cube.I
	case "Q": data=cube.Q
	case "U": data=cube.U
	default:  return nil
	}
	return data[cycle*pixels : (cycle+1)*pixels]
}

// Image wraps one Stokes plane of the cube into a FITS image for export
func (cube *StokesCube) Image(stokes string, cycle int) *fits.Image {
	img:=fits.NewImageFromNaxisn([]int32{cube.Width, cube.Height}, cube.Plane(stokes, cycle))
	img.Header.Strings["STOKES"]=stokes
	img.Header.Floats["DEROTANG"]=cube.DerotAngles[cycle]
	return img
}

// Collapse derotates every cycle to a common sky orientation and median-combines
// them per pixel into a single Stokes frame. Pixels rotated out of frame
// contribute NaN and are excluded from the median
func (cube *StokesCube) Collapse() *StokesFrame {
	res:=&StokesFrame{Width: cube.Width, Height: cube.Height}
	res.I=collapsePlanes(cube.I, cube.Width, cube.Height, cube.DerotAngles)
	res.Q=collapsePlanes(cube.Q, cube.Width, cube.Height, cube.DerotAngles)
	res.U=collapsePlanes(cube.U, cube.Width, cube.Height, cube.DerotAngles)
	return res
}

func collapsePlanes(data []float32, width, height int32, angles []float32) []float32 {
	pixels:=int(width)*int(height)
	numCycles:=len(angles)
	rotated:=make([]float32, numCycles*pixels)
	for cyc:=0; cyc<numCycles; cyc++ {
		plane:=data[cyc*pixels : (cyc+1)*pixels]
		out:=rotated[cyc*pixels : (cyc+1)*pixels]
		derotate(plane, out, width, height, -angles[cyc])
	}

	res:=make([]float32, pixels)
	values:=make([]float32, 0, numCycles)
	for p:=0; p<pixels; p++ {
		values=values[:0]
		for cyc:=0; cyc<numCycles; cyc++ {
			v:=rotated[cyc*pixels+p]
			if v==v { values=append(values, v) }
		}
		if len(values)==0 {
			res[p]=float32(math.NaN())
		} else {
			res[p]=qsort.QSelectMedianFloat32(values)
		}
	}
	return res
}

// derotate rotates src by the given angle in degrees about the image center
// into dst, sampling bilinearly. Samples outside the source become NaN
func derotate(src, dst []float32, width, height int32, degrees float32) {
	theta:=float64(degrees)*math.Pi/180
	sin, cos:=math.Sin(theta), math.Cos(theta)
	cx:=0.5*float64(width-1)
	cy:=0.5*float64(height-1)
	nan:=float32(math.NaN())

	for y:=int32(0); y<height; y++ {
		dy:=float64(y)-cy
		for x:=int32(0); x<width; x++ {
			dx:=float64(x)-cx
			// inverse mapping into the source frame
			sx:=cos*dx+sin*dy+cx
			sy:=-sin*dx+cos*dy+cy
			x0, y0:=int32(math.Floor(sx)), int32(math.Floor(sy))
			if x0<0 || y0<0 || x0+1>=width || y0+1>=height {
				dst[y*width+x]=nan
				continue
			}
			fx:=float32(sx-float64(x0))
			fy:=float32(sy-float64(y0))
			v00:=src[y0*width+x0]
			v01:=src[y0*width+x0+1]
			v10:=src[(y0+1)*width+x0]
			v11:=src[(y0+1)*width+x0+1]
			top:=v00*(1-fx)+v01*fx
			bot:=v10*(1-fx)+v11*fx
			dst[y*width+x]=top*(1-fy)+bot*fy
		}
	}
}
