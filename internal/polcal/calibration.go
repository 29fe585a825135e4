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

	"gonum.org/v1/gonum/mat"

	"github.com/astropol/polarlight/internal/fits"
)

// MuellerMatrixImage packs the camera-difference model matrix of every
// frame into a 4x4xN FITS cube for diagnostics
func MuellerMatrixImage(frames []*FrameRecord) (*fits.Image, error) {
	if len(frames)==0 { return nil, fmt.Errorf("%w: no frames", ErrInsufficientData) }
	data:=make([]float32, 16*len(frames))
	for i, f:=range frames {
		m, err:=f.DiffMuellerMatrix()
		if err!=nil { return nil, fmt.Errorf("frame %d: %w", i, err) }
		for row:=0; row<4; row++ {
			for col:=0; col<4; col++ {
				data[i*16+row*4+col]=float32(m.At(row, col))
			}
		}
	}
	img:=fits.NewImageFromNaxisn([]int32{4, 4, int32(len(frames))}, data)
	img.Header.Strings["CONTENT"]="MUELLER"
	img.Header.History=append(img.Header.History,
		fmt.Sprintf("camera-difference model matrices for %d frames", len(frames)))
	return img, nil
}

// CalibrationSolve estimates the incident Stokes vector per pixel by
// least squares over the whole frame sequence: each frame contributes one
// equation diff = m0 . s, where m0 is the intensity row of its
// camera-difference model matrix. This bypasses cycle grouping entirely
// and works on any frame set that spans enough modulation states.
//
// The camera difference cancels intensity, so the system is solved over
// the polarized components only; columns the frame set never modulates
// are excluded and their components reported as zero. Intensity is the
// mean of the summed planes halved (both beams together see the full
// intensity). A frame set whose active columns are linearly dependent
// fails with ErrNumericalDegeneracy
func CalibrationSolve(frames []*FrameRecord, c *Context) (*StokesFrame, error) {
	if len(frames)<4 {
		return nil, fmt.Errorf("%w: %d frames, need at least 4 for a Stokes solve", ErrInsufficientData, len(frames))
	}
	width:=frames[0].Width
	pixels:=len(frames[0].Summ)
	height:=int32(pixels)/width

	// intensity row of the camera-difference matrix per frame, columns
	// Q, U, V
	rows:=mat.NewDense(len(frames), 3, nil)
	for i, f:=range frames {
		if len(f.Diff)!=pixels || len(f.Summ)!=pixels {
			return nil, fmt.Errorf("%w: frame %d has %d pixels, expected %d", ErrMalformedCycle, i, len(f.Diff), pixels)
		}
		m, err:=f.DiffMuellerMatrix()
		if err!=nil { return nil, fmt.Errorf("frame %d: %w", i, err) }
		for col:=0; col<3; col++ {
			rows.Set(i, col, m.At(0, col+1))
		}
	}

	// exclude columns the modulation never reaches
	const activeTol=1e-9
	active:=[]int{}
	for col:=0; col<3; col++ {
		for i:=0; i<len(frames); i++ {
			if v:=rows.At(i, col); v>activeTol || v< -activeTol {
				active=append(active, col)
				break
			}
		}
	}
	if len(active)==0 {
		return nil, fmt.Errorf("%w: frame set carries no polarized modulation", ErrNumericalDegeneracy)
	}
	a:=mat.NewDense(len(frames), len(active), nil)
	for i:=0; i<len(frames); i++ {
		for j, col:=range active {
			a.Set(i, j, rows.At(i, col))
		}
	}
	var qr mat.QR
	qr.Factorize(a)

	res:=&StokesFrame{Width: width, Height: height,
		I: make([]float32, pixels), Q: make([]float32, pixels), U: make([]float32, pixels)}
	b:=mat.NewVecDense(len(frames), nil)
	var x mat.VecDense
	for p:=0; p<pixels; p++ {
		var summ float64
		for i, f:=range frames {
			b.SetVec(i, float64(f.Diff[p]))
			summ+=float64(f.Summ[p])
		}
		if err:=qr.SolveVecTo(&x, false, b); err!=nil {
			return nil, fmt.Errorf("%w: %v", ErrNumericalDegeneracy, err)
		}
		for j, col:=range active {
			switch col {
			case 0: res.Q[p]=float32(x.AtVec(j))
			case 1: res.U[p]=float32(x.AtVec(j))
			}
		}
		res.I[p]=float32(summ/float64(2*len(frames)))
	}
	if c.Log!=nil {
		fmt.Fprintf(c.Log, "solved Stokes vector for %d pixels from %d frames (%d active components)\n",
			pixels, len(frames), len(active))
	}
	return res, nil
}
