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
	"path/filepath"

	"github.com/astropol/polarlight/internal/fits"
	"github.com/astropol/polarlight/internal/qsort"
	"github.com/astropol/polarlight/internal/stats"
)

// Instrumental polarization measurement modes for a reduction job
const (
	IPModeNone     = "none"     // skip empirical correction, modeled leakage only
	IPModeAperture = "aperture" // measure in a central aperture
	IPModeSpots    = "spots"    // measure on the four calibration satellite spots
)

// A Job describes one end-to-end reduction of a frame sequence to a
// Stokes product
type Job struct {
	FileNames []string

	IPMode       string  // one of the IPMode constants
	IPRadius     float32 // aperture radius in pixels
	IPSeparation float32 // satellite spot separation in pixels, spots mode only

	Phi         float32 // radial Stokes phase offset in radians
	OptimizePhi bool    // ignore Phi and minimize the aperture Uphi signal instead

	OutName string // output FITS path; previews derive their names from it
	JPG     bool   // write an AoLP false-color preview
	TIFF    bool   // write a 16-bit Qphi preview
}

// The outcome of a reduction job
type JobResult struct {
	Cube    *StokesCube
	Frame   *StokesFrame
	IP      IPCoefficients
	Phi     float32
	Product *fits.Image
}

// RunJob executes the full reduction: load and validate the frames, build
// the per-cycle Stokes cube, optionally measure and subtract empirical
// instrumental polarization, collapse, and assemble the 7-plane product.
// Output files are written only when OutName is set
func RunJob(job *Job, c *Context) (*JobResult, error) {
	if len(job.FileNames)==0 {
		return nil, fmt.Errorf("%w: no input files", ErrInsufficientData)
	}
	frames:=make([]*FrameRecord, 0, len(job.FileNames))
	for id, name:=range job.FileNames {
		img, err:=fits.NewImageFromFile(name, id, c.Log)
		if err!=nil { return nil, err }
		f, err:=FrameFromImage(img)
		if err!=nil { return nil, fmt.Errorf("%s: %w", name, err) }
		frames=append(frames, f)
	}
	if c.Log!=nil {
		fmt.Fprintf(c.Log, "loaded %d frames of %dx%d\n", len(frames), frames[0].Width,
			int32(len(frames[0].Summ))/frames[0].Width)
	}

	cube, err:=BuildStokesCube(frames, c)
	if err!=nil { return nil, err }
	res:=&JobResult{Cube: cube}

	switch job.IPMode {
	case "", IPModeNone:
		// modeled leakage was already removed per cycle
	case IPModeAperture, IPModeSpots:
		frame:=cube.Collapse()
		var pq, pu float32
		if job.IPMode==IPModeAperture {
			pq, err=MeasureInstpol(frame.Q, frame.I, cube.Width, cube.Height, job.IPRadius)
			if err==nil {
				pu, err=MeasureInstpol(frame.U, frame.I, cube.Width, cube.Height, job.IPRadius)
			}
		} else {
			pq, err=MeasureInstpolSpots(frame.Q, frame.I, cube.Width, cube.Height, job.IPRadius, job.IPSeparation, nil)
			if err==nil {
				pu, err=MeasureInstpolSpots(frame.U, frame.I, cube.Width, cube.Height, job.IPRadius, job.IPSeparation, nil)
			}
		}
		if err!=nil { return nil, err }
		res.IP=IPCoefficients{PQ: pq, PU: pu}
		if c.Log!=nil {
			fmt.Fprintf(c.Log, "instrumental polarization pQ=%.5f pU=%.5f (%s)\n", pq, pu, job.IPMode)
		}
		res.Cube=cube.InstpolCorrect(res.IP)
	default:
		return nil, fmt.Errorf("unknown instrumental polarization mode %q", job.IPMode)
	}

	res.Frame=res.Cube.Collapse()

	res.Phi=job.Phi
	if job.OptimizePhi {
		radius:=job.IPRadius
		if radius<=0 { radius=float32(cube.Width)/4 }
		phi, err:=OptimizeUphi(res.Frame.Q, res.Frame.U, cube.Width, cube.Height, radius)
		if err!=nil { return nil, err }
		res.Phi=phi
		if c.Log!=nil {
			fmt.Fprintf(c.Log, "optimized radial Stokes offset phi=%.5f rad\n", phi)
		}
	}

	var ip *IPCoefficients
	if job.IPMode==IPModeAperture || job.IPMode==IPModeSpots { ip=&res.IP }
	res.Product=AssembleProduct(res.Frame, res.Phi, ip)
	ProductHistory(res.Product, res.Cube)
	if c.Log!=nil {
		fmt.Fprintf(c.Log, "total flux %.5g, linearly polarized %.5g\n",
			stats.NaNSum(res.Frame.I), stats.NaNSum(ProductPlane(res.Product, "LP_I")))
	}

	if job.OutName!="" {
		if err:=res.Product.WriteFile(job.OutName); err!=nil { return nil, err }
		if c.Log!=nil { fmt.Fprintf(c.Log, "wrote %s\n", job.OutName) }
		if job.JPG {
			name:=stripExt(job.OutName)+"_aolp.jpg"
			aolp:=ProductPlane(res.Product, "AoLP")
			lp:=ProductPlane(res.Product, "LP_I")
			lpStats:=stats.NewStats(lp)
			if err:=fits.WritePolarizationJPGToFile(name, aolp, lp, cube.Width, lpStats.Max, 95); err!=nil {
				return nil, err
			}
			if c.Log!=nil { fmt.Fprintf(c.Log, "wrote %s\n", name) }

			name=stripExt(job.OutName)+"_i.jpg"
			iImg:=fits.NewImageFromNaxisn([]int32{cube.Width, cube.Height}, res.Frame.I)
			// first quartile as black point, otherwise the stretch is
			// a function of the single darkest pixel. QSelect cannot
			// take NaNs, so out-of-frame pixels go first
			tmp:=make([]float32, 0, len(res.Frame.I))
			for _, v:=range res.Frame.I {
				if !math.IsNaN(float64(v)) { tmp=append(tmp, v) }
			}
			black:=iImg.Stats.Min
			if len(tmp)>0 { black=qsort.QSelectFirstQuartileFloat32(tmp) }
			if err:=iImg.WriteMonoJPGToFile(name, black, iImg.Stats.Max, 1.0, 95); err!=nil {
				return nil, err
			}
			if c.Log!=nil { fmt.Fprintf(c.Log, "wrote %s\n", name) }
		}
		if job.TIFF {
			name:=stripExt(job.OutName)+"_qphi.tiff"
			qphi:=ProductPlane(res.Product, "Qphi")
			qphiImg:=fits.NewImageFromNaxisn([]int32{cube.Width, cube.Height}, qphi)
			if err:=qphiImg.WriteTIFF16ToFile(name, qphiImg.Stats.Min, qphiImg.Stats.Max, 1.0); err!=nil {
				return nil, err
			}
			if c.Log!=nil { fmt.Fprintf(c.Log, "wrote %s\n", name) }
		}
	}
	return res, nil
}

func stripExt(name string) string {
	ext:=filepath.Ext(name)
	if ext==".gz" {
		name=name[:len(name)-len(ext)]
		ext=filepath.Ext(name)
	}
	return name[:len(name)-len(ext)]
}

// degrees of the phase offset, for logging and headers
func PhiDegrees(phi float32) float32 { return phi*180/float32(math.Pi) }
