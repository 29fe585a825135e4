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
)

type diffKey struct {
	hwp float32
	flc int32
}

// One cycle's Stokes estimate with its diagnostic model matrices
type CycleStokes struct {
	Width      int32
	I, Q, U    []float32
	MQ, MU     *mat.Dense // differenced model matrices for the Q and U paths
	QCorr, UCorr []float32 // crosstalk-corrected planes, nil when degenerate
	Degenerate bool       // crosstalk system was singular; corrected planes unavailable
	DerotAngle float32    // circular mean derotation angle of the cycle, degrees
}

// CombineCycle reduces one validated acquisition cycle of 8 frames
// (double difference) or 16 frames (triple difference) to a single Stokes
// estimate. Input frames are never mutated.
//
// The modeled instrumental polarization leakage (MQ[1,0], MU[2,0]) is
// always subtracted. The crosstalk-corrected planes are always computed
// for diagnostics, but stored as the cycle's Q/U only when
// c.ApplyCrosstalk is set; the uncorrected planes are the reference
// behavior.
func CombineCycle(frames []*FrameRecord, c *Context) (*CycleStokes, error) {
	if len(frames)!=8 && len(frames)!=16 {
		return nil, fmt.Errorf("%w: %d frames, need 8 or 16", ErrMalformedCycle, len(frames))
	}
	perKey:=len(frames)/8
	width:=frames[0].Width
	pixels:=len(frames[0].Summ)

	// group by (HWP angle, FLC state); mean-combine multiple frames per key
	summs:=map[diffKey][]float32{}
	diffs:=map[diffKey][]float32{}
	matrices:=map[diffKey]*mat.Dense{}
	counts:=map[diffKey]int{}
	for i, f:=range frames {
		if len(f.Summ)!=pixels || len(f.Diff)!=pixels {
			return nil, fmt.Errorf("%w: frame %d has %d pixels, expected %d", ErrMalformedCycle, i, len(f.Summ), pixels)
		}
		m, err:=f.DiffMuellerMatrix()
		if err!=nil { return nil, fmt.Errorf("frame %d: %w", i, err) }

		key:=diffKey{hwp: f.HWPAngle, flc: f.FLCState}
		if counts[key]==0 {
			summs[key]=append([]float32(nil), f.Summ...)
			diffs[key]=append([]float32(nil), f.Diff...)
			matrices[key]=m
		} else {
			addInto(summs[key], f.Summ)
			addInto(diffs[key], f.Diff)
			matrices[key].Add(matrices[key], m)
		}
		counts[key]++
	}
	for _, ang:=range canonicalHWPAngles {
		for flc:=int32(1); flc<=2; flc++ {
			key:=diffKey{hwp: ang, flc: flc}
			if counts[key]!=perKey {
				return nil, fmt.Errorf("%w: %d frames for HWP %g FLC %d, need %d",
					ErrMalformedCycle, counts[key], ang, flc, perKey)
			}
			if perKey>1 {
				scaleInto(summs[key], 1/float32(perKey))
				scaleInto(diffs[key], 1/float32(perKey))
				matrices[key].Scale(1/float64(perKey), matrices[key])
			}
		}
	}

	// double difference within each HWP angle (FLC state 1 - FLC state 2)
	pQ :=halfDiff(diffs[diffKey{0, 1}],    diffs[diffKey{0, 2}])
	pIQ:=halfSum (summs[diffKey{0, 1}],    summs[diffKey{0, 2}])
	mPQ:=halfDiffMat(matrices[diffKey{0, 1}], matrices[diffKey{0, 2}])

	mQ :=halfDiff(diffs[diffKey{45, 1}],   diffs[diffKey{45, 2}])
	mIQ:=halfSum (summs[diffKey{45, 1}],   summs[diffKey{45, 2}])
	mMQ:=halfDiffMat(matrices[diffKey{45, 1}], matrices[diffKey{45, 2}])

	pU :=halfDiff(diffs[diffKey{22.5, 1}], diffs[diffKey{22.5, 2}])
	pIU:=halfSum (summs[diffKey{22.5, 1}], summs[diffKey{22.5, 2}])
	mPU:=halfDiffMat(matrices[diffKey{22.5, 1}], matrices[diffKey{22.5, 2}])

	mU :=halfDiff(diffs[diffKey{67.5, 1}], diffs[diffKey{67.5, 2}])
	mIU:=halfSum (summs[diffKey{67.5, 1}], summs[diffKey{67.5, 2}])
	mMU:=halfDiffMat(matrices[diffKey{67.5, 1}], matrices[diffKey{67.5, 2}])

	var q, u, iq, iu []float32
	var matQ, matU *mat.Dense
	if perKey==2 {
		// triple difference across the HWP angle pairs
		q, iq, matQ=halfDiff(pQ, mQ), halfSum(pIQ, mIQ), halfDiffMat(mPQ, mMQ)
		u, iu, matU=halfDiff(pU, mU), halfSum(pIU, mIU), halfDiffMat(mPU, mMU)
	} else {
		// double difference only: the FLC differences are the final Q/U.
		// All four angles still contribute to intensity
		q, iq, matQ=pQ, halfSum(pIQ, mIQ), mPQ
		u, iu, matU=pU, halfSum(pIU, mIU), mPU
	}
	intensity:=halfSum(iq, iu)

	// first-order IP correction with the modeled leakage terms
	leakQ:=float32(matQ.At(1, 0))
	leakU:=float32(matU.At(2, 0))
	for i:=range q {
		q[i]-=leakQ*intensity[i]
		u[i]-=leakU*intensity[i]
	}

	res:=&CycleStokes{
		Width: width,
		I: intensity, Q: q, U: u,
		MQ: matQ, MU: matU,
	}

	// crosstalk correction: un-mix the residual Q<->U coupling predicted by
	// the model, solving MQU * [qCorr; uCorr] = [q; u] per pixel
	mqu:=mat.NewDense(2, 2, []float64{
		matQ.At(0, 1), matQ.At(0, 2),
		matU.At(0, 1), matU.At(0, 2),
	})
	var inv mat.Dense
	if err:=inv.Inverse(mqu); err!=nil {
		res.Degenerate=true
		if c.Log!=nil {
			fmt.Fprintf(c.Log, "%v, keeping uncorrected Q/U: %v\n", ErrNumericalDegeneracy, err)
		}
	} else {
		a, b:=float32(inv.At(0, 0)), float32(inv.At(0, 1))
		d, e:=float32(inv.At(1, 0)), float32(inv.At(1, 1))
		res.QCorr=make([]float32, pixels)
		res.UCorr=make([]float32, pixels)
		for i:=range q {
			res.QCorr[i]=a*q[i]+b*u[i]
			res.UCorr[i]=d*q[i]+e*u[i]
		}
		if c.ApplyCrosstalk {
			res.Q, res.U=res.QCorr, res.UCorr
		}
	}

	derot:=make([]float32, len(frames))
	for i, f:=range frames {
		derot[i]=f.DerotAngle()
	}
	res.DerotAngle=AverageAngle(derot)
	return res, nil
}

func halfSum(a, b []float32) []float32 {
	res:=make([]float32, len(a))
	for i:=range a { res[i]=0.5*(a[i]+b[i]) }
	return res
}

func halfDiff(a, b []float32) []float32 {
	res:=make([]float32, len(a))
	for i:=range a { res[i]=0.5*(a[i]-b[i]) }
	return res
}

func halfDiffMat(a, b *mat.Dense) *mat.Dense {
	res:=mat.NewDense(4, 4, nil)
	res.Sub(a, b)
	res.Scale(0.5, res)
	return res
}

func addInto(dst, src []float32) {
	for i:=range dst { dst[i]+=src[i] }
}

func scaleInto(dst []float32, s float32) {
	for i:=range dst { dst[i]*=s }
}
