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
	"gonum.org/v1/gonum/mat"
	"github.com/astropol/polarlight/internal/fits"
	"github.com/astropol/polarlight/internal/mueller"
)

// One calibrated exposure: the camera-summed intensity plane, the
// camera-differenced polarization plane, and the acquisition state the
// instrument was in. Owned by the combiner for the duration of one cycle
type FrameRecord struct {
	Camera   int32   // 1 or 2
	FLCState int32   // 1 or 2
	HWPAngle float32 // degrees: 0, 22.5, 45 or 67.5
	Filter   string

	IMRPAD   float32 // image rotator pupil position angle, degrees
	IMRPAP   float32 // image rotator pointing position angle, degrees
	IMRAngle float32 // image rotator angle, degrees
	Altitude float32 // telescope altitude, degrees
	QWP1     float32 // quarter-wave plate angles, degrees
	QWP2     float32

	Width int32
	Summ  []float32 // camera 1 + camera 2
	Diff  []float32 // camera 1 - camera 2
}

// The validator's view of a frame
type FrameState struct {
	HWPAngle float32
	FLCState int32
}

func (f *FrameRecord) State() FrameState {
	return FrameState{HWPAngle: f.HWPAngle, FLCState: f.FLCState}
}

// Derotation angle for this frame, degrees
func (f *FrameRecord) DerotAngle() float32 {
	return f.IMRPAD + PupilOffset
}

func (f *FrameRecord) muellerConfig(camera int32) mueller.Config {
	return mueller.Config{
		Camera:   camera,
		Filter:   f.Filter,
		FLCState: f.FLCState,
		// qwp angles are oriented with zero on the vertical axis
		QWP1:     radians(f.QWP1) + math.Pi/2,
		QWP2:     radians(f.QWP2) + math.Pi/2,
		IMRTheta: radians(f.IMRAngle),
		HWPTheta: radians(f.HWPAngle),
		PA:       radians(f.IMRPAD + 180 - f.IMRPAP),
		Altitude: radians(f.Altitude),
	}
}

// Model matrix for the frame's own camera beam, for diagnostics export
func (f *FrameRecord) MuellerMatrix() (*mat.Dense, error) {
	return mueller.Model(f.muellerConfig(f.Camera))
}

// Camera-difference model matrix M(camera 1) - M(camera 2), the transfer
// function of the differenced polarization plane
func (f *FrameRecord) DiffMuellerMatrix() (*mat.Dense, error) {
	m1, err:=mueller.Model(f.muellerConfig(1))
	if err!=nil { return nil, err }
	m2, err:=mueller.Model(f.muellerConfig(2))
	if err!=nil { return nil, err }
	res:=mat.NewDense(4, 4, nil)
	res.Sub(m1, m2)
	return res, nil
}

// Builds a frame record from a calibrated FITS image holding the summed
// plane and the differenced plane, with acquisition state in the header
func FrameFromImage(img *fits.Image) (*FrameRecord, error) {
	if len(img.Naxisn)!=3 || img.Naxisn[2]!=2 {
		return nil, fmt.Errorf("%s: expected 2-plane summ/diff image, got %s", img.FileName, img.DimensionsToString())
	}
	f:=&FrameRecord{
		Width: img.Naxisn[0],
		Summ:  img.Plane(0),
		Diff:  img.Plane(1),
	}
	var ok bool
	if f.Camera, ok=img.Header.Int("U_CAMERA"); !ok { return nil, missingKey(img, "U_CAMERA") }
	if f.FLCState, ok=img.Header.Int("U_FLCSTT"); !ok { return nil, missingKey(img, "U_FLCSTT") }
	if f.HWPAngle, ok=img.Header.Float("U_HWPANG"); !ok { return nil, missingKey(img, "U_HWPANG") }
	if f.Filter, ok=img.Header.String("U_FILTER"); !ok { return nil, missingKey(img, "U_FILTER") }
	if f.IMRPAD, ok=img.Header.Float("D_IMRPAD"); !ok { return nil, missingKey(img, "D_IMRPAD") }
	if f.IMRPAP, ok=img.Header.Float("D_IMRPAP"); !ok { return nil, missingKey(img, "D_IMRPAP") }
	if f.IMRAngle, ok=img.Header.Float("D_IMRANG"); !ok { return nil, missingKey(img, "D_IMRANG") }
	if f.Altitude, ok=img.Header.Float("ALTITUDE"); !ok { return nil, missingKey(img, "ALTITUDE") }
	if f.QWP1, ok=img.Header.Float("U_QWP1"); !ok { return nil, missingKey(img, "U_QWP1") }
	if f.QWP2, ok=img.Header.Float("U_QWP2"); !ok { return nil, missingKey(img, "U_QWP2") }
	return f, nil
}

// Loads a single frame from a FITS file
func FrameFromFile(fileName string, c *Context) (*FrameRecord, error) {
	img, err:=fits.NewImageFromFile(fileName, 0, c.Log)
	if err!=nil { return nil, err }
	return FrameFromImage(img)
}

func missingKey(img *fits.Image, key string) error {
	return fmt.Errorf("%s: missing header key %s", img.FileName, key)
}

func radians(deg float32) float64 {
	return float64(deg)*math.Pi/180
}

// Circular mean of a list of angles in degrees, via the vector mean
func AverageAngle(anglesDeg []float32) float32 {
	sumSin, sumCos:=0.0, 0.0
	for _, a:=range anglesDeg {
		rad:=radians(a)
		sumSin+=math.Sin(rad)
		sumCos+=math.Cos(rad)
	}
	return float32(math.Atan2(sumSin, sumCos)*180/math.Pi)
}
