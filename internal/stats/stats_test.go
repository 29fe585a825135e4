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


package stats

import (
	"math"
	"testing"
)

func TestNewStats(t *testing.T) {
	nan:=float32(math.NaN())
	data:=[]float32{2, 4, nan, 6, 8}
	s:=NewStats(data)
	if s.Min!=2     { t.Errorf("min=%v; want 2", s.Min) }
	if s.Max!=8     { t.Errorf("max=%v; want 8", s.Max) }
	if s.Mean!=5    { t.Errorf("mean=%v; want 5", s.Mean) }
	if s.NumNaN!=1  { t.Errorf("numNaN=%v; want 1", s.NumNaN) }
	want:=float32(math.Sqrt(5.0))
	if math.Abs(float64(s.StdDev-want))>1e-6 { t.Errorf("stdDev=%v; want %v", s.StdDev, want) }
}

func TestMedianIgnoresNaNs(t *testing.T) {
	nan:=float32(math.NaN())
	data:=[]float32{5, nan, 1, 3, nan}
	if m:=Median(data); m!=3 { t.Errorf("median=%v; want 3", m) }
	// input must be unchanged
	if data[0]!=5 || data[2]!=1 || data[3]!=3 { t.Errorf("median mutated its input: %v", data) }
}

func TestNaNSum(t *testing.T) {
	nan:=float32(math.NaN())
	if s:=NaNSum([]float32{1, nan, 2, 3}); s!=6 { t.Errorf("nansum=%v; want 6", s) }
}
