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
	"fmt"
	"math"
	"github.com/astropol/polarlight/internal/qsort"
)

// Basic statistics of a data array. NaN values are excluded from all
// indicators; NumNaN counts them
type Stats struct {
	Min    float32
	Max    float32
	Mean   float32
	StdDev float32
	NumNaN int32
}

// Calculate basic statistics for a data array
func NewStats(data []float32) (s *Stats) {
	s=&Stats{Min: float32(math.Inf(1)), Max: float32(math.Inf(-1))}
	num:=0
	mean:=float64(0)
	for _,d:=range data {
		if math.IsNaN(float64(d)) {
			s.NumNaN++
			continue
		}
		if d<s.Min { s.Min=d }
		if d>s.Max { s.Max=d }
		mean+=float64(d)
		num++
	}
	if num==0 { s.Min, s.Max=0, 0; return s }
	mean/=float64(num)
	s.Mean=float32(mean)

	variance:=float64(0)
	for _,d:=range data {
		if math.IsNaN(float64(d)) { continue }
		diff:=float64(d)-mean
		variance+=diff*diff
	}
	s.StdDev=float32(math.Sqrt(variance/float64(num)))
	return s
}

// Pretty print basic stats to string
func (s *Stats) String() string {
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g StdDev %.6g", s.Min, s.Max, s.Mean, s.StdDev)
}

// Median of the data, excluding NaNs. Copies the data to leave it unchanged
func Median(data []float32) float32 {
	tmp:=make([]float32, 0, len(data))
	for _,d:=range data {
		if !math.IsNaN(float64(d)) { tmp=append(tmp, d) }
	}
	if len(tmp)==0 { return float32(math.NaN()) }
	return qsort.QSelectMedianFloat32(tmp)
}

// NaN-excluding sum of the data
func NaNSum(data []float32) float64 {
	sum:=float64(0)
	for _,d:=range data {
		if !math.IsNaN(float64(d)) { sum+=float64(d) }
	}
	return sum
}
