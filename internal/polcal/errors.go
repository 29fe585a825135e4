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

import "errors"

var (
	// No complete HWP cycle found in the input sequence. Fatal for the
	// whole polarimetric stage
	ErrInsufficientData = errors.New("no complete HWP cycles in input")

	// A cycle's frames did not group into the required (HWP angle, FLC
	// state) keys. Fatal for that cycle only; sibling cycles proceed
	ErrMalformedCycle = errors.New("malformed acquisition cycle")

	// The crosstalk system is singular or ill-conditioned. The cycle falls
	// back to the uncorrected Q/U planes
	ErrNumericalDegeneracy = errors.New("crosstalk system is numerically degenerate")
)
