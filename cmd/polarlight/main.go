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

package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sort"
	"strings"
	"time"

	"github.com/astropol/polarlight/internal/mueller"
	"github.com/astropol/polarlight/internal/polcal"
	"github.com/astropol/polarlight/internal/rest"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var out  = flag.String("out", "stokes.fits", "save Stokes product to `file`")
var jpg  = flag.Bool("jpg", false, "save an AoLP false-color preview next to the output")
var tiff = flag.Bool("tiff", false, "save a 16-bit Qphi preview next to the output")
var log  = flag.String("log", "%auto", "save log output to `file`. `%auto` replaces suffix of output file with .log")

var method    = flag.String("method", "triplediff", "differencing method, triplediff or doublediff")
var crosstalk = flag.Bool("crosstalk", false, "store crosstalk-corrected Q/U planes instead of uncorrected")

var ip      = flag.String("ip", "none", "instrumental polarization mode, one of none, aperture, spots")
var ipRadius= flag.Float64("ipRadius", 15, "instrumental polarization aperture radius in pixels")
var ipSep   = flag.Float64("ipSep", 15.9, "satellite spot separation in pixels for -ip spots")

var phi    = flag.Float64("phi", 0, "radial Stokes phase offset in degrees")
var optPhi = flag.Bool("optPhi", false, "optimize the phase offset by minimizing the aperture Uphi signal")

var chroot = flag.String("chroot", "", "in server mode, change filesystem root to `directory` (requires root)")
var setuid = flag.Int("setuid", -1, "in server mode, switch to this numerical user id after chroot")

func main() {
	start:=time.Now()
	flag.Usage=func(){
	    fmt.Fprintf(os.Stderr, `Polarlight Copyright (c) 2024 the polarlight authors
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (reduce|calibrate|mueller|serve|version) (frame0.fits ... framen.fits)

Commands:
  reduce    Reduce a polarimetric frame sequence to a Stokes product
  calibrate Solve for the Stokes vector by least squares, without cycle grouping
  mueller   Print the Mueller model matrix for frame headers given as files
  serve     Start the REST server on port 8080
  version   Show version information

Flags:
`, os.Args[0])
	    flag.PrintDefaults()
	}
	flag.Parse()

	// Log to file in addition to stdout, if selected
	var logWriter io.Writer=os.Stdout
	if *log=="%auto" {
		if *out!="" {
			*log=strings.TrimSuffix(*out, filepath.Ext(*out))+".log"
		} else {
			*log=""
		}
	}
	if *log!="" {
		f, err:=os.Create(*log)
		if err!=nil {
			fmt.Fprintf(os.Stderr, "Unable to open logfile '%s': %s\n", *log, err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		logWriter=io.MultiWriter(os.Stdout, f)
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Fprintf(logWriter, "Could not create CPU profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(logWriter, "Could not start CPU profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer pprof.StopCPUProfile()
	}

	args:=flag.Args()
	if len(args)<1 {
		flag.Usage()
		return
	}

	var err error
	switch args[0] {
	case "serve":
		rest.MakeSandbox(*chroot, *setuid)
		rest.Serve()

	case "reduce":
		err=cmdReduce(args[1:], logWriter)

	case "calibrate":
		err=cmdCalibrate(args[1:], logWriter)

	case "mueller":
		err=cmdMueller(args[1:], logWriter)

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	now:=time.Now()
	elapsed:=now.Sub(start)
	fmt.Fprintf(logWriter, "\nDone after %v\n", elapsed)

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Fprintf(logWriter, "Could not create memory profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f,0); err != nil {
			fmt.Fprintf(logWriter, "Could not write allocation profile: %s\n", err.Error())
			os.Exit(-1)
		}
	}

	if err!=nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		os.Exit(-1)
	}
}

// Reduce a frame sequence to a Stokes product
func cmdReduce(args []string, logWriter io.Writer) error {
	fileNames, err:=globArgs(args)
	if err!=nil { return err }

	m, err:=polcal.ParseMethod(*method)
	if err!=nil { return err }
	ctx:=polcal.NewContext(logWriter, m)
	ctx.ApplyCrosstalk=*crosstalk

	job:=&polcal.Job{
		FileNames:    fileNames,
		IPMode:       *ip,
		IPRadius:     float32(*ipRadius),
		IPSeparation: float32(*ipSep),
		Phi:          float32(*phi*math.Pi/180),
		OptimizePhi:  *optPhi,
		OutName:      *out,
		JPG:          *jpg,
		TIFF:         *tiff,
	}
	res, err:=polcal.RunJob(job, ctx)
	if err!=nil { return err }
	fmt.Fprintf(logWriter, "Stokes product with planes %s, phi %.3f deg\n",
		polcal.ProductPlanes, polcal.PhiDegrees(res.Phi))
	return nil
}

// Solve the incident Stokes vector per pixel by least squares over all
// frames, bypassing cycle grouping. Useful for partial or irregular
// sequences that never complete a modulation cycle
func cmdCalibrate(args []string, logWriter io.Writer) error {
	fileNames, err:=globArgs(args)
	if err!=nil { return err }

	ctx:=polcal.NewContext(logWriter, polcal.MethodTripleDiff)
	frames:=make([]*polcal.FrameRecord, 0, len(fileNames))
	for _, name:=range fileNames {
		f, err:=polcal.FrameFromFile(name, ctx)
		if err!=nil { return err }
		frames=append(frames, f)
	}
	frame, err:=polcal.CalibrationSolve(frames, ctx)
	if err!=nil { return err }

	img:=polcal.AssembleProduct(frame, float32(*phi*math.Pi/180), nil)
	if err:=img.WriteFile(*out); err!=nil { return err }
	fmt.Fprintf(logWriter, "wrote %s\n", *out)
	return nil
}

// Print the Mueller model matrices for the given frames, for inspecting
// the calibration applied to a data set. With -out, also save the
// camera-difference matrices as a 4x4xN FITS cube
func cmdMueller(args []string, logWriter io.Writer) error {
	fileNames, err:=globArgs(args)
	if err!=nil { return err }
	fmt.Fprintf(logWriter, "Known filters: %s\n", strings.Join(mueller.Filters(), ", "))

	ctx:=polcal.NewContext(logWriter, polcal.MethodTripleDiff)
	frames:=make([]*polcal.FrameRecord, 0, len(fileNames))
	for _, name:=range fileNames {
		f, err:=polcal.FrameFromFile(name, ctx)
		if err!=nil { return err }
		frames=append(frames, f)
		m, err:=f.MuellerMatrix()
		if err!=nil { return err }
		fmt.Fprintf(logWriter, "%s: camera %d FLC %d HWP %.1f filter %s\n",
			name, f.Camera, f.FLCState, f.HWPAngle, f.Filter)
		for row:=0; row<4; row++ {
			fmt.Fprintf(logWriter, "  [%9.6f %9.6f %9.6f %9.6f]\n",
				m.At(row, 0), m.At(row, 1), m.At(row, 2), m.At(row, 3))
		}
	}
	if *out!="" {
		img, err:=polcal.MuellerMatrixImage(frames)
		if err!=nil { return err }
		if err:=img.WriteFile(*out); err!=nil { return err }
		fmt.Fprintf(logWriter, "wrote %s\n", *out)
	}
	return nil
}

// Expands glob patterns into a sorted file list; order matters for cycle
// detection
func globArgs(args []string) ([]string, error) {
	var res []string
	for _, a:=range args {
		matches, err:=filepath.Glob(a)
		if err!=nil { return nil, fmt.Errorf("globbing %s: %w", a, err) }
		sort.Strings(matches)
		res=append(res, matches...)
	}
	if len(res)==0 { return nil, fmt.Errorf("no input files match %v", args) }
	return res, nil
}
