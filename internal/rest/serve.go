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


package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/astropol/polarlight/internal/polcal"
)

func Serve() {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET ("/ping",   getPing)
			v1.POST("/reduce", postReduce)
		}
	}
	r.Run() // listen and serve on 0.0.0.0:8080
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m,err:=json.MarshalIndent(args, "", "  ")
	if err!=nil { return err }
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

type postReduceArgs struct {
	FilePatterns   []string `json:"filePatterns"`
	Method         string   `json:"method"`         // triplediff or doublediff
	IPMode         string   `json:"ipMode"`         // none, aperture or spots
	IPRadius       float32  `json:"ipRadius"`
	IPSeparation   float32  `json:"ipSeparation"`
	Phi            float32  `json:"phi"`            // radians
	OptimizePhi    bool     `json:"optimizePhi"`
	ApplyCrosstalk bool     `json:"applyCrosstalk"`
	OutName        string   `json:"outName"`
	JPG            bool     `json:"jpg"`
	TIFF           bool     `json:"tiff"`
}

// postReduce runs a full reduction job, streaming the pipeline log as the
// response body
func postReduce(c *gin.Context) {
	logWriter := c.Writer
	var args postReduceArgs
	if err:=c.ShouldBind(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}

	header := logWriter.Header()
	header.Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err:=printArgs(logWriter, "Arguments:\n", "\n", args); err!=nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	fileNames, err:=globPatterns(args.FilePatterns)
	if err!=nil {
		fmt.Fprintf(logWriter, "Error globbing filenames: %s\n", err.Error())
		return
	}

	method:=polcal.MethodTripleDiff
	if args.Method!="" {
		if method, err=polcal.ParseMethod(args.Method); err!=nil {
			fmt.Fprintf(logWriter, "error: %s\n", err.Error())
			return
		}
	}
	ctx:=polcal.NewContext(logWriter, method)
	ctx.ApplyCrosstalk=args.ApplyCrosstalk

	job:=&polcal.Job{
		FileNames:    fileNames,
		IPMode:       args.IPMode,
		IPRadius:     args.IPRadius,
		IPSeparation: args.IPSeparation,
		Phi:          args.Phi,
		OptimizePhi:  args.OptimizePhi,
		OutName:      args.OutName,
		JPG:          args.JPG,
		TIFF:         args.TIFF,
	}
	if _, err=polcal.RunJob(job, ctx); err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
	logWriter.(http.Flusher).Flush()
}

// Expands glob patterns into a sorted list of file names. Frame order
// matters for cycle detection, so the expansion is deterministic
func globPatterns(patterns []string) ([]string, error) {
	var res []string
	for _, p:=range patterns {
		matches, err:=filepath.Glob(p)
		if err!=nil { return nil, fmt.Errorf("globbing %s: %w", p, err) }
		sort.Strings(matches)
		res=append(res, matches...)
	}
	if len(res)==0 { return nil, fmt.Errorf("no files match %v", patterns) }
	return res, nil
}
