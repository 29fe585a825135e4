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


package fits

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"github.com/astropol/polarlight/internal/stats"
)

// Reads a FITS image from a file. Optionally gzipped
func NewImageFromFile(fileName string, id int, logWriter io.Writer) (i *Image, err error) {
	img:=NewImage()
	img.ID, img.FileName=id, fileName

	f, err:=os.Open(fileName)
	if err!=nil { return nil, err }
	defer f.Close()

	var r io.Reader=bufio.NewReader(f)
	fnLower:=strings.ToLower(fileName)
	if strings.HasSuffix(fnLower, ".gz") || strings.HasSuffix(fnLower, ".gzip") {
		r, err=gzip.NewReader(r)
		if err!=nil { return nil, err }
	}

	if err=img.Read(r); err!=nil { return nil, fmt.Errorf("%d: %s: %w", id, fileName, err) }
	img.Stats=stats.NewStats(img.Data)
	return img, nil
}

// Reads a FITS image from an io.Reader
func (f *Image) Read(r io.Reader) (err error) {
	if err=f.Header.read(r); err!=nil { return err }

	f.Bitpix, _   =f.Header.Int("BITPIX")
	if f.Bitpix==0 { return fmt.Errorf("missing or zero BITPIX") }

	naxis, _:=f.Header.Int("NAXIS")
	if naxis<=0 || naxis>4 { return fmt.Errorf("unsupported NAXIS %d", naxis) }
	f.Naxisn=make([]int32, naxis)
	f.Pixels=int32(1)
	for i:=int32(0); i<naxis; i++ {
		n, ok:=f.Header.Int(fmt.Sprintf("NAXIS%d", i+1))
		if !ok || n<=0 { return fmt.Errorf("missing or invalid NAXIS%d", i+1) }
		f.Naxisn[i]=n
		f.Pixels*=n
	}

	f.Bzero, f.Bscale=0, 1
	if v, ok:=f.Header.Float("BZERO");  ok { f.Bzero =v }
	if v, ok:=f.Header.Float("BSCALE"); ok && v!=0 { f.Bscale=v }
	if v, ok:=f.Header.Float("EXPTIME"); ok {
		f.Exposure=v
	} else if v, ok:=f.Header.Float("EXPOSURE"); ok {
		f.Exposure=v
	}

	return f.readData(r)
}

// Reads the image payload, converting to float32 and applying Bzero/Bscale
func (f *Image) readData(r io.Reader) (err error) {
	f.Data=make([]float32, f.Pixels)

	switch f.Bitpix {
	case 8:
		buf:=make([]byte, f.Pixels)
		if _, err=io.ReadFull(r, buf); err!=nil { return err }
		for i, b:=range buf { f.Data[i]=f.Bzero+f.Bscale*float32(b) }
	case 16:
		buf:=make([]byte, 2*f.Pixels)
		if _, err=io.ReadFull(r, buf); err!=nil { return err }
		for i:=int32(0); i<f.Pixels; i++ {
			v:=int16(binary.BigEndian.Uint16(buf[2*i:]))
			f.Data[i]=f.Bzero+f.Bscale*float32(v)
		}
	case 32:
		buf:=make([]byte, 4*f.Pixels)
		if _, err=io.ReadFull(r, buf); err!=nil { return err }
		for i:=int32(0); i<f.Pixels; i++ {
			v:=int32(binary.BigEndian.Uint32(buf[4*i:]))
			f.Data[i]=f.Bzero+f.Bscale*float32(v)
		}
	case -32:
		buf:=make([]byte, 4*f.Pixels)
		if _, err=io.ReadFull(r, buf); err!=nil { return err }
		for i:=int32(0); i<f.Pixels; i++ {
			v:=math.Float32frombits(binary.BigEndian.Uint32(buf[4*i:]))
			f.Data[i]=f.Bzero+f.Bscale*v
		}
	case -64:
		buf:=make([]byte, 8*f.Pixels)
		if _, err=io.ReadFull(r, buf); err!=nil { return err }
		for i:=int32(0); i<f.Pixels; i++ {
			v:=math.Float64frombits(binary.BigEndian.Uint64(buf[8*i:]))
			f.Data[i]=f.Bzero+f.Bscale*float32(v)
		}
	default:
		return fmt.Errorf("unsupported BITPIX %d", f.Bitpix)
	}

	// data now holds physical values
	f.Bzero, f.Bscale=0, 1
	return nil
}

// Reads a FITS header from an io.Reader, block by block, card by card
func (h *Header) read(r io.Reader) error {
	block:=make([]byte, fitsBlockSize)
	for !h.End {
		if _, err:=io.ReadFull(r, block); err!=nil { return err }
		h.Length+=int32(fitsBlockSize)
		for line:=0; line<fitsBlockSize/HeaderLineSize; line++ {
			h.readCard(block[line*HeaderLineSize : (line+1)*HeaderLineSize])
			if h.End { break }
		}
	}
	return nil
}

// Parses a single 80-byte header card
func (h *Header) readCard(card []byte) {
	key:=strings.TrimRight(string(card[0:8]), " ")
	switch key {
	case "END":
		h.End=true
		return
	case "COMMENT":
		h.Comments=append(h.Comments, strings.TrimRight(string(card[8:]), " "))
		return
	case "HISTORY":
		h.History=append(h.History, strings.TrimRight(string(card[8:]), " "))
		return
	case "":
		return
	}
	if card[8]!='=' { return }

	value:=string(card[10:])
	// strip trailing comment, respecting quoted strings
	if strings.HasPrefix(strings.TrimLeft(value, " "), "'") {
		str, ok:=parseHeaderString(strings.TrimLeft(value, " "))
		if !ok { return }
		if strings.HasPrefix(key, "DATE") {
			h.Dates[key]=str
		} else {
			h.Strings[key]=str
		}
		return
	}
	if slash:=strings.IndexByte(value, '/'); slash>=0 {
		value=value[:slash]
	}
	value=strings.TrimSpace(value)
	switch value {
	case "T":
		h.Bools[key]=true
		return
	case "F":
		h.Bools[key]=false
		return
	case "":
		return
	}
	if i, err:=strconv.ParseInt(value, 10, 32); err==nil {
		h.Ints[key]=int32(i)
		return
	}
	if f, err:=strconv.ParseFloat(value, 32); err==nil {
		h.Floats[key]=float32(f)
	}
}

// Parses a quoted FITS string value, unescaping doubled single quotes.
// The argument must start with the opening quote
func parseHeaderString(value string) (res string, ok bool) {
	b:=strings.Builder{}
	i:=1
	for ; i<len(value); i++ {
		if value[i]=='\'' {
			if i+1<len(value) && value[i+1]=='\'' {
				b.WriteByte('\'')
				i++
				continue
			}
			return strings.TrimRight(b.String(), " "), true
		}
		b.WriteByte(value[i])
	}
	return "", false // unterminated
}
