package geotiff

import (
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/zlib"

	"github.com/lunasilvestre/cheias-pt/internal/domain"
)

// ErrFormat is returned for input this package cannot read.
var ErrFormat = errors.New("unsupported tiff")

// Level is one decoded resolution.
type Level struct {
	Width  int
	Height int
	Values []float64
}

// At returns the value at (col, row).
func (l Level) At(col, row int) float64 { return l.Values[row*l.Width+col] }

// Raster is a decoded GeoTIFF.
type Raster struct {
	Level
	Transform domain.Transform
	EPSG      int
	NoData    string
	TileSize  int
	Metadata  []MetadataItem
	// Overviews are the reduced levels in file order.
	Overviews []Level
}

// Meta returns the value of the metadata item name in domain ("" for the
// default domain).
func (r *Raster) Meta(domainName, name string) (string, bool) {
	for _, it := range r.Metadata {
		if it.Domain == domainName && it.Name == name {
			return it.Value, true
		}
	}
	return "", false
}

// ReadFile decodes the GeoTIFF at path.
func ReadFile(path string) (*Raster, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	r, err := DecodeBytes(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return r, nil
}

// Decode reads a GeoTIFF from r.
func Decode(r io.Reader) (*Raster, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return DecodeBytes(b)
}

// DecodeBytes decodes a little-endian, tiled, single-band float32 GeoTIFF
// with uncompressed or Deflate tiles.
func DecodeBytes(b []byte) (*Raster, error) {
	if len(b) < 8 || string(b[:2]) != "II" || binary.LittleEndian.Uint16(b[2:]) != 42 {
		return nil, fmt.Errorf("%w: not a little-endian classic tiff", ErrFormat)
	}
	var out *Raster
	seen := map[uint32]bool{}
	for off := binary.LittleEndian.Uint32(b[4:]); off != 0; {
		if seen[off] {
			return nil, fmt.Errorf("%w: ifd loop at %d", ErrFormat, off)
		}
		seen[off] = true
		fields, next, err := readIFD(b, off)
		if err != nil {
			return nil, err
		}
		lv, err := decodeLevel(b, fields)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = &Raster{Level: lv}
			if err := out.readGeo(fields); err != nil {
				return nil, err
			}
		} else {
			out.Overviews = append(out.Overviews, lv)
		}
		off = next
	}
	if out == nil {
		return nil, fmt.Errorf("%w: no image directory", ErrFormat)
	}
	return out, nil
}

type tiffField struct {
	typ   uint16
	count uint32
	data  []byte
}

func (f tiffField) uints() []uint32 {
	out := make([]uint32, f.count)
	for i := range out {
		switch f.typ {
		case typeShort:
			out[i] = uint32(binary.LittleEndian.Uint16(f.data[2*i:]))
		case typeLong:
			out[i] = binary.LittleEndian.Uint32(f.data[4*i:])
		}
	}
	return out
}

func (f tiffField) uint() uint32 {
	if f.count == 0 {
		return 0
	}
	return f.uints()[0]
}

func (f tiffField) doubles() []float64 {
	if f.typ != typeDouble {
		return nil
	}
	out := make([]float64, f.count)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(f.data[8*i:]))
	}
	return out
}

func (f tiffField) ascii() string {
	return strings.TrimRight(string(f.data), "\x00")
}

func readIFD(b []byte, off uint32) (map[uint16]tiffField, uint32, error) {
	if int(off)+2 > len(b) {
		return nil, 0, fmt.Errorf("%w: ifd offset %d out of range", ErrFormat, off)
	}
	n := int(binary.LittleEndian.Uint16(b[off:]))
	end := int(off) + 2 + 12*n + 4
	if end > len(b) {
		return nil, 0, fmt.Errorf("%w: truncated ifd at %d", ErrFormat, off)
	}
	fields := make(map[uint16]tiffField, n)
	for i := 0; i < n; i++ {
		p := int(off) + 2 + 12*i
		tag := binary.LittleEndian.Uint16(b[p:])
		typ := binary.LittleEndian.Uint16(b[p+2:])
		count := binary.LittleEndian.Uint32(b[p+4:])
		size := typeSize(typ) * int(count)
		if size == 0 {
			continue
		}
		var data []byte
		if size <= 4 {
			data = b[p+8 : p+8+size]
		} else {
			at := int(binary.LittleEndian.Uint32(b[p+8:]))
			if at+size > len(b) {
				return nil, 0, fmt.Errorf("%w: tag %d value out of range", ErrFormat, tag)
			}
			data = b[at : at+size]
		}
		fields[tag] = tiffField{typ: typ, count: count, data: data}
	}
	return fields, binary.LittleEndian.Uint32(b[end-4:]), nil
}

func decodeLevel(b []byte, fields map[uint16]tiffField) (Level, error) {
	width := int(fields[tagImageWidth].uint())
	height := int(fields[tagImageLength].uint())
	tw := int(fields[tagTileWidth].uint())
	th := int(fields[tagTileLength].uint())
	if width == 0 || height == 0 || tw == 0 || th == 0 {
		return Level{}, fmt.Errorf("%w: only tiled images are read", ErrFormat)
	}
	if bps := fields[tagBitsPerSample].uint(); bps != 32 {
		return Level{}, fmt.Errorf("%w: %d bits per sample", ErrFormat, bps)
	}
	if sf := fields[tagSampleFormat].uint(); sf != sampleFormatIEEE {
		return Level{}, fmt.Errorf("%w: sample format %d", ErrFormat, sf)
	}
	if spp, ok := fields[tagSamplesPerPixel]; ok && spp.uint() != 1 {
		return Level{}, fmt.Errorf("%w: %d samples per pixel", ErrFormat, spp.uint())
	}
	compression := fields[tagCompression].uint()
	offsets := fields[tagTileOffsets].uints()
	counts := fields[tagTileByteCounts].uints()
	across := (width + tw - 1) / tw
	down := (height + th - 1) / th
	if len(offsets) != across*down || len(counts) != len(offsets) {
		return Level{}, fmt.Errorf("%w: %d tiles for %dx%d", ErrFormat, len(offsets), width, height)
	}

	lv := Level{Width: width, Height: height, Values: make([]float64, width*height)}
	for t := range offsets {
		start, n := int(offsets[t]), int(counts[t])
		if start+n > len(b) {
			return Level{}, fmt.Errorf("%w: tile %d out of range", ErrFormat, t)
		}
		raw, err := inflate(b[start:start+n], compression, 4*tw*th)
		if err != nil {
			return Level{}, fmt.Errorf("tile %d: %w", t, err)
		}
		tx, ty := t%across, t/across
		for y := 0; y < th; y++ {
			gy := ty*th + y
			if gy >= height {
				break
			}
			for x := 0; x < tw; x++ {
				gx := tx*tw + x
				if gx >= width {
					break
				}
				bits := binary.LittleEndian.Uint32(raw[4*(y*tw+x):])
				lv.Values[gy*width+gx] = float64(math.Float32frombits(bits))
			}
		}
	}
	return lv, nil
}

func inflate(data []byte, compression uint32, size int) ([]byte, error) {
	var raw []byte
	switch compression {
	case compressionNone, 0:
		raw = data
	case compressionDeflate, compressionAdobe:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer func() { _ = zr.Close() }()
		raw, err = io.ReadAll(zr)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: compression %d", ErrFormat, compression)
	}
	if len(raw) < size {
		return nil, fmt.Errorf("%w: tile holds %d of %d bytes", ErrFormat, len(raw), size)
	}
	return raw, nil
}

func (r *Raster) readGeo(fields map[uint16]tiffField) error {
	r.TileSize = int(fields[tagTileWidth].uint())
	if f, ok := fields[tagGDALNoData]; ok {
		r.NoData = f.ascii()
	}
	scale := fields[tagModelPixelScale].doubles()
	tie := fields[tagModelTiepoint].doubles()
	if len(scale) >= 2 && len(tie) >= 6 {
		r.Transform = domain.Transform{
			tie[3] - tie[0]*scale[0], scale[0], 0,
			tie[4] + tie[1]*scale[1], 0, -scale[1],
		}
	}
	if f, ok := fields[tagGeoKeyDirectory]; ok {
		keys := f.uints()
		for i := 4; i+3 < len(keys); i += 4 {
			if (keys[i] == keyGeographicType || keys[i] == 3072) && keys[i+1] == 0 {
				r.EPSG = int(keys[i+3])
			}
		}
	}
	if f, ok := fields[tagGDALMetadata]; ok {
		var md gdalMetadata
		if err := xml.Unmarshal([]byte(f.ascii()), &md); err != nil {
			return fmt.Errorf("%w: gdal metadata: %v", ErrFormat, err)
		}
		r.Metadata = md.Items
	}
	return nil
}
