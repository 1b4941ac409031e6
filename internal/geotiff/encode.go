// Package geotiff writes and reads the canonical raster artifact: a
// single-band float32 GeoTIFF, tiled and Deflate-compressed, with averaged
// overviews and NaN as nodata.
//
// The layout follows the cloud-optimized convention. All image file
// directories come first, full resolution before the overviews, then the
// tile data from the coarsest overview to full resolution. Output depends
// only on the field, so encoding the same field twice yields identical bytes.
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
	"path/filepath"

	"github.com/klauspost/compress/zlib"

	"github.com/lunasilvestre/cheias-pt/internal/domain"
)

// EPSG code written to the GeoKey directory.
const EPSG = 4326

// NoDataString is the GDAL_NODATA value.
const NoDataString = "nan"

// Options controls the encoder.
type Options struct {
	TileSize  int
	Overviews []int
	// Level is a zlib compression level.
	Level int
}

// DefaultOptions returns 256x256 tiles, x2 and x4 overviews and the best
// Deflate compression.
func DefaultOptions() Options {
	return Options{TileSize: 256, Overviews: []int{2, 4}, Level: zlib.BestCompression}
}

// Encoder writes GridFields as GeoTIFF.
type Encoder struct {
	opts Options
}

// NewEncoder returns an encoder with opts.
func NewEncoder(opts Options) (*Encoder, error) {
	if opts.TileSize <= 0 || opts.TileSize%16 != 0 {
		return nil, fmt.Errorf("tile size %d is not a positive multiple of 16", opts.TileSize)
	}
	prev := 1
	for _, f := range opts.Overviews {
		if f <= prev {
			return nil, fmt.Errorf("overview factors must increase above 1: %v", opts.Overviews)
		}
		prev = f
	}
	return &Encoder{opts: opts}, nil
}

var defaultEncoder = &Encoder{opts: DefaultOptions()}

// Encode writes field with the default options.
func Encode(w io.Writer, field domain.GridField) error {
	return defaultEncoder.Encode(w, field)
}

// WriteFile writes field to path with the default options and returns the
// file size.
func WriteFile(path string, field domain.GridField) (int64, error) {
	return defaultEncoder.WriteFile(path, field)
}

// level is one resolution of the pyramid with its compressed tiles.
type level struct {
	width, height int
	factor        int
	tiles         [][]byte
	offsets       []uint32
}

// Encode writes field to w.
func (e *Encoder) Encode(w io.Writer, field domain.GridField) error {
	b, err := e.encode(field)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// WriteFile writes field to path through a temporary file in the same
// directory, creating parent directories as needed.
func (e *Encoder) WriteFile(path string, field domain.GridField) (int64, error) {
	b, err := e.encode(field)
	if err != nil {
		return 0, err
	}
	if err := writeAtomic(path, b); err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}

func writeAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func (e *Encoder) encode(field domain.GridField) ([]byte, error) {
	if field.Cols <= 0 || field.Rows <= 0 || len(field.Values) != field.Cols*field.Rows {
		return nil, fmt.Errorf("field %s %s: %dx%d with %d values",
			field.Variable, field.Date.Format(domain.DateLayout), field.Cols, field.Rows, len(field.Values))
	}
	if field.Transform[2] != 0 || field.Transform[4] != 0 {
		return nil, errors.New("rotated transforms are not supported")
	}

	base := make([]float32, len(field.Values))
	for i, v := range field.Values {
		base[i] = float32(v)
	}

	levels := make([]*level, 0, 1+len(e.opts.Overviews))
	pixels := [][]float32{base}
	levels = append(levels, &level{width: field.Cols, height: field.Rows, factor: 1})
	for _, f := range e.opts.Overviews {
		px, w, h := averageOverview(base, field.Cols, field.Rows, f)
		pixels = append(pixels, px)
		levels = append(levels, &level{width: w, height: h, factor: f})
	}
	for i, lv := range levels {
		tiles, err := e.compressTiles(pixels[i], lv.width, lv.height)
		if err != nil {
			return nil, err
		}
		lv.tiles = tiles
		lv.offsets = make([]uint32, len(tiles))
	}

	meta, err := metadataXML(field)
	if err != nil {
		return nil, err
	}

	// Directory sizes do not depend on offset values, so lay out with
	// placeholders first, then fill in tile offsets.
	dirs := make([]ifd, len(levels))
	for i, lv := range levels {
		dirs[i] = e.directory(lv, field, meta, i == 0)
	}
	pos := 8
	ifdOffsets := make([]int, len(dirs))
	for i, d := range dirs {
		ifdOffsets[i] = pos
		pos += d.size()
	}
	for i := len(levels) - 1; i >= 0; i-- {
		for t, tile := range levels[i].tiles {
			levels[i].offsets[t] = uint32(pos)
			pos += len(tile)
		}
	}
	if uint64(pos) > math.MaxUint32 {
		return nil, fmt.Errorf("raster of %d bytes exceeds classic TIFF", pos)
	}
	for i, lv := range levels {
		dirs[i] = e.directory(lv, field, meta, i == 0)
	}

	buf := bytes.NewBuffer(make([]byte, 0, pos))
	buf.WriteString("II")
	_ = binary.Write(buf, binary.LittleEndian, uint16(42))
	_ = binary.Write(buf, binary.LittleEndian, uint32(8))
	for i, d := range dirs {
		next := 0
		if i+1 < len(dirs) {
			next = ifdOffsets[i+1]
		}
		writeIFD(buf, d, ifdOffsets[i], next)
	}
	for i := len(levels) - 1; i >= 0; i-- {
		for _, tile := range levels[i].tiles {
			buf.Write(tile)
		}
	}
	return buf.Bytes(), nil
}

func (e *Encoder) directory(lv *level, field domain.GridField, meta string, base bool) ifd {
	counts := make([]uint32, len(lv.tiles))
	for i, t := range lv.tiles {
		counts[i] = uint32(len(t))
	}
	ts := uint16(e.opts.TileSize)
	d := ifd{
		longEntry(tagImageWidth, uint32(lv.width)),
		longEntry(tagImageLength, uint32(lv.height)),
		shortEntry(tagBitsPerSample, 32),
		shortEntry(tagCompression, compressionDeflate),
		shortEntry(tagPhotometric, 1),
		shortEntry(tagSamplesPerPixel, 1),
		shortEntry(tagPlanarConfig, 1),
		shortEntry(tagTileWidth, ts),
		shortEntry(tagTileLength, ts),
		longEntry(tagTileOffsets, lv.offsets...),
		longEntry(tagTileByteCounts, counts...),
		shortEntry(tagSampleFormat, sampleFormatIEEE),
		asciiEntry(tagGDALNoData, NoDataString),
	}
	if base {
		tr := field.Transform
		d = append(d,
			doubleEntry(tagModelPixelScale, tr.PixelWidth(), tr.PixelHeight(), 0),
			doubleEntry(tagModelTiepoint, 0, 0, 0, tr[0], tr[3], 0),
			shortEntry(tagGeoKeyDirectory,
				1, 1, 0, 4,
				keyModelType, 0, 1, modelTypeGeographic,
				keyRasterType, 0, 1, rasterPixelIsArea,
				keyGeographicType, 0, 1, EPSG,
				keyGeogAngularUnits, 0, 1, angularUnitDegree,
			),
			asciiEntry(tagGDALMetadata, meta),
		)
	} else {
		d = append(d, longEntry(tagNewSubfileType, subfileReduced))
	}
	return d.sorted()
}

func writeIFD(buf *bytes.Buffer, d ifd, offset, next int) {
	extra := offset + 2 + 12*len(d) + 4
	var tail []byte
	le := binary.LittleEndian
	_ = binary.Write(buf, le, uint16(len(d)))
	for _, e := range d {
		_ = binary.Write(buf, le, e.tag)
		_ = binary.Write(buf, le, e.typ)
		_ = binary.Write(buf, le, e.count)
		if e.external() {
			_ = binary.Write(buf, le, uint32(extra+len(tail)))
			tail = append(tail, e.data...)
			if len(e.data)%2 == 1 {
				tail = append(tail, 0)
			}
			continue
		}
		var inline [4]byte
		copy(inline[:], e.data)
		buf.Write(inline[:])
	}
	_ = binary.Write(buf, le, uint32(next))
	buf.Write(tail)
}

// compressTiles cuts px into row-major tiles, pads edge tiles with NaN and
// deflates each one.
func (e *Encoder) compressTiles(px []float32, width, height int) ([][]byte, error) {
	ts := e.opts.TileSize
	across := (width + ts - 1) / ts
	down := (height + ts - 1) / ts
	nan := math.Float32bits(float32(math.NaN()))

	raw := make([]byte, 4*ts*ts)
	tiles := make([][]byte, 0, across*down)
	for ty := 0; ty < down; ty++ {
		for tx := 0; tx < across; tx++ {
			for y := 0; y < ts; y++ {
				for x := 0; x < ts; x++ {
					bits := nan
					gx, gy := tx*ts+x, ty*ts+y
					if gx < width && gy < height {
						bits = math.Float32bits(px[gy*width+gx])
					}
					binary.LittleEndian.PutUint32(raw[4*(y*ts+x):], bits)
				}
			}
			var out bytes.Buffer
			zw, err := zlib.NewWriterLevel(&out, e.opts.Level)
			if err != nil {
				return nil, fmt.Errorf("deflate: %w", err)
			}
			if _, err := zw.Write(raw); err != nil {
				return nil, fmt.Errorf("deflate: %w", err)
			}
			if err := zw.Close(); err != nil {
				return nil, fmt.Errorf("deflate: %w", err)
			}
			tiles = append(tiles, out.Bytes())
		}
	}
	return tiles, nil
}

// MetadataItem is one GDAL metadata entry. An empty Domain is the default
// dataset domain.
type MetadataItem struct {
	Name   string `xml:"name,attr"`
	Domain string `xml:"domain,attr,omitempty"`
	Value  string `xml:",chardata"`
}

type gdalMetadata struct {
	XMLName xml.Name       `xml:"GDALMetadata"`
	Items   []MetadataItem `xml:"Item"`
}

func metadataXML(field domain.GridField) (string, error) {
	md := gdalMetadata{Items: []MetadataItem{
		{Name: "DATE", Value: field.Date.Format(domain.DateLayout)},
		{Name: "VARIABLE", Value: field.Variable},
		{Name: "resampling", Domain: "rio_overview", Value: "average"},
	}}
	b, err := xml.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("gdal metadata: %w", err)
	}
	return string(b), nil
}
