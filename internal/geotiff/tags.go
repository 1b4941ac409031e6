package geotiff

import (
	"encoding/binary"
	"math"
	"sort"
)

// TIFF field types.
const (
	typeASCII  uint16 = 2
	typeShort  uint16 = 3
	typeLong   uint16 = 4
	typeDouble uint16 = 12
)

// Tags written and understood by this package.
const (
	tagNewSubfileType  uint16 = 254
	tagImageWidth      uint16 = 256
	tagImageLength     uint16 = 257
	tagBitsPerSample   uint16 = 258
	tagCompression     uint16 = 259
	tagPhotometric     uint16 = 262
	tagSamplesPerPixel uint16 = 277
	tagPlanarConfig    uint16 = 284
	tagTileWidth       uint16 = 322
	tagTileLength      uint16 = 323
	tagTileOffsets     uint16 = 324
	tagTileByteCounts  uint16 = 325
	tagSampleFormat    uint16 = 339
	tagModelPixelScale uint16 = 33550
	tagModelTiepoint   uint16 = 33922
	tagGeoKeyDirectory uint16 = 34735
	tagGDALMetadata    uint16 = 42112
	tagGDALNoData      uint16 = 42113
)

const (
	compressionNone    = 1
	compressionDeflate = 8
	compressionAdobe   = 32946
	sampleFormatIEEE   = 3
	subfileReduced     = 1
)

// GeoKey IDs and values for a geographic lat/lon raster.
const (
	keyModelType        = 1024
	keyRasterType       = 1025
	keyGeographicType   = 2048
	keyGeogAngularUnits = 2054

	modelTypeGeographic = 2
	rasterPixelIsArea   = 1
	angularUnitDegree   = 9102
)

// entry is one IFD field with its value already encoded little-endian.
type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func (e entry) external() bool { return len(e.data) > 4 }

func shortEntry(tag uint16, vals ...uint16) entry {
	b := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(b[2*i:], v)
	}
	return entry{tag: tag, typ: typeShort, count: uint32(len(vals)), data: b}
}

func longEntry(tag uint16, vals ...uint32) entry {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[4*i:], v)
	}
	return entry{tag: tag, typ: typeLong, count: uint32(len(vals)), data: b}
}

func doubleEntry(tag uint16, vals ...float64) entry {
	b := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return entry{tag: tag, typ: typeDouble, count: uint32(len(vals)), data: b}
}

func asciiEntry(tag uint16, s string) entry {
	b := append([]byte(s), 0)
	return entry{tag: tag, typ: typeASCII, count: uint32(len(b)), data: b}
}

// ifd is an image file directory. Entries are kept sorted by tag.
type ifd []entry

func (d ifd) sorted() ifd {
	out := append(ifd(nil), d...)
	sort.Slice(out, func(i, j int) bool { return out[i].tag < out[j].tag })
	return out
}

// size is the directory itself plus its word-aligned external values.
func (d ifd) size() int {
	n := 2 + 12*len(d) + 4
	for _, e := range d {
		if e.external() {
			n += len(e.data) + len(e.data)%2
		}
	}
	return n
}

// typeSize returns the byte width of one value of a TIFF field type.
func typeSize(typ uint16) int {
	switch typ {
	case 1, 2, 6, 7:
		return 1
	case typeShort, 8:
		return 2
	case typeLong, 9, 11:
		return 4
	case 5, 10, typeDouble:
		return 8
	}
	return 0
}
