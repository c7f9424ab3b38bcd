// Package geotiff writes and inspects georeferenced baseline TIFF files.
//
// Only what the downloader produces is supported: 8-bit RGB, one strip,
// uncompressed or deflate, with a north-up affine transform.
package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"math"
	"sort"
)

// TIFF tags.
const (
	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagStripOffsets     = 273
	tagSamplesPerPixel  = 277
	tagRowsPerStrip     = 278
	tagStripByteCounts  = 279
	tagPlanarConfig     = 284
	tagSoftware         = 305
	tagModelPixelScale  = 33550
	tagModelTiepoint    = 33922
	tagGeoKeyDirectory  = 34735
	compressionNone     = 1
	compressionDeflate  = 8
	photometricRGB      = 2
	planarContig        = 1
	keyModelType        = 1024
	keyRasterType       = 1025
	keyGeographicType   = 2048
	keyProjectedCSType  = 3072
	modelTypeProjected  = 1
	modelTypeGeographic = 2
	rasterPixelIsArea   = 1
)

// Field types.
const (
	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
)

// EPSG codes understood by the writer.
const (
	EPSGWebMercator = 3857
	EPSGWGS84       = 4326
)

// Compression modes.
const (
	None    = "none"
	Deflate = "deflate"
)

var (
	// ErrNotGeoTIFF is returned by ReadInfo for files without georeferencing.
	ErrNotGeoTIFF = errors.New("not a georeferenced tiff")

	byteOrder = binary.LittleEndian
)

// GeoTransform is a north-up affine transform: the upper-left corner of the
// raster and the ground size of one pixel. PixelHeight is positive.
type GeoTransform struct {
	OriginX, OriginY        float64
	PixelWidth, PixelHeight float64
}

// Options controls encoding.
type Options struct {
	Compression string
	Software    string
	EPSG        int
}

// Info is what ReadInfo recovers from a file.
type Info struct {
	Transform GeoTransform
	Width     int
	Height    int
	EPSG      int
}

// Bounds returns the raster extent as west, north, east, south.
func (i Info) Bounds() (west, north, east, south float64) {
	t := i.Transform
	return t.OriginX, t.OriginY,
		t.OriginX + float64(i.Width)*t.PixelWidth,
		t.OriginY - float64(i.Height)*t.PixelHeight
}

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// Encode writes img as an RGB GeoTIFF.
func Encode(w io.Writer, img image.Image, gt GeoTransform, opts Options) error {
	if opts.EPSG == 0 {
		opts.EPSG = EPSGWebMercator
	}
	if opts.Compression == "" {
		opts.Compression = Deflate
	}

	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width <= 0 || height <= 0 {
		return fmt.Errorf("empty image %dx%d", width, height)
	}

	pix, compression, err := encodePixels(img, opts.Compression)
	if err != nil {
		return err
	}

	keys, err := geoKeys(opts.EPSG)
	if err != nil {
		return err
	}

	entries := []entry{
		longs(tagImageWidth, uint32(width)),
		longs(tagImageLength, uint32(height)),
		shorts(tagBitsPerSample, 8, 8, 8),
		shorts(tagCompression, compression),
		shorts(tagPhotometric, photometricRGB),
		longs(tagStripOffsets, 0), // patched below
		shorts(tagSamplesPerPixel, 3),
		longs(tagRowsPerStrip, uint32(height)),
		longs(tagStripByteCounts, uint32(len(pix))),
		shorts(tagPlanarConfig, planarContig),
		doubles(tagModelPixelScale, gt.PixelWidth, gt.PixelHeight, 0),
		doubles(tagModelTiepoint, 0, 0, 0, gt.OriginX, gt.OriginY, 0),
		shorts(tagGeoKeyDirectory, keys...),
	}
	if opts.Software != "" {
		entries = append(entries, ascii(tagSoftware, opts.Software))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	const headerSize = 8
	ifdSize := 2 + 12*len(entries) + 4
	extraOffset := headerSize + ifdSize

	// Values over four bytes live after the IFD, word aligned.
	offsets := make([]uint32, len(entries))
	next := extraOffset
	for i, e := range entries {
		if len(e.data) <= 4 {
			continue
		}
		offsets[i] = uint32(next)
		next += len(e.data) + len(e.data)%2
	}
	stripOffset := uint32(next)

	for i := range entries {
		if entries[i].tag == tagStripOffsets {
			entries[i] = longs(tagStripOffsets, stripOffset)
		}
	}

	var buf bytes.Buffer
	buf.Grow(int(stripOffset))
	buf.WriteString("II")
	_ = binary.Write(&buf, byteOrder, uint16(42))
	_ = binary.Write(&buf, byteOrder, uint32(headerSize))

	_ = binary.Write(&buf, byteOrder, uint16(len(entries)))
	for i, e := range entries {
		_ = binary.Write(&buf, byteOrder, e.tag)
		_ = binary.Write(&buf, byteOrder, e.typ)
		_ = binary.Write(&buf, byteOrder, e.count)
		if len(e.data) <= 4 {
			var inline [4]byte
			copy(inline[:], e.data)
			buf.Write(inline[:])
		} else {
			_ = binary.Write(&buf, byteOrder, offsets[i])
		}
	}
	_ = binary.Write(&buf, byteOrder, uint32(0))

	for _, e := range entries {
		if len(e.data) <= 4 {
			continue
		}
		buf.Write(e.data)
		if len(e.data)%2 == 1 {
			buf.WriteByte(0)
		}
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	_, err = w.Write(pix)
	return err
}

func encodePixels(img image.Image, mode string) ([]byte, uint16, error) {
	rgba, ok := img.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(img.Bounds())
		draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	}

	b := rgba.Bounds()
	raw := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := rgba.Pix[rgba.PixOffset(b.Min.X, y):rgba.PixOffset(b.Max.X, y)]
		for x := 0; x < len(row); x += 4 {
			raw = append(raw, row[x], row[x+1], row[x+2])
		}
	}

	switch mode {
	case None:
		return raw, compressionNone, nil
	case Deflate:
		var out bytes.Buffer
		zw := zlib.NewWriter(&out)
		if _, err := zw.Write(raw); err != nil {
			return nil, 0, err
		}
		if err := zw.Close(); err != nil {
			return nil, 0, err
		}
		return out.Bytes(), compressionDeflate, nil
	}

	return nil, 0, fmt.Errorf("unsupported compression %q", mode)
}

func geoKeys(epsg int) ([]uint16, error) {
	switch epsg {
	case EPSGWebMercator:
		return []uint16{
			1, 1, 0, 3,
			keyModelType, 0, 1, modelTypeProjected,
			keyRasterType, 0, 1, rasterPixelIsArea,
			keyProjectedCSType, 0, 1, EPSGWebMercator,
		}, nil
	case EPSGWGS84:
		return []uint16{
			1, 1, 0, 3,
			keyModelType, 0, 1, modelTypeGeographic,
			keyRasterType, 0, 1, rasterPixelIsArea,
			keyGeographicType, 0, 1, EPSGWGS84,
		}, nil
	}

	return nil, fmt.Errorf("unsupported EPSG:%d", epsg)
}

func shorts(tag uint16, v ...uint16) entry {
	data := make([]byte, 2*len(v))
	for i, s := range v {
		byteOrder.PutUint16(data[2*i:], s)
	}
	return entry{tag: tag, typ: typeShort, count: uint32(len(v)), data: data}
}

func longs(tag uint16, v ...uint32) entry {
	data := make([]byte, 4*len(v))
	for i, l := range v {
		byteOrder.PutUint32(data[4*i:], l)
	}
	return entry{tag: tag, typ: typeLong, count: uint32(len(v)), data: data}
}

func doubles(tag uint16, v ...float64) entry {
	data := make([]byte, 8*len(v))
	for i, f := range v {
		byteOrder.PutUint64(data[8*i:], math.Float64bits(f))
	}
	return entry{tag: tag, typ: typeDouble, count: uint32(len(v)), data: data}
}

func ascii(tag uint16, s string) entry {
	data := append([]byte(s), 0)
	return entry{tag: tag, typ: typeASCII, count: uint32(len(data)), data: data}
}
