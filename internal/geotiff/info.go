package geotiff

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// ReadInfo reads the size and georeferencing of the first image in r.
func ReadInfo(r io.ReaderAt) (Info, error) {
	var header [8]byte
	if _, err := r.ReadAt(header[:], 0); err != nil {
		return Info{}, fmt.Errorf("read header: %w", err)
	}

	var order binary.ByteOrder
	switch string(header[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return Info{}, fmt.Errorf("bad byte order mark %q", header[:2])
	}
	if order.Uint16(header[2:]) != 42 {
		return Info{}, fmt.Errorf("not a classic tiff")
	}

	ifd := int64(order.Uint32(header[4:]))
	var countBuf [2]byte
	if _, err := r.ReadAt(countBuf[:], ifd); err != nil {
		return Info{}, fmt.Errorf("read ifd: %w", err)
	}
	n := int(order.Uint16(countBuf[:]))

	raw := make([]byte, 12*n)
	if _, err := r.ReadAt(raw, ifd+2); err != nil {
		return Info{}, fmt.Errorf("read ifd entries: %w", err)
	}

	var (
		info             Info
		scale, tiepoint  []float64
		keys             []uint16
		haveGeoReference bool
	)
	for i := 0; i < n; i++ {
		e := raw[12*i : 12*i+12]
		tag := order.Uint16(e)
		typ := order.Uint16(e[2:])
		count := order.Uint32(e[4:])

		data, err := value(r, order, typ, count, e[8:12])
		if err != nil {
			return Info{}, fmt.Errorf("tag %d: %w", tag, err)
		}

		switch tag {
		case tagImageWidth:
			info.Width = int(integer(order, typ, data))
		case tagImageLength:
			info.Height = int(integer(order, typ, data))
		case tagModelPixelScale:
			scale = float64s(order, data)
		case tagModelTiepoint:
			tiepoint = float64s(order, data)
		case tagGeoKeyDirectory:
			keys = uint16s(order, data)
		}
	}

	if len(scale) >= 2 && len(tiepoint) >= 6 {
		haveGeoReference = true
		info.Transform = GeoTransform{
			OriginX:     tiepoint[3] - tiepoint[0]*scale[0],
			OriginY:     tiepoint[4] + tiepoint[1]*scale[1],
			PixelWidth:  scale[0],
			PixelHeight: scale[1],
		}
	}
	if !haveGeoReference {
		return info, ErrNotGeoTIFF
	}

	if len(keys) >= 4 {
		for k := 4; k+3 < len(keys) && k < 4+4*int(keys[3]); k += 4 {
			if keys[k+1] != 0 {
				continue
			}
			if keys[k] == keyProjectedCSType || keys[k] == keyGeographicType {
				info.EPSG = int(keys[k+3])
			}
		}
	}

	return info, nil
}

func typeSize(typ uint16) (int, error) {
	switch typ {
	case 1, typeASCII, 6, 7:
		return 1, nil
	case typeShort, 8:
		return 2, nil
	case typeLong, 9, 11:
		return 4, nil
	case 5, 10, typeDouble:
		return 8, nil
	}
	return 0, fmt.Errorf("unknown field type %d", typ)
}

func value(r io.ReaderAt, order binary.ByteOrder, typ uint16, count uint32, inline []byte) ([]byte, error) {
	size, err := typeSize(typ)
	if err != nil {
		return nil, err
	}

	total := int64(size) * int64(count)
	if total <= 4 {
		return inline[:total], nil
	}
	if total > 1<<20 {
		return nil, fmt.Errorf("value too large: %d bytes", total)
	}

	data := make([]byte, total)
	if _, err := r.ReadAt(data, int64(order.Uint32(inline))); err != nil {
		return nil, err
	}
	return data, nil
}

func integer(order binary.ByteOrder, typ uint16, data []byte) uint32 {
	switch {
	case typ == typeShort && len(data) >= 2:
		return uint32(order.Uint16(data))
	case typ == typeLong && len(data) >= 4:
		return order.Uint32(data)
	}
	return 0
}

func float64s(order binary.ByteOrder, data []byte) []float64 {
	out := make([]float64, len(data)/8)
	for i := range out {
		out[i] = math.Float64frombits(order.Uint64(data[8*i:]))
	}
	return out
}

func uint16s(order binary.ByteOrder, data []byte) []uint16 {
	out := make([]uint16, len(data)/2)
	for i := range out {
		out[i] = order.Uint16(data[2*i:])
	}
	return out
}
