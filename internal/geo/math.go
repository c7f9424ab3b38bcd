// Package geo handles Web Mercator coordinates, windows and tile math.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Web Mercator (EPSG:3857) constants.
const (
	EarthRadius     = 6378137.0
	OriginShift     = math.Pi * EarthRadius // 20037508.342789244
	WorldExtent     = 2 * OriginShift
	DefaultTileSize = 256
)

// ProjWin is a window in EPSG:3857 ordered as GDAL expects it:
// upper-left X, upper-left Y, lower-right X, lower-right Y.
type ProjWin struct {
	West, North, East, South float64
}

// Width is the window extent along X in meters.
func (w ProjWin) Width() float64 { return w.East - w.West }

// Height is the window extent along Y in meters.
func (w ProjWin) Height() float64 { return w.North - w.South }

// Center returns the window center.
func (w ProjWin) Center() orb.Point {
	return orb.Point{(w.West + w.East) / 2, (w.North + w.South) / 2}
}

// Slice returns the window as [west, north, east, south].
func (w ProjWin) Slice() []float64 {
	return []float64{w.West, w.North, w.East, w.South}
}

// ToWebMercator projects a geographic lon/lat (EPSG:4326) to EPSG:3857 meters.
func ToWebMercator(lon, lat float64) orb.Point {
	return project.WGS84.ToMercator(orb.Point{lon, lat})
}

// FromWebMercator converts EPSG:3857 meters back to lon/lat.
func FromWebMercator(x, y float64) orb.Point {
	return project.Mercator.ToWGS84(orb.Point{x, y})
}

// CenterBuffer returns a square window of side buffer meters centered on the
// projected lon/lat. The window is not clamped to the projection extent.
func CenterBuffer(lon, lat, buffer float64) ProjWin {
	c := ToWebMercator(lon, lat)
	half := buffer / 2

	return ProjWin{
		West:  c.X() - half,
		North: c.Y() + half,
		East:  c.X() + half,
		South: c.Y() - half,
	}
}

// Resolution is the ground size of one pixel in meters at zoom z.
func Resolution(z, tileSize int) float64 {
	return WorldExtent / float64(tileSize) / float64(uint64(1)<<uint(z))
}

// ZoomForResolution returns the coarsest zoom, capped at maxZoom, whose pixels
// are at least as fine as res.
func ZoomForResolution(res float64, maxZoom, tileSize int) int {
	for z := 0; z < maxZoom; z++ {
		if Resolution(z, tileSize) <= res {
			return z
		}
	}

	return maxZoom
}

// PixelAt converts EPSG:3857 meters to global pixel coordinates at zoom z,
// with the origin in the upper-left corner of the world.
func PixelAt(x, y float64, z, tileSize int) (px, py float64) {
	res := Resolution(z, tileSize)
	return (x + OriginShift) / res, (OriginShift - y) / res
}
