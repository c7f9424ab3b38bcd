// Package basemap crops monthly basemap mosaics to a window and writes GeoTIFFs.
package basemap

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/woozymasta/basemaphist/internal/config"
	"github.com/woozymasta/basemaphist/internal/geo"

	"github.com/paulmach/orb/maptile"
)

// Source is a monthly tile pyramid served over HTTP.
type Source struct {
	URLTemplate string
	APIKey      string
	TileLevel   int
	TileSize    int
	Bands       int
}

// NewSource builds a Source from configuration, filling defaults.
func NewSource(c config.Source) Source {
	s := Source{
		URLTemplate: c.URL,
		APIKey:      c.APIKey,
		TileLevel:   c.TileLevel,
		TileSize:    c.TileSize,
		Bands:       c.Bands,
	}
	if s.TileSize <= 0 {
		s.TileSize = geo.DefaultTileSize
	}
	if s.Bands <= 0 {
		s.Bands = 3
	}
	return s
}

// MonthTemplate resolves the month and API key, leaving the tile placeholders.
func (s Source) MonthTemplate(month string) string {
	r := strings.NewReplacer("{month}", month, "{api_key}", s.APIKey)
	return r.Replace(s.URLTemplate)
}

// TileURL returns the URL of one tile of the given month.
func (s Source) TileURL(month string, t maptile.Tile) string {
	return buildURL(s.MonthTemplate(month), t)
}

// Redact hides the API key in u, for logging.
func (s Source) Redact(u string) string {
	if s.APIKey == "" {
		return u
	}
	return strings.ReplaceAll(u, s.APIKey, "***")
}

func buildURL(tpl string, t maptile.Tile) string {
	s := strings.ReplaceAll(tpl, "{z}", fmt.Sprintf("%d", t.Z))
	s = strings.ReplaceAll(s, "{x}", fmt.Sprintf("%d", t.X))
	s = strings.ReplaceAll(s, "{y}", fmt.Sprintf("%d", t.Y))

	if strings.Contains(s, "{tms_y}") {
		maxCoord := (1 << t.Z) - 1
		tmsY := maxCoord - int(t.Y)
		s = strings.ReplaceAll(s, "{tms_y}", fmt.Sprintf("%d", tmsY))
	}

	return s
}

// gdalWMS is the GDAL WMS mini-driver description of a TMS service.
type gdalWMS struct {
	XMLName xml.Name `xml:"GDAL_WMS"`
	Service struct {
		Name      string `xml:"name,attr"`
		ServerURL string `xml:"ServerUrl"`
	} `xml:"Service"`
	DataWindow struct {
		UpperLeftX  string `xml:"UpperLeftX"`
		UpperLeftY  string `xml:"UpperLeftY"`
		LowerRightX string `xml:"LowerRightX"`
		LowerRightY string `xml:"LowerRightY"`
		TileLevel   int    `xml:"TileLevel"`
		TileCountX  int    `xml:"TileCountX"`
		TileCountY  int    `xml:"TileCountY"`
		YOrigin     string `xml:"YOrigin"`
	} `xml:"DataWindow"`
	Projection string    `xml:"Projection"`
	BlockSizeX int       `xml:"BlockSizeX"`
	BlockSizeY int       `xml:"BlockSizeY"`
	BandsCount int       `xml:"BandsCount"`
	Cache      *struct{} `xml:"Cache"`
}

// Descriptor returns the GDAL_WMS XML treating the month mosaic as a virtual raster.
func (s Source) Descriptor(month string) (string, error) {
	tpl := s.MonthTemplate(month)

	var d gdalWMS
	d.Service.Name = "TMS"
	d.DataWindow.YOrigin = "top"
	if strings.Contains(tpl, "{tms_y}") {
		tpl = strings.ReplaceAll(tpl, "{tms_y}", "{y}")
		d.DataWindow.YOrigin = "bottom"
	}
	d.Service.ServerURL = strings.NewReplacer("{z}", "${z}", "{x}", "${x}", "{y}", "${y}").Replace(tpl)

	extent := "20037508.34"
	d.DataWindow.UpperLeftX = "-" + extent
	d.DataWindow.UpperLeftY = extent
	d.DataWindow.LowerRightX = extent
	d.DataWindow.LowerRightY = "-" + extent
	d.DataWindow.TileLevel = s.TileLevel
	d.DataWindow.TileCountX = 1
	d.DataWindow.TileCountY = 1
	d.Projection = "EPSG:3857"
	d.BlockSizeX = s.TileSize
	d.BlockSizeY = s.TileSize
	d.BandsCount = s.Bands
	d.Cache = &struct{}{}

	out, err := xml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal gdal wms descriptor: %w", err)
	}
	return string(out), nil
}
