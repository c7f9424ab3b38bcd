package features

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

type kmlRoot struct {
	Document   *kmlContainer  `xml:"Document"`
	Folders    []kmlContainer `xml:"Folder"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlContainer struct {
	Name       string         `xml:"name"`
	Documents  []kmlContainer `xml:"Document"`
	Folders    []kmlContainer `xml:"Folder"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlPlacemark struct {
	Point       *kmlCoordinates `xml:"Point"`
	LineString  *kmlCoordinates `xml:"LineString"`
	Polygon     *kmlPolygon     `xml:"Polygon"`
	Multi       *kmlMulti       `xml:"MultiGeometry"`
	Name        string          `xml:"name"`
	Description string          `xml:"description"`
	Data        []kmlData       `xml:"ExtendedData>Data"`
	SimpleData  []kmlSimpleData `xml:"ExtendedData>SchemaData>SimpleData"`
}

type kmlCoordinates struct {
	Coordinates string `xml:"coordinates"`
}

type kmlPolygon struct {
	Outer kmlCoordinates   `xml:"outerBoundaryIs>LinearRing"`
	Inner []kmlCoordinates `xml:"innerBoundaryIs>LinearRing"`
}

type kmlMulti struct {
	Points      []kmlCoordinates `xml:"Point"`
	LineStrings []kmlCoordinates `xml:"LineString"`
	Polygons    []kmlPolygon     `xml:"Polygon"`
}

type kmlData struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

type kmlSimpleData struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// kmlSource exposes each top-level folder as a layer. Placemarks outside any
// folder form a layer named after the document.
type kmlSource struct {
	layers map[string][]kmlPlacemark
	order  []string
}

func openKML(filename string) (*kmlSource, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return parseKML(data)
}

func openKMZ(filename string) (*kmlSource, error) {
	zr, err := zip.OpenReader(filename)
	if err != nil {
		return nil, err
	}
	defer func() { _ = zr.Close() }()

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "doc.kml" {
			doc = f
			break
		}
		if doc == nil && strings.EqualFold(path.Ext(f.Name), ".kml") {
			doc = f
		}
	}
	if doc == nil {
		return nil, fmt.Errorf("no kml document in %s", filename)
	}

	rc, err := doc.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return parseKML(data)
}

func parseKML(data []byte) (*kmlSource, error) {
	var root kmlRoot
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&root); err != nil {
		return nil, fmt.Errorf("parse kml: %w", err)
	}

	s := &kmlSource{layers: make(map[string][]kmlPlacemark)}

	doc := kmlContainer{Name: "doc", Folders: root.Folders, Placemarks: root.Placemarks}
	if root.Document != nil {
		doc = *root.Document
		if doc.Name == "" {
			doc.Name = "doc"
		}
		doc.Folders = append(doc.Folders, root.Folders...)
		doc.Placemarks = append(doc.Placemarks, root.Placemarks...)
	}

	if len(doc.Placemarks) > 0 {
		s.add(doc.Name, doc.Placemarks)
	}
	for _, f := range doc.Folders {
		s.add(f.Name, f.flatten())
	}
	for _, d := range doc.Documents {
		s.add(d.Name, d.flatten())
	}

	return s, nil
}

func (s *kmlSource) add(name string, pms []kmlPlacemark) {
	if name == "" {
		name = "layer"
	}
	unique := name
	for n := 2; ; n++ {
		if _, taken := s.layers[unique]; !taken {
			break
		}
		unique = name + "#" + strconv.Itoa(n)
	}

	s.layers[unique] = pms
	s.order = append(s.order, unique)
}

func (c kmlContainer) flatten() []kmlPlacemark {
	out := append([]kmlPlacemark(nil), c.Placemarks...)
	for _, f := range c.Folders {
		out = append(out, f.flatten()...)
	}
	for _, d := range c.Documents {
		out = append(out, d.flatten()...)
	}
	return out
}

func (s *kmlSource) Layers(context.Context) ([]string, error) {
	return append([]string(nil), s.order...), nil
}

func (s *kmlSource) ReadLayer(_ context.Context, layer string) ([]Feature, error) {
	pms, ok := s.layers[layer]
	if !ok {
		return nil, fmt.Errorf("no layer %q", layer)
	}

	out := make([]Feature, 0, len(pms))
	for i, pm := range pms {
		g, err := pm.geometry()
		if err != nil {
			return nil, fmt.Errorf("placemark %d (%s): %w", i, pm.Name, err)
		}

		props := map[string]interface{}{"name": pm.Name}
		if pm.Description != "" {
			props["description"] = pm.Description
		}
		for _, d := range pm.Data {
			props[d.Name] = strings.TrimSpace(d.Value)
		}
		for _, d := range pm.SimpleData {
			props[d.Name] = strings.TrimSpace(d.Value)
		}

		out = append(out, Feature{Geometry: g, Properties: props, Layer: layer, Index: i})
	}

	return out, nil
}

func (s *kmlSource) Close() error { return nil }

func (pm kmlPlacemark) geometry() (orb.Geometry, error) {
	switch {
	case pm.Point != nil:
		return pm.Point.point()
	case pm.LineString != nil:
		ls, err := parseCoordinates(pm.LineString.Coordinates)
		return orb.LineString(ls), err
	case pm.Polygon != nil:
		return pm.Polygon.polygon()
	case pm.Multi != nil:
		return pm.Multi.collection()
	}
	return nil, nil
}

func (c kmlCoordinates) point() (orb.Point, error) {
	pts, err := parseCoordinates(c.Coordinates)
	if err != nil {
		return orb.Point{}, err
	}
	if len(pts) != 1 {
		return orb.Point{}, fmt.Errorf("point has %d coordinates", len(pts))
	}
	return pts[0], nil
}

func (p kmlPolygon) polygon() (orb.Polygon, error) {
	outer, err := parseCoordinates(p.Outer.Coordinates)
	if err != nil {
		return nil, err
	}

	poly := orb.Polygon{orb.Ring(outer)}
	for _, in := range p.Inner {
		ring, err := parseCoordinates(in.Coordinates)
		if err != nil {
			return nil, err
		}
		poly = append(poly, orb.Ring(ring))
	}
	return poly, nil
}

func (m kmlMulti) collection() (orb.Collection, error) {
	var out orb.Collection
	for _, p := range m.Points {
		pt, err := p.point()
		if err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	for _, l := range m.LineStrings {
		ls, err := parseCoordinates(l.Coordinates)
		if err != nil {
			return nil, err
		}
		out = append(out, orb.LineString(ls))
	}
	for _, p := range m.Polygons {
		poly, err := p.polygon()
		if err != nil {
			return nil, err
		}
		out = append(out, poly)
	}
	return out, nil
}

// parseCoordinates reads whitespace separated lon,lat[,alt] tuples.
func parseCoordinates(s string) ([]orb.Point, error) {
	fields := strings.Fields(s)
	out := make([]orb.Point, 0, len(fields))
	for _, tuple := range fields {
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			return nil, fmt.Errorf("bad coordinate %q", tuple)
		}
		lon, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("bad longitude %q: %w", parts[0], err)
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad latitude %q: %w", parts[1], err)
		}
		out = append(out, orb.Point{lon, lat})
	}
	return out, nil
}
