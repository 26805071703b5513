// Package geo resolves transaction locations and measures the distance
// between them.
package geo

import (
	"math"
	"strings"

	"github.com/ShinTechz/fraud-detection-system/pkg/transaction"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two points using the
// haversine formula.
func DistanceKm(a, b transaction.Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	if h > 1 {
		h = 1
	}
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// Locator resolves the location a transaction was made from.
type Locator interface {
	// Locate returns the point and true, or false when the location is unknown.
	Locate(tx *transaction.Transaction) (transaction.Point, bool)
}

// Chain tries each locator in order and returns the first hit.
type Chain []Locator

// Locate implements Locator.
func (c Chain) Locate(tx *transaction.Transaction) (transaction.Point, bool) {
	for _, l := range c {
		if l == nil {
			continue
		}
		if p, ok := l.Locate(tx); ok {
			return p, true
		}
	}
	return transaction.Point{}, false
}

// Explicit uses the coordinates attached to the transaction, if any.
type Explicit struct{}

// Locate implements Locator.
func (Explicit) Locate(tx *transaction.Transaction) (transaction.Point, bool) {
	if tx.Location == nil {
		return transaction.Point{}, false
	}
	return *tx.Location, true
}

// Gazetteer maps city names (optionally qualified by state) to coordinates.
type Gazetteer struct {
	byCityState map[string]transaction.Point
	byCity      map[string]transaction.Point
}

// NewGazetteer builds a gazetteer from entries. Later entries win on
// duplicate keys.
func NewGazetteer(entries []Place) *Gazetteer {
	g := &Gazetteer{
		byCityState: make(map[string]transaction.Point, len(entries)),
		byCity:      make(map[string]transaction.Point, len(entries)),
	}
	for _, e := range entries {
		g.Add(e)
	}
	return g
}

// Add registers a place.
func (g *Gazetteer) Add(p Place) {
	g.byCityState[key(p.City, p.State)] = p.Point
	g.byCity[normalize(p.City)] = p.Point
}

// Locate implements Locator.
func (g *Gazetteer) Locate(tx *transaction.Transaction) (transaction.Point, bool) {
	if tx.City == "" {
		return transaction.Point{}, false
	}
	if p, ok := g.byCityState[key(tx.City, tx.State)]; ok {
		return p, true
	}
	p, ok := g.byCity[normalize(tx.City)]
	return p, ok
}

// Place is a named location.
type Place struct {
	City  string
	State string
	Point transaction.Point
}

func key(city, state string) string {
	return normalize(city) + "|" + normalize(state)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// DefaultPlaces covers the Brazilian capitals and the foreign cities the
// upstream generator uses for location anomalies.
var DefaultPlaces = []Place{
	{"São Paulo", "SP", transaction.Point{Lat: -23.5505, Lon: -46.6333}},
	{"Rio de Janeiro", "RJ", transaction.Point{Lat: -22.9068, Lon: -43.1729}},
	{"Belo Horizonte", "MG", transaction.Point{Lat: -19.9167, Lon: -43.9345}},
	{"Brasília", "DF", transaction.Point{Lat: -15.7939, Lon: -47.8828}},
	{"Salvador", "BA", transaction.Point{Lat: -12.9777, Lon: -38.5016}},
	{"Fortaleza", "CE", transaction.Point{Lat: -3.7319, Lon: -38.5267}},
	{"Recife", "PE", transaction.Point{Lat: -8.0476, Lon: -34.8770}},
	{"Manaus", "AM", transaction.Point{Lat: -3.1190, Lon: -60.0217}},
	{"Belém", "PA", transaction.Point{Lat: -1.4558, Lon: -48.4902}},
	{"Curitiba", "PR", transaction.Point{Lat: -25.4284, Lon: -49.2733}},
	{"Porto Alegre", "RS", transaction.Point{Lat: -30.0346, Lon: -51.2177}},
	{"Goiânia", "GO", transaction.Point{Lat: -16.6869, Lon: -49.2648}},
	{"Florianópolis", "SC", transaction.Point{Lat: -27.5954, Lon: -48.5480}},
	{"Vitória", "ES", transaction.Point{Lat: -20.3155, Lon: -40.3128}},
	{"Natal", "RN", transaction.Point{Lat: -5.7945, Lon: -35.2110}},
	{"São Luís", "MA", transaction.Point{Lat: -2.5307, Lon: -44.3068}},
	{"Campinas", "SP", transaction.Point{Lat: -22.9099, Lon: -47.0626}},
	{"Tóquio", "EXT", transaction.Point{Lat: 35.6762, Lon: 139.6503}},
	{"Nova York", "EXT", transaction.Point{Lat: 40.7128, Lon: -74.0060}},
	{"Londres", "EXT", transaction.Point{Lat: 51.5074, Lon: -0.1278}},
	{"Dubai", "EXT", transaction.Point{Lat: 25.2048, Lon: 55.2708}},
}

// DefaultLocator resolves explicit coordinates first, then the built-in
// gazetteer.
func DefaultLocator() Locator {
	return Chain{Explicit{}, NewGazetteer(DefaultPlaces)}
}
