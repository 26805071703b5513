package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/ShinTechz/fraud-detection-system/pkg/transaction"
)

// GeoIPLocator resolves a transaction's IP address against a MaxMind City
// database.
type GeoIPLocator struct {
	db *geoip2.Reader
}

// OpenGeoIP opens a GeoLite2/GeoIP2 City database.
func OpenGeoIP(path string) (*GeoIPLocator, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip city db %s: %w", path, err)
	}
	return &GeoIPLocator{db: db}, nil
}

// Locate implements Locator. Lookups that fail or land on 0,0 are treated as
// unknown.
func (l *GeoIPLocator) Locate(tx *transaction.Transaction) (transaction.Point, bool) {
	if tx.IPAddress == "" {
		return transaction.Point{}, false
	}
	ip := net.ParseIP(tx.IPAddress)
	if ip == nil {
		return transaction.Point{}, false
	}
	city, err := l.db.City(ip)
	if err != nil || city == nil {
		return transaction.Point{}, false
	}
	if city.Location.Latitude == 0 && city.Location.Longitude == 0 {
		return transaction.Point{}, false
	}
	return transaction.Point{Lat: city.Location.Latitude, Lon: city.Location.Longitude}, true
}

// Close releases the database.
func (l *GeoIPLocator) Close() error {
	return l.db.Close()
}
