// Package enrich annotates connections with GeoIP country codes.
package enrich

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
	log "github.com/sirupsen/logrus"

	"github.com/irino/nfsession/internal/model"
)

// GeoIP wraps a MaxMind country database. Safe for concurrent lookups.
type GeoIP struct {
	db *geoip2.Reader
}

// Open loads the database at path.
func Open(path string, logger *log.Logger) (*GeoIP, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	logger.WithField("path", path).Info("GeoIP database loaded")
	return &GeoIP{db: db}, nil
}

// Annotate fills the connection's country fields. Addresses that are
// unparseable or absent from the database leave them empty.
func (g *GeoIP) Annotate(con *model.Connection) {
	con.SrcCountry = g.Country(con.Src)
	con.DestCountry = g.Country(con.Dest)
}

// Country returns the ISO country code for an address, or "".
func (g *GeoIP) Country(addr string) string {
	ip := net.ParseIP(addr)
	if ip == nil {
		return ""
	}
	record, err := g.db.Country(ip)
	if err != nil {
		return ""
	}
	return record.Country.IsoCode
}

func (g *GeoIP) Close() error {
	return g.db.Close()
}
