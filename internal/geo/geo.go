package geo

import (
	"net"

	"github.com/enescakir/emoji"
	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"
)

// Resolver maps client addresses to ISO country codes. Without a
// database every lookup resolves to the empty string, so callers never
// need to branch on whether geo tagging is configured.
type Resolver struct {
	db *geoip2.Reader
}

// NewResolver opens the MaxMind database at mmdbPath. An empty path
// disables lookups; an unreadable database logs a warning and disables
// them too.
func NewResolver(mmdbPath string, logger *zap.Logger) *Resolver {
	if mmdbPath == "" {
		return &Resolver{}
	}
	db, err := geoip2.Open(mmdbPath)
	if err != nil {
		if logger != nil {
			logger.Warn("geoip database unavailable",
				zap.String("path", mmdbPath),
				zap.Error(err))
		}
		return &Resolver{}
	}
	return &Resolver{db: db}
}

func (r *Resolver) Enabled() bool { return r.db != nil }

func (r *Resolver) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Country returns the ISO country code for addr, which may be an IP or
// host:port. Unknown addresses resolve to "".
func (r *Resolver) Country(addr string) string {
	if r.db == nil || addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return ""
	}
	record, err := r.db.Country(ip)
	if err != nil {
		return ""
	}
	if code := record.Country.IsoCode; code != "" {
		return code
	}
	return record.RegisteredCountry.IsoCode
}

// Flag returns the emoji flag for an ISO country code, falling back to
// the code itself.
func Flag(code string) string {
	if code == "" {
		return ""
	}
	if flag, err := emoji.CountryFlag(code); err == nil {
		return flag.String()
	}
	return code
}
