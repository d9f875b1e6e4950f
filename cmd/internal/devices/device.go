// Package devices records one row per physical realtime connection: who connected, from what kind
// of device, and when and why the connection ended.
package devices

import (
	"strings"

	"github.com/mileusna/useragent"
)

// Class is the coarse device category.
type Class string

const (
	ClassMobile  Class = "mobile"
	ClassTablet  Class = "tablet"
	ClassDesktop Class = "desktop"
)

const unknown = "unknown"

// Info describes the device behind a connection.
type Info struct {
	Class     Class
	OS        string
	Browser   string
	IP        string
	UserAgent string
}

// Parse classifies a raw User-Agent header. Unrecognized agents map to desktop/unknown/unknown.
func Parse(userAgent, ip string) Info {
	raw := strings.TrimSpace(userAgent)
	ua := useragent.Parse(raw)
	return Info{
		Class:     classOf(ua),
		OS:        orUnknown(ua.OS),
		Browser:   orUnknown(ua.Name),
		IP:        strings.TrimSpace(ip),
		UserAgent: raw,
	}
}

// Tablet is checked first: the parser can flag an agent as both mobile and tablet.
func classOf(ua useragent.UserAgent) Class {
	switch {
	case ua.Tablet:
		return ClassTablet
	case ua.Mobile:
		return ClassMobile
	default:
		return ClassDesktop
	}
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return unknown
	}
	return s
}
