// FILE: src/internal/limit/acl.go
package limit

import (
	"net"
	"strings"

	"github.com/lixenwraith/log"
)

// ACL holds parsed whitelist and blacklist networks
type ACL struct {
	whitelist []*net.IPNet
	blacklist []*net.IPNet
}

// NewACL parses IP and CIDR entries, skipping invalid ones with a warning
func NewACL(whitelist, blacklist []string, logger *log.Logger) *ACL {
	a := &ACL{}
	for _, entry := range whitelist {
		if ipNet := parseIPEntry(entry, "whitelist", logger); ipNet != nil {
			a.whitelist = append(a.whitelist, ipNet)
		}
	}
	for _, entry := range blacklist {
		if ipNet := parseIPEntry(entry, "blacklist", logger); ipNet != nil {
			a.blacklist = append(a.blacklist, ipNet)
		}
	}
	return a
}

func parseIPEntry(entry, listType string, logger *log.Logger) *net.IPNet {
	entry = strings.TrimSpace(entry)
	if !strings.Contains(entry, "/") {
		ip := net.ParseIP(entry)
		if ip == nil {
			logger.Warn("msg", "Invalid IP entry",
				"component", "netlimit",
				"list", listType,
				"entry", entry)
			return nil
		}
		if v4 := ip.To4(); v4 != nil {
			return &net.IPNet{IP: v4, Mask: net.CIDRMask(32, 32)}
		}
		return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}
	}

	_, ipNet, err := net.ParseCIDR(entry)
	if err != nil {
		logger.Warn("msg", "Invalid CIDR entry",
			"component", "netlimit",
			"list", listType,
			"entry", entry,
			"error", err)
		return nil
	}
	return ipNet
}

// Empty reports whether no rules are configured
func (a *ACL) Empty() bool {
	return a == nil || (len(a.whitelist) == 0 && len(a.blacklist) == 0)
}

// Check returns the denial reason for ip, or ReasonAllowed.
// Blacklist takes precedence over whitelist.
func (a *ACL) Check(ip net.IP) DenialReason {
	if a.Empty() {
		return ReasonAllowed
	}
	for _, ipNet := range a.blacklist {
		if ipNet.Contains(ip) {
			return ReasonBlacklisted
		}
	}
	if len(a.whitelist) == 0 {
		return ReasonAllowed
	}
	for _, ipNet := range a.whitelist {
		if ipNet.Contains(ip) {
			return ReasonAllowed
		}
	}
	return ReasonNotWhitelisted
}

// hostIP extracts the IP from "host:port" or a bare host
func hostIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}
