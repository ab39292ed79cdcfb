package security

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrSchemeNotAllowed = errors.New("URL scheme is not allowed")
	ErrLocalTarget      = errors.New("local network targets are not allowed")
)

// OutboundURLOptions relaxes the checks applied to provider base URLs.
type OutboundURLOptions struct {
	AllowHTTP          bool
	AllowLocalNetworks bool
}

// LocalOptions is the policy for a base URL the operator explicitly marked
// as local, e.g. a proxy or a mock server on the same host.
func LocalOptions() OutboundURLOptions {
	return OutboundURLOptions{AllowHTTP: true, AllowLocalNetworks: true}
}

// OptionsFor returns LocalOptions when allowLocal is set and the strict
// policy otherwise.
func OptionsFor(allowLocal bool) OutboundURLOptions {
	if allowLocal {
		return LocalOptions()
	}
	return OutboundURLOptions{}
}

// ValidateOutboundURL checks a provider base URL before any request is sent
// to it. IP literals are checked without DNS lookups; hostnames are only
// matched against well-known local suffixes.
func ValidateOutboundURL(rawURL string, opts OutboundURLOptions) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, "invalid URL")
	}

	switch u.Scheme {
	case "https":
	case "http":
		if !opts.AllowHTTP {
			return errors.Wrapf(ErrSchemeNotAllowed, "%s", u.Scheme)
		}
	default:
		return errors.Wrapf(ErrSchemeNotAllowed, "%q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return errors.New("URL host is required")
	}
	if opts.AllowLocalNetworks {
		return checkAddr(host, true)
	}
	if isLocalHostname(host) {
		return errors.Wrapf(ErrLocalTarget, "hostname %q", host)
	}
	return checkAddr(host, false)
}

func isLocalHostname(host string) bool {
	return host == "localhost" ||
		strings.HasSuffix(host, ".localhost") ||
		strings.HasSuffix(host, ".local") ||
		strings.HasSuffix(host, ".internal")
}

func checkAddr(host string, allowLocal bool) error {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		// not an IP literal
		return nil
	}
	if addr.Zone() != "" && !allowLocal {
		return errors.Wrapf(ErrLocalTarget, "zoned address %q", host)
	}
	addr = addr.Unmap()
	if addr.IsUnspecified() || addr.IsMulticast() {
		return errors.Errorf("address %q cannot be a request target", host)
	}
	if !allowLocal && (addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()) {
		return errors.Wrapf(ErrLocalTarget, "address %q", host)
	}
	return nil
}
