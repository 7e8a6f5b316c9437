package service

import (
	"net"
	"net/url"
	"strings"

	"github.com/Ni8crawler18/Phloem/pkg/apperror"
)

// internalSuffixes are hostname suffixes that only resolve on internal
// networks. Endpoints under them are never valid webhook destinations.
var internalSuffixes = []string{".local", ".internal", ".localhost"}

// SafeURLValidator implements ports.URLValidator. It rejects webhook
// destinations that point at private, loopback, or otherwise internal
// address space so the delivery engine cannot be used as an SSRF
// primitive. The check is syntactic: it inspects the literal hostname
// and does not resolve DNS, so rebinding at delivery time is out of
// scope here.
type SafeURLValidator struct{}

// NewSafeURLValidator creates a new URL safety validator.
func NewSafeURLValidator() *SafeURLValidator {
	return &SafeURLValidator{}
}

// Validate checks that rawURL is a plausible public webhook endpoint.
// Any parse failure rejects: we fail closed.
func (v *SafeURLValidator) Validate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return apperror.ErrUnsafeURL("invalid URL")
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return apperror.ErrUnsafeURL("scheme must be http or https")
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return apperror.ErrUnsafeURL("empty hostname")
	}

	if host == "localhost" || host == "0.0.0.0" {
		return apperror.ErrUnsafeURL("hostname points to local machine")
	}

	if ip := net.ParseIP(host); ip != nil {
		if blockedIP(ip) {
			return apperror.ErrUnsafeURL("IP address is in a private or reserved range")
		}
		return nil
	}

	for _, suffix := range internalSuffixes {
		if strings.HasSuffix(host, suffix) {
			return apperror.ErrUnsafeURL("hostname resolves only on internal networks")
		}
	}

	// Single-label hostnames (no dot) are only resolvable through
	// internal search domains.
	if !strings.Contains(host, ".") {
		return apperror.ErrUnsafeURL("single-label hostname")
	}

	return nil
}

func blockedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() ||
		ip.IsMulticast() ||
		!ip.IsGlobalUnicast()
}
