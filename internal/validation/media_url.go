package validation

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"github.com/maheshrc27/postflow/internal/models"
)

// URLOptions controls how self-hosted media URLs are treated.
type URLOptions struct {
	AllowOwnHost bool
	OwnHostname  string
}

type URLResult struct {
	Valid bool
	Error string
}

// URLValidator decides whether the external platform can fetch a media URL.
type URLValidator interface {
	Validate(ctx context.Context, rawURL string, opts URLOptions) URLResult
}

// Resolver looks up the addresses of a host.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type mediaURLValidator struct {
	resolver Resolver
	timeout  time.Duration
}

// NewMediaURLValidator returns a validator that rejects loopback, private and
// link-local hosts. With a non-nil resolver, host names are resolved and every
// address is checked as well.
func NewMediaURLValidator(resolver Resolver) URLValidator {
	return &mediaURLValidator{resolver: resolver, timeout: 3 * time.Second}
}

func (v *mediaURLValidator) Validate(ctx context.Context, rawURL string, opts URLOptions) URLResult {
	if strings.TrimSpace(rawURL) == "" {
		return URLResult{Error: "URL is required"}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return URLResult{Error: fmt.Sprintf("invalid URL: %v", err)}
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return URLResult{Error: fmt.Sprintf("unsupported URL scheme %q", u.Scheme)}
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return URLResult{Error: "URL has no host"}
	}

	if opts.OwnHostname != "" && host == strings.ToLower(opts.OwnHostname) {
		if opts.AllowOwnHost {
			return URLResult{Valid: true}
		}
		return URLResult{Error: fmt.Sprintf("self-hosted URL on %s is not allowed", host)}
	}

	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return URLResult{Error: fmt.Sprintf("host %s is not publicly reachable", host)}
	}

	if ip := net.ParseIP(host); ip != nil {
		if !isPublicIP(ip) {
			return URLResult{Error: fmt.Sprintf("address %s is not publicly reachable", host)}
		}
		return URLResult{Valid: true}
	}

	if v.resolver == nil {
		return URLResult{Valid: true}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	addrs, err := v.resolver.LookupIPAddr(lookupCtx, host)
	if err != nil {
		return URLResult{Error: fmt.Sprintf("host %s cannot be resolved", host)}
	}
	for _, addr := range addrs {
		if !isPublicIP(addr.IP) {
			return URLResult{Error: fmt.Sprintf("host %s resolves to non-public address %s", host, addr.IP)}
		}
	}
	return URLResult{Valid: true}
}

func isPublicIP(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast())
}

var extensionAliases = map[string]string{
	"jpeg": "jpg",
	"tiff": "tif",
}

// ClassifyMediaURL guesses the media type from the URL's file extension. The
// second result is false when the extension is missing or not a known image or
// video format.
func ClassifyMediaURL(rawURL string) (models.MediaType, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
	if ext == "" {
		return "", false
	}
	if alias, ok := extensionAliases[ext]; ok {
		ext = alias
	}

	switch filetype.GetType(ext).MIME.Type {
	case "image":
		return models.MediaTypeImage, true
	case "video":
		return models.MediaTypeVideo, true
	}
	return "", false
}

// MediaTypeOf classifies a media item by URL, falling back to its declared type
// when the URL carries no recognisable extension.
func MediaTypeOf(m *models.Media) models.MediaType {
	if t, ok := ClassifyMediaURL(m.URL); ok {
		return t
	}
	return m.Type
}
