// Package identity derives stable listing keys from marketplace URLs.
package identity

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ckwflash/LiveHack2025/domain"
)

// marketplaceLabel is the host label shared by every supported storefront
// (shopee.sg, shopee.co.id, shopee.com.my, ...).
const marketplaceLabel = "shopee"

// listingPattern matches the "i.<shopId>.<itemId>" marker. It is searched
// for anywhere in the URL because storefronts put it at varying path depth
// and append segments or query strings after it.
var listingPattern = regexp.MustCompile(`i\.(\d+)\.(\d+)`)

// Resolve returns the listing key for rawURL, or domain.ErrNotRecognized.
func Resolve(rawURL string) (domain.ListingKey, error) {
	if strings.TrimSpace(rawURL) == "" {
		return domain.ListingKey{}, fmt.Errorf("empty url: %w", domain.ErrNotRecognized)
	}

	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return domain.ListingKey{}, fmt.Errorf("malformed url %q: %w", rawURL, domain.ErrNotRecognized)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return domain.ListingKey{}, fmt.Errorf("url %q has no host: %w", rawURL, domain.ErrNotRecognized)
	}
	if !isMarketplaceHost(host) {
		return domain.ListingKey{}, fmt.Errorf("host %q is not a supported marketplace: %w", host, domain.ErrNotRecognized)
	}

	match := listingPattern.FindStringSubmatch(rawURL)
	if match == nil {
		return domain.ListingKey{}, fmt.Errorf("no listing id in url %q: %w", rawURL, domain.ErrNotRecognized)
	}

	return domain.ListingKey{
		SourceSite: host,
		ListingID:  match[1] + "_" + match[2],
	}, nil
}

func isMarketplaceHost(host string) bool {
	for _, label := range strings.Split(host, ".") {
		if label == marketplaceLabel {
			return true
		}
	}
	return false
}
