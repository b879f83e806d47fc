package scraper

import "net/http"

// Identity is a consistent set of browser headers used for one request.
type Identity struct {
	Name      string
	UserAgent string
	Headers   map[string]string
}

// Header returns a fresh header set for the identity.
func (id Identity) Header() http.Header {
	h := http.Header{}
	h.Set("User-Agent", id.UserAgent)
	for k, v := range id.Headers {
		h.Set(k, v)
	}
	return h
}

const acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"

// Identities is the rotation pool.
var Identities = []Identity{
	{
		Name:      "chrome-windows",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		Headers: map[string]string{
			"Accept":                    acceptHTML,
			"Accept-Language":           "en-GB,en;q=0.9",
			"Sec-Ch-Ua":                 `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`,
			"Sec-Ch-Ua-Mobile":          "?0",
			"Sec-Ch-Ua-Platform":        `"Windows"`,
			"Upgrade-Insecure-Requests": "1",
		},
	},
	{
		Name:      "chrome-mac",
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		Headers: map[string]string{
			"Accept":                    acceptHTML,
			"Accept-Language":           "en-GB,en-US;q=0.9,en;q=0.8",
			"Sec-Ch-Ua":                 `"Google Chrome";v="123", "Not:A-Brand";v="8", "Chromium";v="123"`,
			"Sec-Ch-Ua-Mobile":          "?0",
			"Sec-Ch-Ua-Platform":        `"macOS"`,
			"Upgrade-Insecure-Requests": "1",
		},
	},
	{
		Name:      "edge-windows",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
		Headers: map[string]string{
			"Accept":             acceptHTML,
			"Accept-Language":    "en-GB,en;q=0.9,en-US;q=0.8",
			"Sec-Ch-Ua":          `"Chromium";v="124", "Microsoft Edge";v="124", "Not-A.Brand";v="99"`,
			"Sec-Ch-Ua-Mobile":   "?0",
			"Sec-Ch-Ua-Platform": `"Windows"`,
		},
	},
	{
		Name:      "firefox-windows",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
		Headers: map[string]string{
			"Accept":                    acceptHTML,
			"Accept-Language":           "en-GB,en;q=0.5",
			"DNT":                       "1",
			"Upgrade-Insecure-Requests": "1",
		},
	},
	{
		Name:      "safari-mac",
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
		Headers: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "en-GB,en;q=0.9",
		},
	},
}

// Referrers are plausible upstream sites for a public-sector page.
var Referrers = []string{
	"https://www.google.co.uk/",
	"https://www.bing.com/",
	"https://duckduckgo.com/",
	"https://www.gov.uk/",
}
