package scrape

import (
	"net/http"
	"strings"
)

// BlockType identifies the anti-bot layer that intercepted a fetch.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockFirewall   BlockType = "firewall"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// Interstitial phrases from the protection layers tying sites actually sit
// behind: Cloudflare in front of the larger shop/magazine sites, and the
// WordPress firewall plugins common on hobbyist tying blogs.
var cloudflareMarkers = []string{
	"checking your browser",
	"just a moment...",
	"cf-browser-verification",
	"attention required! | cloudflare",
}

var firewallMarkers = []string{
	"generated by wordfence",
	"sucuri website firewall",
	"your access to this site has been limited",
}

var captchaMarkers = []string{
	"recaptcha",
	"hcaptcha",
	"verify you are human",
	"complete the captcha",
}

// DetectBlock reports whether a response is an anti-bot interstitial rather
// than page content. Blocked fetches are not retried: the same client gets
// the same wall, so the chain moves on to the next scraper instead.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}

	if (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable) &&
		(resp.Header.Get("cf-ray") != "" || resp.Header.Get("cf-mitigated") != "" ||
			strings.EqualFold(resp.Header.Get("server"), "cloudflare")) {
		return true, BlockCloudflare
	}

	page := strings.ToLower(string(body))
	if containsAny(page, cloudflareMarkers) {
		return true, BlockCloudflare
	}
	if containsAny(page, firewallMarkers) {
		return true, BlockFirewall
	}
	if containsAny(page, captchaMarkers) {
		return true, BlockCaptcha
	}

	// A recipe page has real text; a near-empty shell that demands JavaScript
	// or immediately redirects is a client-side render wall.
	if len(body) < 2000 {
		if strings.Contains(page, "<noscript") && strings.Contains(page, "javascript") {
			return true, BlockJSShell
		}
		if strings.Contains(page, `http-equiv="refresh"`) {
			return true, BlockJSShell
		}
	}

	return false, BlockNone
}

func containsAny(page string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(page, m) {
			return true
		}
	}
	return false
}
