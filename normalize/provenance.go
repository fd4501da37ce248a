package normalize

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/poiesic/civicrag/core"
)

var (
	districtPattern = regexp.MustCompile(`(?i)indore|इंदौर`)
	wardPattern     = regexp.MustCompile(`(?i)ward[:\s]*(\d+)|वार्ड[:\s]*(\d+)`)
)

// ExtractGeo derives the administrative location from text.
// Country and state are fixed to the deployment region.
func ExtractGeo(text string) core.Geo {
	geo := core.Geo{Country: "IN", State: "MP"}
	if districtPattern.MatchString(text) {
		geo.District = "Indore"
	}
	if m := wardPattern.FindStringSubmatch(text); m != nil {
		n := m[1]
		if n == "" {
			n = m[2]
		}
		geo.Ward = "Ward" + n
	}
	return geo
}

var baseTrust = map[core.SourceType]float64{
	core.SourceTypeGovernment: 1.0,
	core.SourceTypeMedia:      0.8,
	core.SourceTypeYouTube:    0.6,
	core.SourceTypeSocial:     0.5,
}

// TrustScore rates how much a source can be relied on, from 0 to 1.
// Known domains override the per-type base score.
func TrustScore(sourceType core.SourceType, domain string) float64 {
	switch {
	case strings.HasSuffix(domain, "nic.in"), strings.HasSuffix(domain, ".gov.in"):
		return 1.0
	case strings.HasSuffix(domain, "bhaskar.com"), strings.HasSuffix(domain, "indianexpress.com"):
		return 0.85
	case strings.HasSuffix(domain, "indiatoday.in"), strings.HasSuffix(domain, "freepressjournal.in"):
		return 0.80
	}
	if s, ok := baseTrust[sourceType]; ok {
		return s
	}
	return 0.5
}

// Layer returns the evidence layer of a source type: 2 for official records,
// 3 for reporting and posts, 4 for spoken testimony.
func Layer(sourceType core.SourceType) int {
	switch sourceType {
	case core.SourceTypeGovernment:
		return 2
	case core.SourceTypeYouTube:
		return 4
	default:
		return 3
	}
}

// Domain returns the lower-cased host of an external identifier without a leading "www.".
// Identifiers that are not URLs yield "".
func Domain(externalID string) string {
	u, err := url.Parse(externalID)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// DetectLanguage classifies text by the share of Devanagari letters:
// "hi" above 80%, "en" below 20%, "mixed" in between, "unknown" with no letters.
func DetectLanguage(text string) string {
	var dev, latin int
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Devanagari, r) && unicode.IsLetter(r):
			dev++
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}
	total := dev + latin
	if total == 0 {
		return "unknown"
	}
	share := float64(dev) / float64(total)
	switch {
	case share > 0.8:
		return "hi"
	case share < 0.2:
		return "en"
	default:
		return "mixed"
	}
}
