package models

// Recognised attribution keys.
const (
	UTMSource   = "utm_source"
	UTMMedium   = "utm_medium"
	UTMCampaign = "utm_campaign"
	UTMTerm     = "utm_term"
	UTMContent  = "utm_content"

	ClickIDYandex    = "yclid"
	ClickIDGoogle    = "gclid"
	ClickIDFacebook  = "fbclid"
	ClickIDMicrosoft = "msclkid"
	Referral         = "ref"
)

// UTMKeys lists the UTM parameters in the order they are reported to operators.
var UTMKeys = []string{UTMCampaign, UTMSource, UTMMedium, UTMTerm, UTMContent}

// ClickIDKeys lists the ad-network click identifiers.
var ClickIDKeys = []string{ClickIDYandex, ClickIDGoogle, ClickIDFacebook, ClickIDMicrosoft}

// AttributionKeys is every query parameter that marks a visit as ad-sourced.
var AttributionKeys = []string{
	UTMSource, UTMMedium, UTMCampaign, UTMContent, UTMTerm,
	ClickIDYandex, ClickIDGoogle, ClickIDFacebook, ClickIDMicrosoft, Referral,
}

// Attribution maps recognised parameter names to their captured values.
type Attribution map[string]string

// IsAttributionKey reports whether key is a recognised attribution parameter.
func IsAttributionKey(key string) bool {
	for _, k := range AttributionKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Merge returns a copy of a with values from b filled in where a has none.
// Unrecognised keys from either side are dropped.
func (a Attribution) Merge(b Attribution) Attribution {
	out := make(Attribution)
	for k, v := range b {
		if v != "" && IsAttributionKey(k) {
			out[k] = v
		}
	}
	for k, v := range a {
		if v != "" && IsAttributionKey(k) {
			out[k] = v
		}
	}
	return out
}
