// Package attribution captures advertising and UTM parameters from landing URLs and
// keeps them in cookies until the visitor submits an order.
package attribution

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

const (
	// CookieAdSource holds the JSON-encoded Record.
	CookieAdSource = "ad_source"
	// CookieMaxAge is how long a captured acquisition is remembered.
	CookieMaxAge = 30 * 24 * time.Hour

	unknown = "unknown"
)

// Record is the acquisition summary stored in the ad_source cookie.
type Record struct {
	Source    string    `json:"source"`
	Medium    string    `json:"medium"`
	Campaign  string    `json:"campaign"`
	Content   string    `json:"content"`
	Term      string    `json:"term"`
	Timestamp time.Time `json:"timestamp"`
	YCLID     string    `json:"yclid"`
	GCLID     string    `json:"gclid"`
	FBCLID    string    `json:"fbclid"`
	MSCLKID   string    `json:"msclkid"`
}

// FromQuery extracts recognised attribution parameters. The second result is false when
// the query carries none of them.
func FromQuery(q url.Values) (models.Attribution, bool) {
	attr := make(models.Attribution)
	for _, key := range models.AttributionKeys {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			attr[key] = v
		}
	}
	return attr, len(attr) > 0
}

// NewRecord summarises captured parameters. Source falls back to the referral tag;
// missing source, medium and campaign are reported as "unknown".
func NewRecord(attr models.Attribution, now time.Time) Record {
	return Record{
		Source:    firstNonEmpty(attr[models.UTMSource], attr[models.Referral], unknown),
		Medium:    firstNonEmpty(attr[models.UTMMedium], unknown),
		Campaign:  firstNonEmpty(attr[models.UTMCampaign], unknown),
		Content:   attr[models.UTMContent],
		Term:      attr[models.UTMTerm],
		Timestamp: now.UTC(),
		YCLID:     attr[models.ClickIDYandex],
		GCLID:     attr[models.ClickIDGoogle],
		FBCLID:    attr[models.ClickIDFacebook],
		MSCLKID:   attr[models.ClickIDMicrosoft],
	}
}

// Label is the short advertising-source description stored on the order.
func (r Record) Label() string {
	parts := []string{r.Source}
	if r.Medium != "" && r.Medium != unknown {
		parts = append(parts, r.Medium)
	}
	if r.Campaign != "" && r.Campaign != unknown {
		parts = append(parts, r.Campaign)
	}
	return strings.Join(parts, " / ")
}

// Attribution flattens the record back into parameter form, dropping placeholders.
func (r Record) Attribution() models.Attribution {
	attr := make(models.Attribution)
	set := func(k, v string) {
		if v != "" && v != unknown {
			attr[k] = v
		}
	}
	set(models.UTMSource, r.Source)
	set(models.UTMMedium, r.Medium)
	set(models.UTMCampaign, r.Campaign)
	set(models.UTMContent, r.Content)
	set(models.UTMTerm, r.Term)
	set(models.ClickIDYandex, r.YCLID)
	set(models.ClickIDGoogle, r.GCLID)
	set(models.ClickIDFacebook, r.FBCLID)
	set(models.ClickIDMicrosoft, r.MSCLKID)
	return attr
}

// WriteCookies stores the record and the individual UTM values on the response.
func WriteCookies(w http.ResponseWriter, attr models.Attribution, now time.Time) error {
	data, err := json.Marshal(NewRecord(attr, now))
	if err != nil {
		return err
	}

	http.SetCookie(w, newCookie(CookieAdSource, url.QueryEscape(string(data)), now))
	for _, key := range models.UTMKeys {
		if v := attr[key]; v != "" {
			http.SetCookie(w, newCookie(key, url.QueryEscape(v), now))
		}
	}
	return nil
}

// FromRequest reads attribution cookies back. The record is nil when no ad_source cookie is present
// or it cannot be decoded.
func FromRequest(r *http.Request) (models.Attribution, *Record) {
	attr := make(models.Attribution)
	for _, key := range models.UTMKeys {
		if c, err := r.Cookie(key); err == nil {
			if v, err := url.QueryUnescape(c.Value); err == nil && v != "" {
				attr[key] = v
			}
		}
	}

	c, err := r.Cookie(CookieAdSource)
	if err != nil {
		return attr, nil
	}
	raw, err := url.QueryUnescape(c.Value)
	if err != nil {
		return attr, nil
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return attr, nil
	}
	return attr.Merge(rec.Attribution()), &rec
}

func newCookie(name, value string, now time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  now.Add(CookieMaxAge),
		MaxAge:   int(CookieMaxAge.Seconds()),
		SameSite: http.SameSiteLaxMode,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
