package template

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"pulsar-mailer/services/mailer/models"
	"pulsar-mailer/shared/tokens"
)

// LinkBuilder produces the unsubscribe URL pair for a recipient: the
// direct endpoint URL and a redirect-wrapped "safe" URL for providers
// that rewrite links.
type LinkBuilder struct {
	BaseURL     string
	RedirectURL string
	TokenSecret string
}

// UnsubscribeLinks holds both rendered unsubscribe URLs
type UnsubscribeLinks struct {
	URL     string
	SafeURL string
}

// Links builds the unsubscribe URL pair for one email address
func (b *LinkBuilder) Links(email string) (UnsubscribeLinks, error) {
	if b.BaseURL == "" {
		return UnsubscribeLinks{}, nil
	}

	token, err := tokens.SignUnsubscribe(b.TokenSecret, email)
	if err != nil {
		return UnsubscribeLinks{}, err
	}

	direct := fmt.Sprintf("%s/unsubscribe?token=%s", strings.TrimRight(b.BaseURL, "/"), url.QueryEscape(token))
	safe := direct
	if b.RedirectURL != "" {
		safe = fmt.Sprintf("%s?url=%s", b.RedirectURL, url.QueryEscape(direct))
	}

	return UnsubscribeLinks{URL: direct, SafeURL: safe}, nil
}

// BuildContext assembles the placeholder context for one recipient:
// the recipient's own attributes (top level and under "contato"),
// event metadata under "evento" with derived fields, and the
// unsubscribe URLs under "unsubscribe".
func BuildContext(recipient models.Recipient, event *models.Event, links UnsubscribeLinks) map[string]interface{} {
	context := make(map[string]interface{}, len(recipient.Attributes)+3)

	for key, value := range recipient.Attributes {
		context[key] = value
	}
	context["contato"] = recipient.Attributes

	if event != nil {
		context["evento"] = map[string]string{
			"nome":   event.Name,
			"datas":  FormatDates(dateInput(event)),
			"cidade": event.City,
			"estado": event.State,
			"local":  event.Venue,
			"cupom":  event.Coupon,
			"link":   WithCoupon(event.Link, event.Coupon),
		}
	}

	context["unsubscribe"] = map[string]string{
		"url":      links.URL,
		"safe_url": links.SafeURL,
	}

	return context
}

var ptMonths = [...]string{
	"janeiro", "fevereiro", "março", "abril", "maio", "junho",
	"julho", "agosto", "setembro", "outubro", "novembro", "dezembro",
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", time.RFC3339}

// FormatDates turns a single date or a "D1 a D2" range into a human
// readable Portuguese string. Any parse failure falls back to the raw
// input rather than failing the render.
func FormatDates(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}

	parts := strings.SplitN(raw, " a ", 2)
	start, err := parseDate(parts[0])
	if err != nil {
		return raw
	}

	if len(parts) == 1 || strings.TrimSpace(parts[1]) == strings.TrimSpace(parts[0]) {
		return formatSingle(start)
	}

	end, err := parseDate(parts[1])
	if err != nil {
		return raw
	}

	switch {
	case start.Year() == end.Year() && start.Month() == end.Month():
		return fmt.Sprintf("%d a %d de %s de %d", start.Day(), end.Day(), ptMonths[start.Month()-1], start.Year())
	case start.Year() == end.Year():
		return fmt.Sprintf("%d de %s a %d de %s de %d",
			start.Day(), ptMonths[start.Month()-1], end.Day(), ptMonths[end.Month()-1], start.Year())
	default:
		return fmt.Sprintf("%s a %s", formatSingle(start), formatSingle(end))
	}
}

// WithCoupon injects the coupon query parameter into a link, preserving
// any existing query string and never adding it twice.
func WithCoupon(link, coupon string) string {
	if link == "" || coupon == "" {
		return link
	}

	parsed, err := url.Parse(link)
	if err != nil {
		return link
	}

	query := parsed.Query()
	if query.Get("cupom") != "" {
		return link
	}
	query.Set("cupom", coupon)
	parsed.RawQuery = query.Encode()

	return parsed.String()
}

func dateInput(event *models.Event) string {
	if event.EndDate != "" && event.EndDate != event.StartDate {
		return event.StartDate + " a " + event.EndDate
	}
	return event.StartDate
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

func formatSingle(date time.Time) string {
	return fmt.Sprintf("%d de %s de %d", date.Day(), ptMonths[date.Month()-1], date.Year())
}
