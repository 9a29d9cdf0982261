// Package gtfsrt fetches and decodes the upstream transit-realtime alerts
// feed into the alerts package's RawAlert shape, including the unicode
// repair and Old-Aramaic translation handling the feed requires.
package gtfsrt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	gtfsrealtime "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"transitalerts/internal/alerts"
)

// Fetcher retrieves and decodes the alerts feed. Descended from the
// teacher's realtime.Fetcher, generalized from MetroTransit's alerts.pb
// endpoint to the Israeli feed and from a single-translation Alert shape to
// the full RawAlert the classifier needs.
type Fetcher struct {
	url     string
	client  *http.Client
	logger  *slog.Logger
}

// NewFetcher creates a feed fetcher with the §5 default 30s hard timeout.
func NewFetcher(url string, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Fetch performs one feed retrieval and decode, returning the raw alerts in
// feed order. A non-200 response or a protobuf decode failure is
// UpstreamUnavailable, left to the caller to classify as fatal per §7.
func (f *Fetcher) Fetch(ctx context.Context) ([]alerts.RawAlert, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch alerts feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alerts feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read alerts feed body: %w", err)
	}

	return Decode(body)
}

// Decode parses a raw protobuf FeedMessage body into RawAlerts.
func Decode(body []byte) ([]alerts.RawAlert, error) {
	feed := &gtfsrealtime.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("parse feed protobuf: %w", err)
	}

	out := make([]alerts.RawAlert, 0, len(feed.GetEntity()))
	for _, entity := range feed.GetEntity() {
		a := entity.GetAlert()
		if a == nil {
			continue
		}

		raw := alerts.RawAlert{
			ID:            entity.GetId(),
			Cause:         a.GetCause().String(),
			Effect:        a.GetEffect().String(),
			URL:           translationsToMap(a.GetUrl()),
			Header:        translationsToMap(a.GetHeaderText()),
			Description:   translationsToMap(a.GetDescriptionText()),
			ActivePeriods: activePeriods(a.GetActivePeriod()),
		}
		if entityBytes, err := proto.Marshal(entity); err == nil {
			raw.RawData = entityBytes
		}

		for _, ie := range a.GetInformedEntity() {
			e := alerts.InformedEntity{
				AgencyID: ie.GetAgencyId(),
				RouteID:  ie.GetRouteId(),
				StopID:   ie.GetStopId(),
			}
			if trip := ie.GetTrip(); trip != nil {
				e.Trip = &alerts.TripDescriptor{
					RouteID:              trip.GetRouteId(),
					TripID:               trip.GetTripId(),
					StartTime:            trip.GetStartTime(),
					ScheduleRelationship: trip.GetScheduleRelationship().String(),
				}
			}
			raw.InformedEntity = append(raw.InformedEntity, e)
		}

		out = append(out, raw)
	}
	return out, nil
}

func activePeriods(periods []*gtfsrealtime.TimeRange) []alerts.ActivePeriod {
	out := make([]alerts.ActivePeriod, 0, len(periods))
	for _, p := range periods {
		out = append(out, alerts.ActivePeriod{
			Start: int64(p.GetStart()),
			End:   int64(p.GetEnd()),
		})
	}
	return out
}

// translationsToMap collects a TranslatedString into a lang -> text map,
// applying the unicode repair to every value. Ported from
// gtfs_rt_translations_to_dict.
func translationsToMap(ts *gtfsrealtime.TranslatedString) alerts.TranslatedText {
	if ts == nil {
		return nil
	}
	out := make(alerts.TranslatedText, len(ts.GetTranslation()))
	for _, t := range ts.GetTranslation() {
		lang := t.GetLanguage()
		if lang == "" {
			lang = "en"
		}
		out[lang] = RepairUnicode(t.GetText())
	}
	return out
}

// allowedUnicodeReplacements mirrors ALLOWED_UNICODE_REPLACEMENTS: only
// these two escape codes are ever repaired, because only these two are
// known to appear mangled in the upstream feed.
var allowedUnicodeReplacements = map[string]string{
	"2013": "–", // en dash
	"2019": "’", // right single quotation mark
}

var unicodeEscapePattern = regexp.MustCompile(`\\u([0-9a-fA-F]{4})`)

// RepairUnicode replaces literal "\uXXXX" escape sequences in text with
// their actual rune, but only for XXXX in {2013, 2019}; any other escape is
// left verbatim, since the upstream feed is known to double-escape only
// those two.
func RepairUnicode(s string) string {
	if !strings.Contains(s, `\u`) {
		return s
	}
	return unicodeEscapePattern.ReplaceAllStringFunc(s, func(m string) string {
		code := strings.ToLower(m[2:])
		if repl, ok := allowedUnicodeReplacements[code]; ok {
			return repl
		}
		return m
	})
}
