// Package analytics records anonymized page visits and aggregates them
// for the choropleth dashboard.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/majidkhoshrou/mr-m/internal/domain"
	"github.com/majidkhoshrou/mr-m/internal/middleware"
	"github.com/majidkhoshrou/mr-m/internal/store"
)

// tabNames maps site paths to dashboard tab labels. Visits to paths
// outside this map are not recorded.
var tabNames = map[string]string{
	"/":          "Home",
	"/about":     "About Me",
	"/projects":  "Projects",
	"/research":  "Research",
	"/talks":     "Talks",
	"/ask-mr-m":  "Ask Mr M",
	"/analytics": "Analytics",
	"/contact":   "Contact",
}

var ipv6TailRe = regexp.MustCompile(`(:[^:]+){2}$`)

// Geo is the result of an IP geolocation lookup.
type Geo struct {
	Country   string
	Latitude  *float64
	Longitude *float64
	Proxy     bool
}

// GeoLookup resolves an IP to a coarse location.
type GeoLookup interface {
	Lookup(ctx context.Context, ip string) (Geo, error)
}

// Summary is the aggregated dashboard payload.
type Summary struct {
	TotalVisits         int            `json:"total_visits"`
	ByCountry           map[string]int `json:"by_country"`
	ByDevice            map[string]int `json:"by_device"`
	ByIP                map[string]int `json:"by_ip"`
	ByDay               map[string]int `json:"by_day"`
	ByPath              map[string]int `json:"by_path"`
	ByTab               map[string]int `json:"by_tab"`
	MostVisitedPath     string         `json:"most_visited_path"`
	MostVisitedTab      string         `json:"most_visited_tab"`
	UnknownCountryCount int            `json:"unknown_country_count"`
	VPNCount            int            `json:"vpn_count"`
}

// Service records visits and computes summaries.
type Service struct {
	repo      store.Repository
	geo       GeoLookup
	retention time.Duration
	now       func() time.Time
}

// NewService creates an analytics service with the given retention window.
func NewService(repo store.Repository, geo GeoLookup, retention time.Duration) *Service {
	return &Service{
		repo:      repo,
		geo:       geo,
		retention: retention,
		now:       time.Now,
	}
}

// ParseDevice classifies a User-Agent into Mobile, Tablet, or Desktop.
func ParseDevice(userAgent string) string {
	if userAgent == "" {
		return "Unknown"
	}
	ua := strings.ToLower(userAgent)
	if strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet") {
		return "Tablet"
	}
	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone") {
		return "Mobile"
	}
	return "Desktop"
}

// AnonymizeIP masks the host-identifying portion of an address before
// storage.
func AnonymizeIP(ip string) string {
	if strings.Contains(ip, ":") {
		return ipv6TailRe.ReplaceAllString(ip, "::****")
	}
	parts := strings.Split(ip, ".")
	if len(parts) == 4 {
		return parts[0] + "." + parts[1] + ".***.***"
	}
	return ip
}

// NormalizePath maps a visit's path (taken from the Referer when
// present) to a canonical site path. Returns ("", false) when the path
// is not a tracked page.
func NormalizePath(referer, requestPath string) (string, bool) {
	path := requestPath
	if referer != "" {
		if parsed, err := url.Parse(referer); err == nil && parsed.Path != "" {
			path = parsed.Path
		}
	}
	if path == "" {
		path = "/"
	}
	if path == "/index.html" || path == "/home" {
		path = "/"
	}
	if _, ok := tabNames[path]; !ok {
		return "", false
	}
	return path, true
}

// LogVisit records one page visit. Untracked paths are a no-op.
func (s *Service) LogVisit(ctx context.Context, ip, userAgent, referer, requestPath string) error {
	path, ok := NormalizePath(referer, requestPath)
	if !ok {
		return nil
	}

	visit := &domain.Visit{
		ID:        uuid.NewString(),
		IP:        AnonymizeIP(ip),
		Device:    ParseDevice(userAgent),
		UserAgent: userAgent,
		Timestamp: s.now().UTC(),
		Path:      path,
		Tab:       tabNames[path],
	}

	if middleware.IsPrivateIP(ip) {
		visit.Country = "Local"
	} else {
		geo, err := s.geo.Lookup(ctx, ip)
		if err != nil {
			slog.Warn("geo lookup failed", "error", err)
			visit.Country = "Unknown"
		} else {
			visit.Country = geo.Country
			visit.Latitude = geo.Latitude
			visit.Longitude = geo.Longitude
			visit.Proxy = geo.Proxy
		}
	}

	if err := s.repo.InsertVisit(ctx, visit); err != nil {
		return fmt.Errorf("record visit: %w", err)
	}

	// Retention pruning rides along with writes so old rows never
	// accumulate unboundedly.
	if _, err := s.repo.PruneVisits(ctx, s.now().Add(-s.retention)); err != nil {
		slog.Warn("failed to prune old visits", "error", err)
	}

	return nil
}

// Visits returns the raw visit log inside the retention window.
func (s *Service) Visits(ctx context.Context) ([]*domain.Visit, error) {
	return s.repo.ListVisits(ctx, s.now().Add(-s.retention))
}

// Summarize aggregates the visit log for the dashboard.
func (s *Service) Summarize(ctx context.Context) (*Summary, error) {
	visits, err := s.Visits(ctx)
	if err != nil {
		return nil, fmt.Errorf("load visits: %w", err)
	}

	summary := &Summary{
		ByCountry: make(map[string]int),
		ByDevice:  make(map[string]int),
		ByIP:      make(map[string]int),
		ByDay:     make(map[string]int),
		ByPath:    make(map[string]int),
		ByTab:     make(map[string]int),
	}

	for _, visit := range visits {
		summary.TotalVisits++
		summary.ByCountry[visit.Country]++
		summary.ByDevice[visit.Device]++
		summary.ByIP[visit.IP]++
		summary.ByDay[visit.Day()]++
		summary.ByPath[visit.Path]++
		summary.ByTab[visit.Tab]++

		if visit.Country == "Unknown" {
			summary.UnknownCountryCount++
		}
		if visit.Proxy {
			summary.VPNCount++
		}
	}

	summary.MostVisitedPath = maxKey(summary.ByPath)
	summary.MostVisitedTab = maxKey(summary.ByTab)

	return summary, nil
}

func maxKey(counts map[string]int) string {
	best := ""
	bestCount := 0
	for key, count := range counts {
		if count > bestCount || (count == bestCount && best != "" && key < best) {
			best = key
			bestCount = count
		}
	}
	return best
}
