package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/majidkhoshrou/mr-m/internal/domain"
)

type fakeRepo struct {
	visits []*domain.Visit
	pruned time.Time
}

func (f *fakeRepo) InsertVisit(_ context.Context, visit *domain.Visit) error {
	f.visits = append(f.visits, visit)
	return nil
}

func (f *fakeRepo) ListVisits(_ context.Context, since time.Time) ([]*domain.Visit, error) {
	var out []*domain.Visit
	for _, v := range f.visits {
		if v.IsRecent(since) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeRepo) PruneVisits(_ context.Context, cutoff time.Time) (int64, error) {
	f.pruned = cutoff
	return 0, nil
}

func (f *fakeRepo) ReplaceChunks(context.Context, []*domain.Chunk) error { return nil }
func (f *fakeRepo) ListChunks(context.Context) ([]*domain.Chunk, error)  { return nil, nil }
func (f *fakeRepo) CountChunks(context.Context) (int64, error)           { return 0, nil }
func (f *fakeRepo) GetConversation(context.Context, string) (*domain.Conversation, error) {
	return nil, nil
}
func (f *fakeRepo) UpsertConversation(context.Context, *domain.Conversation) error { return nil }
func (f *fakeRepo) DeleteConversation(context.Context, string) error               { return nil }
func (f *fakeRepo) CleanupStaleConversations(context.Context, time.Duration) (int64, error) {
	return 0, nil
}
func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close() error               { return nil }

type fakeGeo struct {
	geo   Geo
	calls int
}

func (f *fakeGeo) Lookup(context.Context, string) (Geo, error) {
	f.calls++
	return f.geo, nil
}

func TestParseDevice(t *testing.T) {
	tests := []struct {
		ua   string
		want string
	}{
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) Mobile/15E148", "Mobile"},
		{"Mozilla/5.0 (Linux; Android 13; Pixel 7)", "Mobile"},
		{"Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X)", "Tablet"},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64)", "Desktop"},
		{"", "Unknown"},
	}

	for _, tt := range tests {
		if got := ParseDevice(tt.ua); got != tt.want {
			t.Errorf("ParseDevice(%q) = %q, want %q", tt.ua, got, tt.want)
		}
	}
}

func TestAnonymizeIP(t *testing.T) {
	tests := []struct {
		ip   string
		want string
	}{
		{"203.0.113.9", "203.0.***.***"},
		{"2001:db8:85a3:8d3:1319:8a2e:370:7348", "2001:db8:85a3:8d3:1319::****"},
		{"not-an-ip", "not-an-ip"},
	}

	for _, tt := range tests {
		if got := AnonymizeIP(tt.ip); got != tt.want {
			t.Errorf("AnonymizeIP(%q) = %q, want %q", tt.ip, got, tt.want)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name    string
		referer string
		path    string
		want    string
		wantOK  bool
	}{
		{"referer wins", "https://example.com/research", "/api/log-visit", "/research", true},
		{"index aliases home", "https://example.com/index.html", "", "/", true},
		{"home aliases home", "", "/home", "/", true},
		{"untracked path", "", "/favicon.ico", "", false},
		{"empty defaults to home", "", "", "/", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizePath(tt.referer, tt.path)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("NormalizePath(%q, %q) = (%q, %v), want (%q, %v)",
					tt.referer, tt.path, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestLogVisit(t *testing.T) {
	repo := &fakeRepo{}
	lat, lon := 52.0, 4.3
	geo := &fakeGeo{geo: Geo{Country: "Netherlands", Latitude: &lat, Longitude: &lon}}
	svc := NewService(repo, geo, 30*24*time.Hour)

	err := svc.LogVisit(context.Background(), "203.0.113.9", "Mozilla/5.0 (Windows NT 10.0)", "https://example.com/projects", "")
	if err != nil {
		t.Fatalf("LogVisit failed: %v", err)
	}

	if len(repo.visits) != 1 {
		t.Fatalf("got %d visits, want 1", len(repo.visits))
	}
	visit := repo.visits[0]
	if visit.Path != "/projects" || visit.Tab != "Projects" {
		t.Errorf("visit path/tab = %q/%q", visit.Path, visit.Tab)
	}
	if visit.Country != "Netherlands" {
		t.Errorf("visit country = %q", visit.Country)
	}
	if visit.IP != "203.0.***.***" {
		t.Errorf("visit IP should be anonymized, got %q", visit.IP)
	}
	if visit.Device != "Desktop" {
		t.Errorf("visit device = %q", visit.Device)
	}
	if repo.pruned.IsZero() {
		t.Error("LogVisit should prune old visits")
	}
}

func TestLogVisitLocalSkipsGeo(t *testing.T) {
	repo := &fakeRepo{}
	geo := &fakeGeo{geo: Geo{Country: "Netherlands"}}
	svc := NewService(repo, geo, 30*24*time.Hour)

	if err := svc.LogVisit(context.Background(), "127.0.0.1", "ua", "", "/about"); err != nil {
		t.Fatalf("LogVisit failed: %v", err)
	}

	if geo.calls != 0 {
		t.Errorf("geo lookup should be skipped for local IPs, got %d calls", geo.calls)
	}
	if repo.visits[0].Country != "Local" {
		t.Errorf("country = %q, want Local", repo.visits[0].Country)
	}
}

func TestLogVisitUntrackedPathIsNoOp(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, &fakeGeo{}, 30*24*time.Hour)

	if err := svc.LogVisit(context.Background(), "203.0.113.9", "ua", "", "/robots.txt"); err != nil {
		t.Fatalf("LogVisit failed: %v", err)
	}
	if len(repo.visits) != 0 {
		t.Errorf("untracked path should not be recorded, got %d visits", len(repo.visits))
	}
}

func TestSummarize(t *testing.T) {
	now := time.Now().UTC()
	repo := &fakeRepo{visits: []*domain.Visit{
		{Country: "Netherlands", Device: "Desktop", IP: "a", Path: "/", Tab: "Home", Timestamp: now},
		{Country: "Netherlands", Device: "Mobile", IP: "b", Path: "/", Tab: "Home", Timestamp: now},
		{Country: "Unknown", Device: "Desktop", IP: "a", Path: "/contact", Tab: "Contact", Timestamp: now, Proxy: true},
	}}
	svc := NewService(repo, &fakeGeo{}, 30*24*time.Hour)

	summary, err := svc.Summarize(context.Background())
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	if summary.TotalVisits != 3 {
		t.Errorf("TotalVisits = %d, want 3", summary.TotalVisits)
	}
	if summary.ByCountry["Netherlands"] != 2 {
		t.Errorf("ByCountry[Netherlands] = %d, want 2", summary.ByCountry["Netherlands"])
	}
	if summary.MostVisitedPath != "/" || summary.MostVisitedTab != "Home" {
		t.Errorf("most visited = %q/%q", summary.MostVisitedPath, summary.MostVisitedTab)
	}
	if summary.UnknownCountryCount != 1 {
		t.Errorf("UnknownCountryCount = %d, want 1", summary.UnknownCountryCount)
	}
	if summary.VPNCount != 1 {
		t.Errorf("VPNCount = %d, want 1", summary.VPNCount)
	}
	if summary.ByDay[now.Format("2006-01-02")] != 3 {
		t.Errorf("ByDay = %v", summary.ByDay)
	}
}
