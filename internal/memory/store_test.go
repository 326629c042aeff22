package memory_test

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HendryAvila/memgraph/internal/memory"
)

// newTestStore creates a Store backed by a temp directory for isolation.
func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	s, err := memory.New(memory.Config{
		DataDir:          t.TempDir(),
		MaxContentLength: 4000,
		MaxSearchResults: 50,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustAdd(t *testing.T, s *memory.Store, p memory.AddParams) *memory.Memory {
	t.Helper()
	m, err := s.Add(context.Background(), p)
	if err != nil {
		t.Fatalf("Add(%q): %v", p.Content, err)
	}
	return m
}

// recordingObserver captures every notification.
type recordingObserver struct {
	mu   sync.Mutex
	seen []memory.Memory
}

func (o *recordingObserver) MemoryChanged(_ context.Context, m memory.Memory) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, m)
}

// ─── New / Initialization ───────────────────────────────────────────────────

func TestNew_IdempotentReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := memory.Config{DataDir: dir, MaxContentLength: 4000, MaxSearchResults: 50}

	s1, err := memory.New(cfg)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	m, err := s1.Add(context.Background(), memory.AddParams{Content: "persist me"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	s1.Close()

	// Reopen: data persists and migrations re-run
	s2, err := memory.New(cfg)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("memory not found after reopen: %v", err)
	}
	if got.Content != "persist me" {
		t.Errorf("content = %q, want %q", got.Content, "persist me")
	}
}

// ─── Add ────────────────────────────────────────────────────────────────────

func TestOpen_PragmasOnEveryConnection(t *testing.T) {
	db, err := memory.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	// Hold several connections at once so the pool has to open new ones.
	var conns []*sql.Conn
	for i := 0; i < 3; i++ {
		c, err := db.Conn(ctx)
		if err != nil {
			t.Fatalf("Conn %d: %v", i, err)
		}
		conns = append(conns, c)
	}
	for i, c := range conns {
		var fk, busy int
		if err := c.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
			t.Fatalf("conn %d foreign_keys: %v", i, err)
		}
		if err := c.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy); err != nil {
			t.Fatalf("conn %d busy_timeout: %v", i, err)
		}
		if fk != 1 || busy != 5000 {
			t.Errorf("conn %d: foreign_keys=%d busy_timeout=%d, want 1 and 5000", i, fk, busy)
		}
		_ = c.Close()
	}
}

func TestAdd_Defaults(t *testing.T) {
	s := newTestStore(t)
	m := mustAdd(t, s, memory.AddParams{Content: "  use tabs in Makefiles  "})

	if m.Content != "use tabs in Makefiles" {
		t.Errorf("Content = %q, want trimmed", m.Content)
	}
	if m.Type != memory.TypeNote {
		t.Errorf("Type = %q, want %q", m.Type, memory.TypeNote)
	}
	if m.Layer != memory.LayerLongTerm {
		t.Errorf("Layer = %q, want %q", m.Layer, memory.LayerLongTerm)
	}
	if m.Scope != memory.ScopeGlobal {
		t.Errorf("Scope = %q, want %q", m.Scope, memory.ScopeGlobal)
	}
	if len(m.Tags) != 0 {
		t.Errorf("Tags = %v, want empty", m.Tags)
	}
}

func TestAdd_RuleTypeDefaultsToRuleLayer(t *testing.T) {
	s := newTestStore(t)
	m := mustAdd(t, s, memory.AddParams{Content: "never commit secrets", Type: "RULE"})
	if m.Type != memory.TypeRule || m.Layer != memory.LayerRule {
		t.Errorf("type/layer = %s/%s, want rule/rule", m.Type, m.Layer)
	}
}

func TestAdd_ProjectScopeInferred(t *testing.T) {
	s := newTestStore(t)
	m := mustAdd(t, s, memory.AddParams{Content: "api uses grpc", ProjectID: "api"})
	if m.Scope != memory.ScopeProject {
		t.Errorf("Scope = %q, want project", m.Scope)
	}
	if m.ProjectID == nil || *m.ProjectID != "api" {
		t.Errorf("ProjectID = %v, want api", m.ProjectID)
	}
}

func TestAdd_TagsNormalized(t *testing.T) {
	s := newTestStore(t)
	m := mustAdd(t, s, memory.AddParams{
		Content: "tagged",
		Tags:    []string{" Auth ", "auth", "", "Token Refresh"},
	})
	want := []string{"auth", "token-refresh"}
	if strings.Join(m.Tags, ",") != strings.Join(want, ",") {
		t.Errorf("Tags = %v, want %v", m.Tags, want)
	}
}

func TestAdd_Validation(t *testing.T) {
	s := newTestStore(t)
	cases := []memory.AddParams{
		{Content: "   "},
		{Content: "x", Type: "opinion"},
		{Content: "x", Layer: "forever"},
	}
	for _, p := range cases {
		if _, err := s.Add(context.Background(), p); !errors.Is(err, memory.ErrInvalid) {
			t.Errorf("Add(%+v) error = %v, want ErrInvalid", p, err)
		}
	}
}

func TestAdd_PrivateTagsStripped(t *testing.T) {
	s := newTestStore(t)
	m := mustAdd(t, s, memory.AddParams{Content: "token is <private>abc123</private> rotated weekly"})
	if strings.Contains(m.Content, "abc123") {
		t.Errorf("private content leaked: %q", m.Content)
	}
}

func TestAdd_TruncatesLongContent(t *testing.T) {
	s, err := memory.New(memory.Config{DataDir: t.TempDir(), MaxContentLength: 10, MaxSearchResults: 5})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	m, err := s.Add(context.Background(), memory.AddParams{Content: strings.Repeat("a", 50)})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(m.Content, "... [truncated]") {
		t.Errorf("Content = %q, want truncated suffix", m.Content)
	}
}

// ─── Observer ───────────────────────────────────────────────────────────────

func TestObserver_NotifiedOnEveryWrite(t *testing.T) {
	s := newTestStore(t)
	obs := &recordingObserver{}
	s.SetObserver(obs)
	ctx := context.Background()

	m := mustAdd(t, s, memory.AddParams{Content: "first", Tags: []string{"a"}})
	content := "second"
	if _, err := s.Update(ctx, m.ID, memory.UpdateParams{Content: &content}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := s.CopyToProject(ctx, m.ID, "other"); err != nil {
		t.Fatalf("CopyToProject: %v", err)
	}
	if err := s.Delete(ctx, m.ID, false); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if len(obs.seen) != 4 {
		t.Fatalf("notifications = %d, want 4", len(obs.seen))
	}
	if obs.seen[1].Content != "second" {
		t.Errorf("update notification content = %q", obs.seen[1].Content)
	}
	if obs.seen[2].ProjectID == nil || *obs.seen[2].ProjectID != "other" {
		t.Errorf("copy notification project = %v", obs.seen[2].ProjectID)
	}
	if !obs.seen[3].Deleted() {
		t.Error("delete notification should carry DeletedAt")
	}
}

func TestObserver_NotCalledWhenWriteFails(t *testing.T) {
	s := newTestStore(t)
	obs := &recordingObserver{}
	s.SetObserver(obs)
	s.FailExec(func(q string) bool { return strings.Contains(q, "INSERT INTO memories") }, errors.New("disk full"))

	if _, err := s.Add(context.Background(), memory.AddParams{Content: "lost"}); err == nil {
		t.Fatal("expected error")
	}
	if len(obs.seen) != 0 {
		t.Errorf("observer called %d times for failed write", len(obs.seen))
	}
}

// ─── Update / Delete / Copy ─────────────────────────────────────────────────

func TestUpdate_PartialFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)
	m := mustAdd(t, s, memory.AddParams{Content: "keep", Tags: []string{"x"}, Category: "Infra", ExpiresAt: &exp})

	tags := []string{"y", "z"}
	got, err := s.Update(ctx, m.ID, memory.UpdateParams{Tags: &tags, ClearExpiry: true})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Content != "keep" {
		t.Errorf("Content changed: %q", got.Content)
	}
	if strings.Join(got.Tags, ",") != "y,z" {
		t.Errorf("Tags = %v", got.Tags)
	}
	if got.Category == nil || *got.Category != "infra" {
		t.Errorf("Category = %v, want infra", got.Category)
	}
	if got.ExpiresAt != nil {
		t.Errorf("ExpiresAt = %v, want cleared", *got.ExpiresAt)
	}
}

func TestDelete_SoftHidesFromReads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := mustAdd(t, s, memory.AddParams{Content: "ephemeral note"})

	if err := s.Delete(ctx, m.ID, false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, m.ID); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("Get after delete error = %v, want ErrNotFound", err)
	}
	res, err := s.Search(ctx, "ephemeral", memory.SearchOptions{Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 0 {
		t.Errorf("search returned %d deleted memories", len(res))
	}
}

func TestCopyToProject_RequiresTarget(t *testing.T) {
	s := newTestStore(t)
	m := mustAdd(t, s, memory.AddParams{Content: "copy me"})
	if _, err := s.CopyToProject(context.Background(), m.ID, " "); !errors.Is(err, memory.ErrInvalid) {
		t.Errorf("error = %v, want ErrInvalid", err)
	}
}

// ─── Search ─────────────────────────────────────────────────────────────────

func TestSearch_KeywordAndFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustAdd(t, s, memory.AddParams{Content: "jwt tokens expire after one hour", TenantID: "t1", ProjectID: "api"})
	mustAdd(t, s, memory.AddParams{Content: "jwt signing key lives in vault", TenantID: "t1", Scope: "global"})
	mustAdd(t, s, memory.AddParams{Content: "jwt for the web app", TenantID: "t1", ProjectID: "web"})
	mustAdd(t, s, memory.AddParams{Content: "jwt in another tenant", TenantID: "t2"})

	res, err := s.Search(ctx, "jwt", memory.SearchOptions{
		Filter: memory.Filter{TenantID: "t1", ProjectID: "api"},
		Limit:  10,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("len = %d, want 2 (project + global)", len(res))
	}
	for _, r := range res {
		if strings.Contains(r.Content, "web app") || strings.Contains(r.Content, "another tenant") {
			t.Errorf("unexpected result %q", r.Content)
		}
	}
}

func TestSearch_LayerFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustAdd(t, s, memory.AddParams{Content: "deploy on fridays is forbidden", Type: "rule"})
	mustAdd(t, s, memory.AddParams{Content: "deploy pipeline takes ten minutes", Layer: "working"})

	res, err := s.Search(ctx, "deploy", memory.SearchOptions{
		Filter: memory.Filter{Layers: []string{memory.LayerWorking}},
		Limit:  10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Layer != memory.LayerWorking {
		t.Fatalf("results = %+v, want only the working memory", res)
	}
}

func TestSearch_ExcludesExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	mustAdd(t, s, memory.AddParams{Content: "stale cache key format", ExpiresAt: &past})
	mustAdd(t, s, memory.AddParams{Content: "current cache key format"})

	res, err := s.Search(ctx, "cache", memory.SearchOptions{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || !strings.Contains(res[0].Content, "current") {
		t.Fatalf("results = %+v, want only the unexpired memory", res)
	}
}

func TestSearch_EmptyQueryFallsBackToRecent(t *testing.T) {
	s := newTestStore(t)
	mustAdd(t, s, memory.AddParams{Content: "one"})
	mustAdd(t, s, memory.AddParams{Content: "two"})

	res, err := s.Search(context.Background(), "   ", memory.SearchOptions{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 {
		t.Errorf("len = %d, want 2", len(res))
	}
}

func TestSearch_QuotesAreSanitized(t *testing.T) {
	s := newTestStore(t)
	mustAdd(t, s, memory.AddParams{Content: "quoted \"value\" handling"})
	if _, err := s.Search(context.Background(), `"value`, memory.SearchOptions{Limit: 5}); err != nil {
		t.Fatalf("Search with stray quote: %v", err)
	}
}

func TestSearch_LimitCappedByConfig(t *testing.T) {
	s, err := memory.New(memory.Config{DataDir: t.TempDir(), MaxContentLength: 100, MaxSearchResults: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	for i := 0; i < 5; i++ {
		mustAdd(t, s, memory.AddParams{Content: "repeat keyword"})
	}
	res, err := s.Search(context.Background(), "keyword", memory.SearchOptions{Limit: 50})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 {
		t.Errorf("len = %d, want 2", len(res))
	}
}

// ─── GetMany / Rules / ListActive ───────────────────────────────────────────

func TestGetMany_PreservesOrderAndFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustAdd(t, s, memory.AddParams{Content: "a"})
	b := mustAdd(t, s, memory.AddParams{Content: "b", Layer: "working"})
	c := mustAdd(t, s, memory.AddParams{Content: "c"})
	if err := s.Delete(ctx, c.ID, false); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetMany(ctx, []int64{c.ID, b.ID, a.ID}, memory.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != b.ID || got[1].ID != a.ID {
		t.Fatalf("GetMany = %+v, want [b a]", got)
	}

	got, err = s.GetMany(ctx, []int64{b.ID, a.ID}, memory.Filter{Layers: []string{memory.LayerLongTerm}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("filtered GetMany = %+v, want [a]", got)
	}
}

func TestRules_OnlyRuleLayerInScope(t *testing.T) {
	s := newTestStore(t)
	mustAdd(t, s, memory.AddParams{Content: "always run gofmt", Type: "rule"})
	mustAdd(t, s, memory.AddParams{Content: "api rule", Type: "rule", ProjectID: "api"})
	mustAdd(t, s, memory.AddParams{Content: "web rule", Type: "rule", ProjectID: "web"})
	mustAdd(t, s, memory.AddParams{Content: "just a note"})

	rules, err := s.Rules(context.Background(), memory.Filter{ProjectID: "api"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 2 {
		t.Fatalf("len = %d, want 2", len(rules))
	}
	for _, r := range rules {
		if r.Layer != memory.LayerRule || r.Content == "web rule" {
			t.Errorf("unexpected rule %+v", r)
		}
	}
}

func TestListActive_Pages(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		mustAdd(t, s, memory.AddParams{Content: "page"})
	}
	first, err := s.ListActive(context.Background(), 0, 3)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.ListActive(context.Background(), first[len(first)-1].ID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 3 || len(second) != 2 {
		t.Errorf("pages = %d/%d, want 3/2", len(first), len(second))
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	mustAdd(t, s, memory.AddParams{Content: "r", Type: "rule", ProjectID: "api"})
	mustAdd(t, s, memory.AddParams{Content: "n"})

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalMemories != 2 || stats.ByLayer[memory.LayerRule] != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if len(stats.Projects) != 1 || stats.Projects[0] != "api" {
		t.Errorf("projects = %v", stats.Projects)
	}
}

func TestParseTime(t *testing.T) {
	for _, in := range []string{"2026-01-02 03:04:05", "2026-01-02T03:04:05Z", "2026-01-02"} {
		if _, err := memory.ParseTime(in); err != nil {
			t.Errorf("ParseTime(%q): %v", in, err)
		}
	}
	if _, err := memory.ParseTime("next tuesday"); err == nil {
		t.Error("expected error for free text")
	}
}
