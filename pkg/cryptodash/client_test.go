package cryptodash

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"cryptodash/internal/config"
	"cryptodash/internal/util"
)

func TestNewWiresComponents(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	cfg.Storage.ArchiveDir = t.TempDir()

	c, err := New(context.Background(), cfg, util.Discard(), Hooks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if c.Users == nil || c.Market == nil || c.Bus == nil || c.Dashboards == nil {
		t.Fatal("expected core components to be wired")
	}
	if c.Archive == nil {
		t.Error("expected archive when archive_dir is set")
	}
	if c.Users.SignedIn(context.Background()) {
		t.Error("fresh store should not be signed in")
	}
}

func TestUnauthorizedHookReachesUI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	cfg.Storage.ArchiveDir = ""
	cfg.UserAPI.BaseURL = srv.URL

	redirected := false
	c, err := New(context.Background(), cfg, util.Discard(), Hooks{OnUnauthorized: func() { redirected = true }})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Tokens.SetToken(ctx, "expired"); err != nil {
		t.Fatal(err)
	}
	if err := c.Watchlist.Load(ctx); err == nil {
		t.Fatal("expected error from 401")
	}
	if !redirected {
		t.Error("OnUnauthorized not called")
	}
	if c.Users.SignedIn(ctx) {
		t.Error("token should be cleared after 401")
	}
	if c.Archive != nil {
		t.Error("archive should be disabled without archive_dir")
	}
}
