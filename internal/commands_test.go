package internal

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/starford/mailroom/internal/api"
	"github.com/starford/mailroom/internal/cache"
	"github.com/starford/mailroom/internal/localstore"
	"github.com/starford/mailroom/internal/mcpserver"
	"github.com/starford/mailroom/internal/session"
	"github.com/starford/mailroom/internal/templatedrop"
	"github.com/starford/mailroom/internal/testutil"
)

func testConfig(t *testing.T, backendURL string) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Backend.BaseURL = backendURL
	cfg.Store.Path = filepath.Join(dir, "state", "mailroom.db")
	cfg.Templates.DropDir = filepath.Join(dir, "drop")
	return cfg
}

func testOptions(cfg *Config) []Option {
	return []Option{WithConfig(cfg), WithLogger(zap.NewNop())}
}

func signedToken(t *testing.T, email string, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": email,
		"name":  "Ann",
		"exp":   exp.Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestBuildContainerResolvesComponents(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	c, err := BuildContainer(cfg, WithContainerLogger(zap.NewNop()))
	if err != nil {
		t.Fatal(err)
	}
	err = c.Invoke(func(d serveDeps, h *api.Handler, srv *mcpserver.Server, s *templatedrop.Syncer) {
		defer d.Store.Close()
		if h == nil || srv == nil || s == nil {
			t.Error("nil component")
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(cfg.Templates.DropDir); err != nil {
		t.Errorf("drop dir not created: %v", err)
	}
}

func TestContainerResetsCacheOnSessionChange(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	c, err := BuildContainer(cfg, WithContainerLogger(zap.NewNop()))
	if err != nil {
		t.Fatal(err)
	}
	err = c.Invoke(func(store *localstore.DB, sess *session.Session, snapshots *cache.Cache) {
		defer store.Close()
		ctx := context.Background()
		_, _ = snapshots.Read(ctx, cache.KeyContacts, func(context.Context) (any, error) { return "first account", nil })
		if err := sess.SignOut(); err != nil {
			t.Fatal(err)
		}
		if _, _, ok := snapshots.Peek(cache.KeyContacts); ok {
			t.Error("snapshot survived sign out")
		}
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background()); err != errConfigRequired {
		t.Errorf("err = %v", err)
	}
}

func TestLoginWhoAmILogout(t *testing.T) {
	b := testutil.NewBackend(t, "")
	cfg := testConfig(t, b.URL())
	ctx := context.Background()
	var out bytes.Buffer

	exp := time.Now().Add(time.Hour)
	if err := Login(ctx, signedToken(t, "ann@example.com", exp), &out, testOptions(cfg)...); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "signed in as ann@example.com") {
		t.Errorf("login output = %q", out.String())
	}

	// The session survives across processes through the local store.
	out.Reset()
	if err := WhoAmI(ctx, &out, testOptions(cfg)...); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "email: ann@example.com") || !strings.Contains(out.String(), "token: valid") {
		t.Errorf("whoami output = %q", out.String())
	}

	out.Reset()
	if err := Logout(ctx, &out, testOptions(cfg)...); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if err := WhoAmI(ctx, &out, testOptions(cfg)...); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "not signed in" {
		t.Errorf("whoami after logout = %q", out.String())
	}
}

func TestLoginRejectsEmptyToken(t *testing.T) {
	b := testutil.NewBackend(t, "")
	cfg := testConfig(t, b.URL())
	if err := Login(context.Background(), "  ", &bytes.Buffer{}, testOptions(cfg)...); err == nil {
		t.Error("expected error")
	}
}

func TestVerifyEmailCommand(t *testing.T) {
	b := testutil.NewBackend(t, "")
	cfg := testConfig(t, b.URL())
	var out bytes.Buffer

	if err := VerifyEmail(context.Background(), "good", &out, testOptions(cfg)...); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "Email verified" {
		t.Errorf("output = %q", out.String())
	}
	if err := VerifyEmail(context.Background(), "bad", &out, testOptions(cfg)...); err == nil {
		t.Error("expected error for bad token")
	}
}

func TestExportTemplatesCommand(t *testing.T) {
	b := testutil.NewBackend(t, "")
	b.SeedTemplate("Hello", "Hi there")
	cfg := testConfig(t, b.URL())
	ctx := context.Background()
	var out bytes.Buffer

	if err := ExportTemplates(ctx, &out, testOptions(cfg)...); err == nil {
		t.Fatal("export should require a session")
	}

	if err := Login(ctx, "tok", &out, testOptions(cfg)...); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if err := ExportTemplates(ctx, &out, testOptions(cfg)...); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "exported 1 of 1 templates") {
		t.Errorf("output = %q", out.String())
	}
	files, _ := filepath.Glob(filepath.Join(cfg.Templates.DropDir, "*.txt"))
	if len(files) != 1 {
		t.Errorf("files = %v", files)
	}
}
