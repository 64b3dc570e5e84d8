package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

func (s *sample) Validate() error {
	if s.Port <= 0 {
		return os.ErrInvalid
	}
	return nil
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "mailroom")
	path := writeFile(t, "name: ${SAMPLE_NAME}\nport: 9000\n")

	got := sample{Port: 1}
	if err := Load(path, &got); err != nil {
		t.Fatal(err)
	}
	if got.Name != "mailroom" || got.Port != 9000 {
		t.Errorf("got %+v", got)
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	path := writeFile(t, "name: only-name\n")
	got := sample{Port: 8080}
	if err := Load(path, &got); err != nil {
		t.Fatal(err)
	}
	if got.Port != 8080 {
		t.Errorf("port = %d", got.Port)
	}
}

func TestLoadValidates(t *testing.T) {
	path := writeFile(t, "port: 0\n")
	got := sample{}
	err := Load(path, &got)
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Errorf("err = %v", err)
	}
}

func TestLoadOptional(t *testing.T) {
	got := sample{Port: 8080}
	if err := LoadOptional(filepath.Join(t.TempDir(), "missing.yaml"), &got); err != nil {
		t.Fatalf("missing file: %v", err)
	}

	bad := sample{}
	if err := LoadOptional(filepath.Join(t.TempDir(), "missing.yaml"), &bad); err == nil {
		t.Error("expected validation error for invalid defaults")
	}

	if err := Load(filepath.Join(t.TempDir(), "missing.yaml"), &got); err == nil {
		t.Error("Load should fail on a missing file")
	}
}
