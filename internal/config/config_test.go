package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mpataki/geolaunch/internal/invoker"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GEOLAUNCH_SCRIPTS_DIR", "GEOLAUNCH_INTERPRETER", "GEOLAUNCH_LOG_LEVEL",
		"GEOLAUNCH_TIMEOUT", "GEOLAUNCH_EXIT_POLICY",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("GEOLAUNCH_DATA_DIR", dir)

	c, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if c.ScriptsDir != filepath.Join(dir, "scripts") {
		t.Errorf("ScriptsDir = %q", c.ScriptsDir)
	}
	if c.Interpreter != "python3" || c.Timeout != 0 || c.ExitPolicy != invoker.ExitInformational {
		t.Errorf("config = %+v", c)
	}
	if dirs := c.CatalogDirs(); len(dirs) != 2 || dirs[1] != filepath.Join(dir, "operations") {
		t.Errorf("CatalogDirs = %v", dirs)
	}
	if c.Level() != log.InfoLevel {
		t.Errorf("Level = %v", c.Level())
	}
}

func TestFileThenEnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("GEOLAUNCH_DATA_DIR", dir)

	cfg := `
scripts_dir: /srv/geo/scripts
interpreter: python3.11
timeout: 90s
exit_policy: fail
log_level: debug
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(cfg), 0600); err != nil {
		t.Fatal(err)
	}

	c, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if c.ScriptsDir != "/srv/geo/scripts" || c.Interpreter != "python3.11" {
		t.Errorf("config = %+v", c)
	}
	if c.Timeout != 90*time.Second || c.ExitPolicy != invoker.ExitFail || c.Level() != log.DebugLevel {
		t.Errorf("config = %+v", c)
	}

	t.Setenv("GEOLAUNCH_TIMEOUT", "5m")
	t.Setenv("GEOLAUNCH_EXIT_POLICY", "informational")
	t.Setenv("GEOLAUNCH_SCRIPTS_DIR", "/opt/scripts")

	c, err = New()
	if err != nil {
		t.Fatal(err)
	}
	if c.Timeout != 5*time.Minute || c.ExitPolicy != invoker.ExitInformational || c.ScriptsDir != "/opt/scripts" {
		t.Errorf("env overrides not applied: %+v", c)
	}
}

func TestInvalidValues(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("GEOLAUNCH_DATA_DIR", dir)

	t.Setenv("GEOLAUNCH_TIMEOUT", "soon")
	if _, err := New(); err == nil {
		t.Error("expected error for bad timeout")
	}

	t.Setenv("GEOLAUNCH_TIMEOUT", "-1s")
	if _, err := New(); err == nil {
		t.Error("expected error for negative timeout")
	}

	os.Unsetenv("GEOLAUNCH_TIMEOUT")
	t.Setenv("GEOLAUNCH_EXIT_POLICY", "retry")
	if _, err := New(); err == nil {
		t.Error("expected error for bad exit policy")
	}
}

func TestEnsureDataDir(t *testing.T) {
	clearEnv(t)
	dir := filepath.Join(t.TempDir(), "nested")
	t.Setenv("GEOLAUNCH_DATA_DIR", dir)

	c, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if err := c.EnsureDataDir(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(c.UserCatalogDir); err != nil {
		t.Errorf("catalog dir not created: %v", err)
	}
}
