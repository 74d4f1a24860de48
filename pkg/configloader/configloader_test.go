// pkg/configloader/configloader_test.go
package configloader_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/YaganovValera/livefeed/pkg/configloader"
)

type sample struct {
	Name    string        `mapstructure:"name"`
	Timeout time.Duration `mapstructure:"timeout"`
	Brokers []string      `mapstructure:"brokers"`
	Enabled bool          `mapstructure:"enabled"`
	Nested  struct {
		Ratio float64 `mapstructure:"ratio"`
	} `mapstructure:"nested"`
}

type validated struct {
	Port int `mapstructure:"port"`
}

func (v validated) Validate() error {
	if v.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_FileAndDefaults(t *testing.T) {
	configloader.RegisterDefaults("timeout", "3s")
	path := writeFile(t, "name: demo\nbrokers: a:9092,b:9092\nnested:\n  ratio: 0.5\n")

	var cfg sample
	if err := configloader.Load(path, "CLTEST", &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "demo" {
		t.Errorf("Name = %q; want demo", cfg.Name)
	}
	if cfg.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v; want 3s", cfg.Timeout)
	}
	if len(cfg.Brokers) != 2 || cfg.Brokers[1] != "b:9092" {
		t.Errorf("Brokers = %v", cfg.Brokers)
	}
	if cfg.Nested.Ratio != 0.5 {
		t.Errorf("Nested.Ratio = %v", cfg.Nested.Ratio)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	configloader.RegisterDefaults("enabled", false)
	path := writeFile(t, "name: fromfile\n")
	t.Setenv("CLTEST_NAME", "fromenv")
	t.Setenv("CLTEST_ENABLED", "true")

	var cfg sample
	if err := configloader.Load(path, "CLTEST", &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "fromenv" {
		t.Errorf("Name = %q; want fromenv", cfg.Name)
	}
	if !cfg.Enabled {
		t.Error("Enabled should be true from env")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeFile(t, "port: 0\n")
	var cfg validated
	if err := configloader.Load(path, "CLTEST", &cfg); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoad_BadFile(t *testing.T) {
	path := writeFile(t, "name: [unterminated\n")
	var cfg sample
	if err := configloader.Load(path, "CLTEST", &cfg); err == nil {
		t.Fatal("expected parse error")
	}
}
