package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	cfg := Default()

	if cfg.RedisHost != "localhost" || cfg.RedisPort != 6379 {
		t.Fatalf("unexpected redis defaults: %+v", cfg)
	}
	if cfg.CartridgesDir != "./cartridges" || cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected path defaults: %+v", cfg)
	}
	if cfg.LockCycles != 50 || cfg.PromotionHitCount != 3 {
		t.Fatalf("unexpected phantom defaults: %+v", cfg)
	}
	if cfg.LayerTimeoutMS["CARTRIDGE"] != 200 {
		t.Fatalf("unexpected layer timeout defaults: %+v", cfg.LayerTimeoutMS)
	}
}

func TestLoadWithNoFilesReturnsDefaults(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != Default().HTTPAddr {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadIgnoresMissingFiles(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("expected missing files to be silently ignored, got %v", err)
	}
	if cfg.LockCycles != Default().LockCycles {
		t.Fatalf("expected defaults when both files are missing, got %+v", cfg)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := "cartridges_dir: /data/cartridges\nhttp_addr: \":9090\"\nlock_cycles: 10\n"
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("unexpected error writing fixture: %v", err)
	}

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CartridgesDir != "/data/cartridges" {
		t.Fatalf("expected cartridges_dir from yaml, got %q", cfg.CartridgesDir)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("expected http_addr from yaml, got %q", cfg.HTTPAddr)
	}
	if cfg.LockCycles != 10 {
		t.Fatalf("expected lock_cycles from yaml, got %d", cfg.LockCycles)
	}
}

func TestLoadEnvFileOverridesYAML(t *testing.T) {
	yamlPath := filepath.Join(t.TempDir(), "config.yaml")
	_ = os.WriteFile(yamlPath, []byte("lock_cycles: 10\n"), 0o644)

	envPath := filepath.Join(t.TempDir(), ".env")
	_ = os.WriteFile(envPath, []byte("# a comment\nLOCK_CYCLES=20\n"), 0o644)

	cfg, err := Load(yamlPath, envPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LockCycles != 20 {
		t.Fatalf("expected the env file to override yaml, got %d", cfg.LockCycles)
	}
}

func TestLoadProcessEnvOverridesEnvFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	_ = os.WriteFile(envPath, []byte("LOCK_CYCLES=20\n"), 0o644)

	t.Setenv("LOCK_CYCLES", "30")

	cfg, err := Load("", envPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LockCycles != 30 {
		t.Fatalf("expected process env to win over the env file, got %d", cfg.LockCycles)
	}
}

func TestLoadPerLayerTimeoutOverrides(t *testing.T) {
	t.Setenv("LAYER1_TIMEOUT_MS", "999")

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LayerTimeoutMS["LAYER1"] != 999 {
		t.Fatalf("expected LAYER1 timeout override to apply, got %+v", cfg.LayerTimeoutMS)
	}
	if cfg.LayerTimeoutMS["CARTRIDGE"] != 200 {
		t.Fatalf("expected other layer timeouts to remain at default, got %+v", cfg.LayerTimeoutMS)
	}
}

func TestLoadInvalidNumericEnvIsIgnored(t *testing.T) {
	t.Setenv("REDIS_PORT", "not-a-number")

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RedisPort != Default().RedisPort {
		t.Fatalf("expected an unparseable env value to leave the default in place, got %d", cfg.RedisPort)
	}
}
