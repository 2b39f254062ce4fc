package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsValid(t *testing.T) {
	os.Unsetenv("CONFIG_FILE")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Estimator.Policy != "lowpass" || cfg.Estimator.Alpha != 0.3 || cfg.Estimator.SpeedThreshold != 1.0 {
		t.Fatalf("estimator defaults = %+v", cfg.Estimator)
	}
	if cfg.Registry.PoolSize != 100 {
		t.Fatalf("poolSize default = %d", cfg.Registry.PoolSize)
	}
}

func TestFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("port: \"9000\"\nestimator:\n  policy: window\n  alpha: 0.5\n  speedThreshold: 2\nregistry:\n  poolSize: 25\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9100")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9100" {
		t.Fatalf("env must override file: port = %s", cfg.Port)
	}
	if cfg.Estimator.Policy != "window" || cfg.Estimator.Alpha != 0.5 {
		t.Fatalf("file values lost: %+v", cfg.Estimator)
	}
	if cfg.Registry.PoolSize != 25 {
		t.Fatalf("poolSize = %d", cfg.Registry.PoolSize)
	}
}

func TestInvalidPolicyRejected(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("ESTIMATOR_POLICY", "kalman")
	if _, err := Load(); err == nil {
		t.Fatal("unknown policy must fail validation")
	}
}

func TestSeedVehicleIDs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	if err := os.WriteFile(path, []byte("- BUS-1\n- BUS-2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := Default()
	cfg.Seed.File = path
	ids, err := cfg.SeedVehicleIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "BUS-1" {
		t.Fatalf("ids = %v", ids)
	}
	cfg.Seed.File = ""
	cfg.Seed.Vehicles = []string{"X"}
	ids, _ = cfg.SeedVehicleIDs()
	if len(ids) != 1 || ids[0] != "X" {
		t.Fatalf("inline ids = %v", ids)
	}
}
