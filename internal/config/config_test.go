package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"museu/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Cache.StaleTime.Duration != 30*time.Second {
		t.Fatalf("stale time = %v", cfg.Cache.StaleTime)
	}
	if !cfg.HasMuseum("casa das rosas") {
		t.Fatalf("expected museum lookup to ignore case")
	}
	if !cfg.IsAdministrator("admin") || cfg.IsAdministrator("u1") {
		t.Fatalf("unexpected administrators %v", cfg.Access.Administrators)
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte("coordination:\n  reserved_name: Maria Souza\ncache:\n  stale_time: 2m\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Coordination.ReservedName != "Maria Souza" || cfg.Cache.StaleTime.Duration != 2*time.Minute {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.Network.Museums) == 0 {
		t.Fatalf("defaults should fill museums")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"empty reserved name": "coordination:\n  reserved_name: \"\"\n",
		"bad duration":        "cache:\n  stale_time: soon\n",
		"duplicate museum":    "network:\n  name: x\n  museums: [A, a]\n",
		"bad base path":       "server:\n  base_path: v0\n",
		"duplicate goal":      "goals:\n  - {number: \"1\", name: a}\n  - {number: \"1\", name: b}\n",
		"webhook url":         "webhooks:\n  - url: ftp://x\n",
	}
	for name, doc := range cases {
		if _, err := config.FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadOptionalMissing(t *testing.T) {
	cfg, err := config.LoadOptional(t.TempDir())
	if err != nil || cfg != nil {
		t.Fatalf("expected nil,nil got %v,%v", cfg, err)
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "museu.yml"), []byte(config.GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(dir); err != nil {
		t.Fatalf("load: %v", err)
	}
}
