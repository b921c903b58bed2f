package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Pricing.FloorPrice != 500 || cfg.Pricing.Urgency24h != 1.5 {
		t.Fatalf("unexpected pricing defaults: %+v", cfg.Pricing)
	}
	if cfg.Retry.Delay() != 100*time.Millisecond || cfg.Relay.Every() != 2*time.Second {
		t.Fatalf("unexpected durations: %v %v", cfg.Retry.Delay(), cfg.Relay.Every())
	}
}

func TestFromYAMLKeepsUnsetPricingDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("pricing:\n  floor_price: 900\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Pricing.FloorPrice != 900 {
		t.Fatalf("floor not applied: %d", cfg.Pricing.FloorPrice)
	}
	if cfg.Pricing.BasePricePerWord != 0.5 {
		t.Fatalf("per-word default lost: %v", cfg.Pricing.BasePricePerWord)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad webhook url":  "webhooks:\n  - url: ftp://x\n",
		"missing url":      "webhooks:\n  - name: a\n",
		"duplicate names":  "webhooks:\n  - name: a\n    url: http://a\n  - name: a\n    url: http://b\n",
		"redis no addr":    "realtime:\n  backend: redis\n",
		"unknown backend":  "realtime:\n  backend: kafka\n",
		"broker scheme":    "broker:\n  url: http://rabbit\n",
		"bad retry delay":  "retry:\n  base_delay: soon\n",
		"percent overflow": "pricing:\n  supervisor_percentage: 70\n  platform_percentage: 40\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("missing file should yield defaults: %v", err)
	}
	doc := "webhooks:\n  - name: billing\n    url: https://example.com/hook\n    events: [project.transitioned]\n"
	if err := os.WriteFile(filepath.Join(dir, "doerline.yml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Webhooks) != 1 || cfg.WebhookName(0) != "webhook:billing" {
		t.Fatalf("unexpected webhooks: %+v", cfg.Webhooks)
	}
	if !strings.HasSuffix(Path(dir), "doerline.yml") {
		t.Fatalf("path: %s", Path(dir))
	}
}
