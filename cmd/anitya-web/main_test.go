package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/anitya-web/internal/config"
)

func TestPrintConfigRedactsSecret(t *testing.T) {
	cfg := config.Defaults()
	cfg.SecretKey = "muchsecretverysafe"
	cfg.PermanentSessionLifetime = 2 * time.Hour

	var buf bytes.Buffer
	if err := printConfig(&buf, cfg); err != nil {
		t.Fatalf("printConfig returned error: %v", err)
	}
	out := buf.String()

	if strings.Contains(out, "muchsecretverysafe") {
		t.Fatalf("secret key leaked into output:\n%s", out)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not valid YAML: %v", err)
	}
	if doc[config.KeyPermanentSessionLifetime] != 7200 {
		t.Fatalf("expected lifetime in seconds, got %v", doc[config.KeyPermanentSessionLifetime])
	}
	if doc[config.KeyDBURL] != cfg.DBURL {
		t.Fatalf("expected DB_URL %s, got %v", cfg.DBURL, doc[config.KeyDBURL])
	}
}

func TestLoaderOptions(t *testing.T) {
	if opts := loaderOptions(""); len(opts) != 0 {
		t.Fatalf("expected no options without --config")
	}
	if opts := loaderOptions("/srv/anitya.yaml"); len(opts) != 1 {
		t.Fatalf("expected a path option for --config")
	}
}
