package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/Utcp/internal/client"
	"github.com/Pablu23/Utcp/internal/server"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "utcp.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Address() != "127.0.0.1:13374" {
		t.Errorf("Address() = %s", cfg.Address())
	}
	if cfg.Level() != log.InfoLevel {
		t.Errorf("Level() = %v, want info", cfg.Level())
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
mode: server
host: 0.0.0.0
port: 9000
log_level: debug
retransmit_timeout: 50ms
idle_timeout: 1m
metrics:
  listen: ":9100"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := Default()
	want.Mode = ModeServer
	want.Host = "0.0.0.0"
	want.Port = 9000
	want.LogLevel = "debug"
	want.RetransmitTimeout = 50 * time.Millisecond
	want.IdleTimeout = time.Minute
	want.Metrics.Listen = ":9100"

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}
	if cfg.Level() != log.DebugLevel {
		t.Errorf("Level() = %v, want debug", cfg.Level())
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of a missing file succeeded")
	}
	if _, err := Load(writeConfig(t, "port: [1, 2]\n")); err == nil {
		t.Error("Load of malformed YAML succeeded")
	}
	if _, err := Load(writeConfig(t, "mode: relay\n")); err == nil {
		t.Error("Load of an invalid mode succeeded")
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Mode = "relay"
	cfg.Host = ""
	cfg.Port = 70000
	cfg.LogLevel = "loud"
	cfg.ChunkSize = 4096
	cfg.Metrics.Listen = "no port"

	err := cfg.Validate()
	merr, ok := err.(*multierror.Error)
	if !ok {
		t.Fatalf("Validate error = %T, want *multierror.Error", err)
	}
	if len(merr.Errors) != 6 {
		t.Errorf("got %d errors, want 6:\n%v", len(merr.Errors), merr)
	}
}

func TestClientNeedsPort(t *testing.T) {
	cfg := Default()
	cfg.Port = 0
	if cfg.Validate() == nil {
		t.Error("client without port validated")
	}

	cfg.Mode = ModeServer
	if err := cfg.Validate(); err != nil {
		t.Errorf("server on an ephemeral port: %v", err)
	}
}

func TestOptionAdapters(t *testing.T) {
	cfg := Default()
	cfg.RetransmitTimeout = time.Second
	cfg.IdleTimeout = time.Minute
	cfg.Linger = 0
	cfg.ChunkSize = 100
	cfg.InboxSize = 8

	so := server.NewDefaultOptions()
	cfg.ServerOptions(nil)(so)
	if so.RetransmitTimeout != time.Second || so.IdleTimeout != time.Minute || so.InboxSize != 8 {
		t.Errorf("server options = %+v", so)
	}

	co := client.NewDefaultOptions()
	cfg.ClientOptions(nil)(co)
	if co.RetransmitTimeout != time.Second || co.IdleTimeout != time.Minute || co.Linger != 0 || co.ChunkSize != 100 {
		t.Errorf("client options = %+v", co)
	}
}
