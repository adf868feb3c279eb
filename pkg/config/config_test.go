package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/flowos/flowos/pkg/errno"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadEmptyPathIsFatal(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("Load(\"\"): want error, got nil")
	}
}

func TestLoadMissingFileIsFatal(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("Load(missing file): want error, got nil")
	}
}

func TestLoadValidConfigAppliesDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
version: v1.2.0
catnip:
  interface: eth0
  mtu: 1500
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Version != "v1.2.0" {
		t.Fatalf("Version = %q, want v1.2.0", cfg.Version)
	}
	if cfg.Catnip.Interface != "eth0" || cfg.Catnip.MTU != 1500 {
		t.Fatalf("Catnip = %+v, want interface=eth0 mtu=1500", cfg.Catnip)
	}
	if cfg.Catmem.Directory != "/dev/shm/flowos" {
		t.Fatalf("Catmem.Directory = %q, want the default, since the file didn't override it", cfg.Catmem.Directory)
	}
}

func TestLoadRejectsVersionBelowMinimum(t *testing.T) {
	path := writeConfig(t, "version: v0.9.0\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("Load(v0.9.0): want error, got nil")
	}
}

func TestLoadRejectsVersionWithNewerMajor(t *testing.T) {
	path := writeConfig(t, "version: v2.0.0\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("Load(v2.0.0): want error, got nil")
	}
}

func TestLoadRejectsMissingVersion(t *testing.T) {
	path := writeConfig(t, "catmem:\n  directory: /tmp/x\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("Load(no version field): want error, got nil")
	}
}

func TestDefaultConfigIsNotMutatedAcrossLoads(t *testing.T) {
	pathA := writeConfig(t, "version: v1.0.0\ncatmem:\n  directory: /custom/a\n")
	pathB := writeConfig(t, "version: v1.0.0\n")

	if _, err := Load(pathA); err != nil {
		t.Fatalf("Load(a): %v", err)
	}
	cfgB, err := Load(pathB)
	if err != nil {
		t.Fatalf("Load(b): %v", err)
	}
	if cfgB.Catmem.Directory != "/dev/shm/flowos" {
		t.Fatalf("a later Load observed a mutation from an earlier one: got %q", cfgB.Catmem.Directory)
	}
}

func TestValidatePipeNameAcceptsValidUTF8(t *testing.T) {
	for _, name := range []string{"a", "my-pipe", "管道", ""} {
		if e := ValidatePipeName(name); e != errno.OK {
			t.Fatalf("ValidatePipeName(%q): errno %d, want OK", name, e)
		}
	}
}

func TestValidatePipeNameRejectsInvalidUTF8(t *testing.T) {
	// \xff is never valid as the start of a UTF-8 sequence.
	name := "pipe-\xff\xfe"
	if e := ValidatePipeName(name); e != errno.EINVAL {
		t.Fatalf("ValidatePipeName(%q): got errno %d, want EINVAL", name, e)
	}
}
