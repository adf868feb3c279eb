// Package config loads the CONFIG_PATH file consumed by whichever backend
// LIBOS selects. The facade itself only needs the top-level schema
// version and the fields generic to every backend; each backend-specific
// sub-tree is parsed into its own typed struct.
package config

import (
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/mohae/deepcopy"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/flowos/flowos/pkg/errno"
)

// minSupportedVersion and maxSupportedMajor bound the config schema
// versions this build understands: at least minSupportedVersion, and with
// major version maxSupportedMajor.
var (
	minSupportedVersion = "v1.0.0"
	maxSupportedMajor   = "v1"
)

// Config is the top-level CONFIG_PATH schema.
type Config struct {
	Version   string          `yaml:"version"`
	Catnap    CatnapConfig    `yaml:"catnap"`
	Catnip    CatnipConfig    `yaml:"catnip"`
	Catpowder CatpowderConfig `yaml:"catpowder"`
	Catmem    CatmemConfig    `yaml:"catmem"`
}

// CatnapConfig configures the kernel-socket backend.
type CatnapConfig struct {
	// LingerMillis is parsed from the file; the catnap engine does not
	// read it and applies no SO_LINGER setting to its sockets.
	LingerMillis int `yaml:"linger_ms"`
}

// CatnipConfig configures the userspace TCP/IP backend's netstack.
type CatnipConfig struct {
	Interface string `yaml:"interface"`
	MTU       uint32 `yaml:"mtu"`
}

// CatpowderConfig configures the raw-Ethernet backend.
type CatpowderConfig struct {
	Interface string `yaml:"interface"`
}

// CatmemConfig configures the shared-memory queue backend.
type CatmemConfig struct {
	Directory string `yaml:"directory"`
	RingBytes uint32 `yaml:"ring_bytes"`
}

// defaultConfig is deep-copied for every Load so repeated loads (e.g. in
// tests that call Load many times) never share mutable sub-structs.
var defaultConfig = Config{
	Catmem: CatmemConfig{
		Directory: "/dev/shm/flowos",
		RingBytes: 64 * 1024,
	},
}

// Load reads and parses the config file at path. An empty path (CONFIG_PATH
// unset) is a fatal init error rather than falling back to defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config: CONFIG_PATH not set")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := deepcopy.Copy(defaultConfig).(Config)
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := checkVersion(cfg.Version); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func checkVersion(v string) error {
	if v == "" {
		return fmt.Errorf("config: missing version field")
	}
	sv := v
	if sv[0] != 'v' {
		sv = "v" + sv
	}
	if !semver.IsValid(sv) {
		return fmt.Errorf("config: version %q is not valid semver", v)
	}
	if semver.Compare(sv, minSupportedVersion) < 0 {
		return fmt.Errorf("config: version %s older than minimum supported %s", v, minSupportedVersion)
	}
	if semver.Major(sv) != maxSupportedMajor {
		return fmt.Errorf("config: version %s newer than this build supports", v)
	}
	return nil
}

// ValidatePipeName marshals a C string name for create_pipe/open_pipe:
// EINVAL if the bytes copied out of the caller's NUL-terminated buffer
// are not valid UTF-8. This is the name concern, distinct from the rest
// of this package's config-file schema, but folded in here since both are
// "bytes from outside the process that need a validation pass before
// anything dispatches on them."
func ValidatePipeName(name string) errno.Errno {
	if !utf8.ValidString(name) {
		return errno.EINVAL
	}
	return errno.OK
}
