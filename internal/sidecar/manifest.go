package sidecar

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// OverrideFileName is the packager-provided manifest override that may sit
// next to the lunatix executable.
const OverrideFileName = "sidecar.toml"

// DefaultName is the sidecar launched in standalone mode.
const DefaultName = "cpp-server"

//go:embed manifests/*.yaml
var manifestsFS embed.FS

// Manifest describes a bundled sidecar executable.
type Manifest struct {
	Name        string   `yaml:"name"`
	DisplayName string   `yaml:"displayName"`
	Binary      string   `yaml:"binary"`
	Tag         string   `yaml:"tag"`
	PortFlag    string   `yaml:"portFlag"`
	Port        int      `yaml:"port"`
	Args        []string `yaml:"args,omitempty"`
	HealthPath  string   `yaml:"healthPath"`
}

// override is the shape of sidecar.toml. Unset fields keep the embedded value.
type override struct {
	Binary *string  `toml:"binary"`
	Port   *int     `toml:"port"`
	Args   []string `toml:"args"`
}

var manifests = mustLoadManifests(manifestsFS)

func mustLoadManifests(fsys embed.FS) map[string]Manifest {
	entries, err := fsys.ReadDir("manifests")
	if err != nil {
		panic(fmt.Sprintf("sidecar: read manifests dir: %v", err))
	}

	out := make(map[string]Manifest, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		data, readErr := fsys.ReadFile("manifests/" + entry.Name())
		if readErr != nil {
			panic(fmt.Sprintf("sidecar: read manifest %s: %v", entry.Name(), readErr))
		}

		var m Manifest
		if unmarshalErr := yaml.Unmarshal(data, &m); unmarshalErr != nil {
			panic(fmt.Sprintf("sidecar: unmarshal manifest %s: %v", entry.Name(), unmarshalErr))
		}

		if m.Name == "" || m.Binary == "" {
			panic(fmt.Sprintf("sidecar: manifest %s: name and binary are required", entry.Name()))
		}

		if m.Tag == "" {
			m.Tag = m.Name
		}

		if _, dup := out[m.Name]; dup {
			panic(fmt.Sprintf("sidecar: duplicate manifest name %q in %s", m.Name, entry.Name()))
		}

		out[m.Name] = m
	}

	return out
}

// Lookup returns a copy of the named manifest.
func Lookup(name string) (Manifest, bool) {
	m, ok := manifests[name]
	if ok {
		m.Args = append([]string(nil), m.Args...)
	}

	return m, ok
}

// Names returns all bundled sidecar names in sorted order.
func Names() []string {
	names := make([]string, 0, len(manifests))
	for name := range manifests {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// ApplyOverride merges dir/sidecar.toml into m. A missing file is not an error.
func (m *Manifest) ApplyOverride(dir string) error {
	path := filepath.Join(dir, OverrideFileName)

	data, err := os.ReadFile(path) //nolint:gosec // G304: fixed file name inside the install directory
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("read %s: %w", path, err)
	}

	var ov override
	if err := toml.Unmarshal(data, &ov); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if ov.Binary != nil && *ov.Binary != "" {
		m.Binary = *ov.Binary
	}

	if ov.Port != nil {
		if *ov.Port <= 0 || *ov.Port > 65535 {
			return fmt.Errorf("parse %s: invalid port %d", path, *ov.Port)
		}

		m.Port = *ov.Port
	}

	if len(ov.Args) > 0 {
		m.Args = append(m.Args, ov.Args...)
	}

	return nil
}

// ResolveBinary locates the sidecar executable. Candidates in order: the
// explicit path, the binary next to the running executable, then PATH.
func (m *Manifest) ResolveBinary(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, explicit)
		}

		return explicit, nil
	}

	name := m.Binary
	if runtime.GOOS == "windows" && filepath.Ext(name) == "" {
		name += ".exe"
	}

	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, name)
		}

		return name, nil
	}

	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), name)
		if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, name)
	}

	return path, nil
}

// Spec builds the launch spec for binary listening on port.
func (m *Manifest) Spec(binary string, port int) Spec {
	args := make([]string, 0, len(m.Args)+2)
	if m.PortFlag != "" {
		args = append(args, m.PortFlag, strconv.Itoa(port))
	}

	args = append(args, m.Args...)

	return Spec{
		Name: m.Tag,
		Path: binary,
		Args: args,
	}
}

// LocalURL returns the canonical URL a sidecar listening on port is reached at.
func LocalURL(port int) string {
	return "http://localhost:" + strconv.Itoa(port)
}

// ErrUnknownSidecar is returned by Prepare for a name with no manifest.
var ErrUnknownSidecar = errors.New("unknown sidecar")

// Prepare looks up the named manifest, applies sidecar.toml from each of
// overrideDirs in order, resolves the binary and builds the launch spec.
// A positive port replaces the manifest port.
//
// When the binary cannot be found the spec is still returned, pointing at
// the bare binary name, together with an error wrapping ErrBinaryNotFound.
// Callers may keep the spec so that a later launch reports the failure.
func Prepare(name, explicitPath string, port int, overrideDirs ...string) (Manifest, Spec, error) {
	m, ok := Lookup(name)
	if !ok {
		return Manifest{}, Spec{}, fmt.Errorf("%w: %s", ErrUnknownSidecar, name)
	}

	for _, dir := range overrideDirs {
		if dir == "" {
			continue
		}

		if err := m.ApplyOverride(dir); err != nil {
			return m, Spec{}, err
		}
	}

	if port > 0 {
		m.Port = port
	}

	binary, err := m.ResolveBinary(explicitPath)
	if err != nil {
		fallback := explicitPath
		if fallback == "" {
			fallback = m.Binary
		}

		return m, m.Spec(fallback, m.Port), err
	}

	return m, m.Spec(binary, m.Port), nil
}
