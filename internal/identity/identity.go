// Package identity reports what this savestated instance is: its version and
// the name it advertises on the network.
package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
)

// DefaultVersion is reported when neither a metadata file nor module build
// information carries a version.
const DefaultVersion = "dev"

// metadataFile lets packagers stamp a release version into the data dir.
const metadataFile = "metadata.json"

// Hostname returns the system hostname, or "savestated" if it is unknown.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "savestated"
	}
	return strings.TrimSuffix(h, ".local")
}

// Version returns the version from dataDir/metadata.json, falling back to the
// main module version and then DefaultVersion.
func Version(dataDir string) string {
	if v := versionFromDir(dataDir); v != "" {
		return v
	}
	return buildVersion()
}

func versionFromDir(dir string) string {
	if dir == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return ""
	}
	var meta struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.TrimSpace(meta.Version), "v")
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return DefaultVersion
	}
	return strings.TrimPrefix(info.Main.Version, "v")
}
