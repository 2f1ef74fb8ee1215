package port

import (
	"fmt"
	"path"
	"strings"
)

// PadLockKeyName is the unlock script stored beside every cargo payload. Its
// presence defines whether a cargo record exists.
const PadLockKeyName = "pad_lock_key.sh"

// DefaultCargoName names the payload object when the caller gives no filename.
const DefaultCargoName = "cargo"

// ConfigKey is the object key of a port's configuration document.
func ConfigKey(port string) string {
	return fmt.Sprintf("ports/%s/port_authority_config.json", port)
}

// ContainerYardPrefix is the key prefix under which a cargo's objects live.
func ContainerYardPrefix(port, cargoID string) string {
	return fmt.Sprintf("ports/%s/container_yard/%s/", port, cargoID)
}

// CargoKey is the object key of a cargo payload.
func CargoKey(port, cargoID, filename string) string {
	return ContainerYardPrefix(port, cargoID) + filename
}

// PadLockKey is the object key of a cargo's unlock script.
func PadLockKey(port, cargoID string) string {
	return ContainerYardPrefix(port, cargoID) + PadLockKeyName
}

// LegacyManifestKey is the per-manifest layout written by earlier tooling.
func LegacyManifestKey(port, manifest string) string {
	return fmt.Sprintf("ports/%s/cargo_manifests/%s/manifest.json", port, manifest)
}

// CallSign names the resources provisioned for a fleet.
func CallSign(port, fleet string) string {
	return port + "-" + fleet
}

// validName rejects names that would escape their key segment.
func validName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("name must not be empty")
	case strings.Contains(name, "/"):
		return fmt.Errorf("name %q must not contain '/'", name)
	case name == "." || name == "..":
		return fmt.Errorf("name %q is reserved", name)
	}
	return nil
}

// cargoFilename reduces a caller-supplied path to its base name.
func cargoFilename(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" || base == PadLockKeyName {
		return DefaultCargoName
	}
	return base
}
