// Package version carries the firmware's build identity, surfaced by
// the console's `version` command per original_source's
// esp_app_get_description()->version line.
package version

// Version is the firmware version string. Overridden at build time via
// -ldflags "-X github.com/tangara-fw/tangara-go/internal/version.Version=...".
var Version = "dev"

// Product and Manufacturer identify the device, matching the strings
// original_source/src/tangara/ui stamps into its USB descriptors.
const (
	Product      = "tangara"
	Manufacturer = "tangara-fw"
)
