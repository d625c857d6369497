// Package device holds the device-identity profile injected into sensitive
// carrier gateway operations. Defaults mirror a current handset build and can
// be overridden per-field from the environment or wholesale from a YAML file.
package device

import (
	"fmt"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile describes the simulated app/device identity.
type Profile struct {
	OS                 string `yaml:"os"`
	OSVersion          string `yaml:"os_version"`
	BuildNumber        string `yaml:"build_number"`
	DeviceManufacturer string `yaml:"device_manufacturer"`
	DeviceModel        string `yaml:"device_model"`
	AppVersion         string `yaml:"app_version"`
	BundleVersion      string `yaml:"bundle_version"`
	ClientName         string `yaml:"client_name"`
	ClientVersion      string `yaml:"client_version"`
}

// Default returns the built-in profile used when no override is configured.
func Default() Profile {
	return Profile{
		OS:                 "Android",
		OSVersion:          "14",
		BuildNumber:        "763",
		DeviceManufacturer: "Google",
		DeviceModel:        "Pixel8",
		AppVersion:         "14.0.8",
		BundleVersion:      "v31",
		ClientName:         "iOS 18.2",
		ClientVersion:      "17.25.2 1321",
	}
}

// FromEnv returns the per-field environment overrides. Unset variables leave
// the corresponding field empty.
func FromEnv() Profile {
	return Profile{
		OS:                 os.Getenv("GG_APP_OS"),
		OSVersion:          os.Getenv("GG_APP_OS_VERSION"),
		BuildNumber:        os.Getenv("GG_APP_BUILD_NUMBER"),
		DeviceManufacturer: os.Getenv("GG_APP_DEVICE_MANUFACTURER"),
		DeviceModel:        os.Getenv("GG_APP_DEVICE_MODEL"),
		AppVersion:         os.Getenv("GG_APP_VERSION"),
		BundleVersion:      os.Getenv("GG_APP_BUNDLE_VERSION"),
		ClientName:         os.Getenv("APOLLO_CLIENT_NAME"),
		ClientVersion:      os.Getenv("APOLLO_CLIENT_VERSION"),
	}
}

// Load builds the effective profile: built-in defaults, then per-field
// environment overrides, then the YAML file when a path is given. The file
// wins over the environment because it is the most explicit configuration.
func Load(path string) (Profile, error) {
	p := Default()
	merge(&p, FromEnv())
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("failed to read device profile: %w", err)
	}

	var override Profile
	if err := yaml.Unmarshal(data, &override); err != nil {
		return p, fmt.Errorf("failed to parse device profile: %w", err)
	}

	merge(&p, override)
	return p, nil
}

func merge(dst *Profile, src Profile) {
	set := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	set(&dst.OS, src.OS)
	set(&dst.OSVersion, src.OSVersion)
	set(&dst.BuildNumber, src.BuildNumber)
	set(&dst.DeviceManufacturer, src.DeviceManufacturer)
	set(&dst.DeviceModel, src.DeviceModel)
	set(&dst.AppVersion, src.AppVersion)
	set(&dst.BundleVersion, src.BundleVersion)
	set(&dst.ClientName, src.ClientName)
	set(&dst.ClientVersion, src.ClientVersion)
}

// Apply stamps the device-identity headers onto h.
func (p Profile) Apply(h http.Header) {
	h.Set("x-gg-app-os", p.OS)
	h.Set("x-gg-app-os-version", p.OSVersion)
	h.Set("x-gg-app-build-number", p.BuildNumber)
	h.Set("x-gg-app-device-manufacturer", p.DeviceManufacturer)
	h.Set("x-gg-app-device-model", p.DeviceModel)
	h.Set("x-gg-app-version", p.AppVersion)
	h.Set("x-gg-app-bundle-version", p.BundleVersion)
	h.Set("apollographql-client-name", p.ClientName)
	h.Set("apollographql-client-version", p.ClientVersion)
}
