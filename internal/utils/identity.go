package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// DeviceIdentity holds the persistent identity of this device. Every offline
// event is stamped with the device id so the backend can attribute changes.
type DeviceIdentity struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name,omitempty"`
}

var currentIdentity *DeviceIdentity

// GetDeviceIdentity returns the loaded identity, initializing it if needed
func GetDeviceIdentity() *DeviceIdentity {
	if currentIdentity == nil {
		_ = LoadOrGenerateDeviceIdentity()
	}
	return currentIdentity
}

// LoadOrGenerateDeviceIdentity ensures the device has a stable identity
// across restarts. It checks ENV vars first, then a local file, and
// generates a new id if neither exist.
func LoadOrGenerateDeviceIdentity() error {
	// 1. Check Env Vars (Priority)
	if envID := os.Getenv("DEVICE_ID"); envID != "" {
		currentIdentity = &DeviceIdentity{
			DeviceID: envID,
			Name:     os.Getenv("DEVICE_NAME"),
		}
		return nil
	}

	// 2. Check local persistence file
	configDir := ".shelfsync"
	identityFile := filepath.Join(configDir, "device_identity.json")

	if _, err := os.Stat(identityFile); err == nil {
		data, err := os.ReadFile(identityFile)
		if err == nil {
			var identity DeviceIdentity
			if err := json.Unmarshal(data, &identity); err == nil && identity.DeviceID != "" {
				currentIdentity = &identity
				return nil
			}
		}
	}

	// 3. Generate new identity and persist it
	identity := &DeviceIdentity{
		DeviceID: "device_" + uuid.NewString(),
		Name:     os.Getenv("DEVICE_NAME"),
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fmt.Errorf("failed to create identity directory: %w", err)
	}

	data, err := json.MarshalIndent(identity, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}

	if err := os.WriteFile(identityFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to persist identity: %w", err)
	}

	currentIdentity = identity
	return nil
}
