package console

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// settingsFile is the well-known name of the single JSON settings blob
const settingsFile = "pingone-bulk-console.json"

// Settings holds operator credentials and preferences, persisted client
// side as one JSON blob. The client secret is deliberately excluded.
type Settings struct {
	BaseURL       string `json:"baseUrl,omitempty"`
	EnvironmentID string `json:"environmentId,omitempty"`
	ClientID      string `json:"clientId,omitempty"`
	PageSize      int    `json:"pageSize,omitempty"`
}

// SettingsPath returns the location of the settings blob in the user's
// config directory
func SettingsPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, settingsFile), nil
}

// LoadSettings reads the persisted settings blob. A missing file yields
// zero-value settings, not an error.
func LoadSettings() (Settings, error) {
	path, err := SettingsPath()
	if err != nil {
		return Settings{}, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// SaveSettings writes the settings blob, replacing any previous one
func SaveSettings(settings Settings) error {
	path, err := SettingsPath()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
