// Package devseed loads JSON fixtures that pre-populate the in-memory mocks.
package devseed

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// BaseSeedEntry is one record placed in a named Base.
type BaseSeedEntry struct {
	Base string         `json:"base"`
	Item map[string]any `json:"item"`
}

// DriveSeedEntry is one file placed in a named Drive. Exactly one of Base64
// and Text is expected; Base64 wins when both are set.
type DriveSeedEntry struct {
	Drive  string `json:"drive"`
	Name   string `json:"name"`
	Base64 string `json:"base64,omitempty"`
	Text   string `json:"text,omitempty"`
}

// Data returns the file contents.
func (e DriveSeedEntry) Data() ([]byte, error) {
	if e.Base64 != "" {
		data, err := base64.StdEncoding.DecodeString(e.Base64)
		if err != nil {
			return nil, fmt.Errorf("devseed: decode %s/%s: %w", e.Drive, e.Name, err)
		}
		return data, nil
	}
	return []byte(e.Text), nil
}

// LoadBaseSeed reads a JSON array of BaseSeedEntry.
func LoadBaseSeed(path string) ([]BaseSeedEntry, error) {
	var entries []BaseSeedEntry
	if err := load(path, &entries); err != nil {
		return nil, err
	}
	for i, e := range entries {
		if strings.TrimSpace(e.Base) == "" {
			return nil, fmt.Errorf("devseed: base entry %d missing base name", i)
		}
		if e.Item == nil {
			return nil, fmt.Errorf("devseed: base entry %d missing item", i)
		}
	}
	return entries, nil
}

// LoadDriveSeed reads a JSON array of DriveSeedEntry.
func LoadDriveSeed(path string) ([]DriveSeedEntry, error) {
	var entries []DriveSeedEntry
	if err := load(path, &entries); err != nil {
		return nil, err
	}
	for i, e := range entries {
		if strings.TrimSpace(e.Drive) == "" || strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("devseed: drive entry %d needs drive and name", i)
		}
	}
	return entries, nil
}

func load(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("devseed: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("devseed: parse %s: %w", path, err)
	}
	return nil
}
