package extension

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Setting types recognised in contributes.settings.
const (
	SettingInput     = "input"
	SettingBoolean   = "boolean"
	SettingSelection = "selection"
)

// Manifest is the sanitized form of an extension's manifest.json.
type Manifest struct {
	ID           string
	Name         string
	Description  string
	Icon         string
	Version      string
	TargetEngine string
	Author       string
	Homepage     string
	License      string
	Main         string
	Categories   []string
	Tags         []string
	Grant        []string
	Contributes  Contributes
}

// Contributes holds the UI and resource contributions of an extension.
type Contributes struct {
	Resource []Resource `json:"resource,omitempty"`
	Settings Settings   `json:"settings,omitempty"`
}

// Resource is a named group of capability resources an extension provides.
type Resource struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Resource []string `json:"resource"`
}

// Setting is one user-configurable option. The concrete variants are
// InputSetting, BooleanSetting and SelectionSetting.
type Setting interface {
	SettingType() string
}

// InputSetting is a free-text option.
type InputSetting struct {
	Field       string `json:"field"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Textarea    bool   `json:"textarea"`
	Default     string `json:"default"`
}

func (InputSetting) SettingType() string { return SettingInput }

// BooleanSetting is an on/off option.
type BooleanSetting struct {
	Field       string `json:"field"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Default     bool   `json:"default"`
}

func (BooleanSetting) SettingType() string { return SettingBoolean }

// SelectionSetting picks one value out of Enum; EnumName holds display labels.
type SelectionSetting struct {
	Field       string   `json:"field"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Type        string   `json:"type"`
	Default     string   `json:"default"`
	Enum        []string `json:"enum"`
	EnumName    []string `json:"enumName"`
}

func (SelectionSetting) SettingType() string { return SettingSelection }

// Settings is a list of tagged setting variants. It decodes by the "type"
// discriminant so persisted records round-trip.
type Settings []Setting

// UnmarshalJSON decodes each element according to its type field. Elements
// with an unknown type are dropped.
func (s *Settings) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = nil
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	out := make(Settings, 0, len(raw))
	for _, item := range raw {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(item, &head); err != nil {
			return fmt.Errorf("decode setting: %w", err)
		}
		var (
			setting Setting
			err     error
		)
		switch head.Type {
		case SettingInput:
			var v InputSetting
			err = json.Unmarshal(item, &v)
			setting = v
		case SettingBoolean:
			var v BooleanSetting
			err = json.Unmarshal(item, &v)
			setting = v
		case SettingSelection:
			var v SelectionSetting
			err = json.Unmarshal(item, &v)
			setting = v
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("decode %s setting: %w", head.Type, err)
		}
		out = append(out, setting)
	}
	*s = out
	return nil
}

// Record is the verified, registry-resident description of one extension
// version. It is stored as registry/<id>.json.
type Record struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Icon         string      `json:"icon"`
	Version      string      `json:"version"`
	TargetEngine string      `json:"target_engine"`
	Author       string      `json:"author"`
	Homepage     string      `json:"homepage"`
	License      string      `json:"license"`
	Categories   []string    `json:"categories"`
	Tags         []string    `json:"tags"`
	Grant        []string    `json:"grant"`
	Contributes  Contributes `json:"contributes"`
	PublicKey    string      `json:"publicKey"`
	DownloadURL  string      `json:"download_url,omitempty"`
}

// NewRecord projects a sanitized manifest and the key it was verified with
// into a record. DownloadURL is left for the caller.
func NewRecord(m *Manifest, publicKey string) *Record {
	return &Record{
		ID:           m.ID,
		Name:         m.Name,
		Description:  m.Description,
		Icon:         m.Icon,
		Version:      m.Version,
		TargetEngine: m.TargetEngine,
		Author:       m.Author,
		Homepage:     m.Homepage,
		License:      m.License,
		Categories:   cloneStrings(m.Categories),
		Tags:         cloneStrings(m.Tags),
		Grant:        cloneStrings(m.Grant),
		Contributes:  m.Contributes,
		PublicKey:    publicKey,
	}
}

// ListEntry is the public projection of a record kept in list.json.
type ListEntry struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Version      string   `json:"version"`
	Author       string   `json:"author"`
	Grant        []string `json:"grant"`
	License      string   `json:"license"`
	TargetEngine string   `json:"target_engine"`
	Categories   []string `json:"categories"`
	Tags         []string `json:"tags"`
	Homepage     string   `json:"homepage"`
	PublicKey    string   `json:"publicKey"`
	Icon         string   `json:"icon"`
	DownloadURL  string   `json:"download_url"`
}

// Entry returns the list projection of the record.
func (r *Record) Entry() ListEntry {
	return ListEntry{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		Version:      r.Version,
		Author:       r.Author,
		Grant:        cloneStrings(r.Grant),
		License:      r.License,
		TargetEngine: r.TargetEngine,
		Categories:   cloneStrings(r.Categories),
		Tags:         cloneStrings(r.Tags),
		Homepage:     r.Homepage,
		PublicKey:    r.PublicKey,
		Icon:         r.Icon,
		DownloadURL:  r.DownloadURL,
	}
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
