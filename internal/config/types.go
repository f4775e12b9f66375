package config

type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`

	// Dispatch controls bulk-send pacing and batch shape.
	Dispatch DispatchConfig `json:"dispatch"`

	// Provisioning bounds the wait for a scan code / readiness during initiate.
	Provisioning ProvisioningConfig `json:"provisioning"`

	// Region describes the local numbering plan used to canonicalize
	// recipient phone numbers. Defaults target Bangladesh (880).
	Region RegionConfig `json:"region"`

	Janitor *JanitorConfig `json:"janitor,omitempty"`
	Storage *StorageConfig `json:"storage,omitempty"`
}

type ServerConfig struct {
	Addr string `json:"addr"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type WhatsAppConfig struct {
	// StorePath is the directory holding per-session credential stores.
	StorePath string `json:"store_path"`
	// DeviceName is shown on the paired phone's linked-devices list.
	DeviceName string `json:"device_name,omitempty"`
}

// DispatchConfig controls the bulk dispatch engine.
//
// All durations are Go duration strings (e.g. "500ms", "2s").
//
// Defaults (when fields are omitted/zero):
//   - inter_item_delay: "2s"
//   - batch_limit: 100
type DispatchConfig struct {
	InterItemDelay string `json:"inter_item_delay,omitempty"`
	BatchLimit     int    `json:"batch_limit,omitempty"`
}

// ProvisioningConfig bounds session provisioning.
//
// Timeout defaults to "40s" when omitted.
type ProvisioningConfig struct {
	Timeout string `json:"timeout,omitempty"`
}

type RegionConfig struct {
	CountryCode      string `json:"country_code,omitempty"`
	TrunkPrefix      string `json:"trunk_prefix,omitempty"`
	MobilePrefix     string `json:"mobile_prefix,omitempty"`
	SubscriberDigits int    `json:"subscriber_digits,omitempty"`
}

// JanitorConfig controls the stale-session reaper.
//
// Schedule accepts a cron expression ("*/5 * * * *"), a Go duration ("2m"),
// or HH:MM ("00:30"). IdleAfter is how long a session may sit in a
// non-connected provisioning state before it is force-cleaned.
type JanitorConfig struct {
	Enabled   bool   `json:"enabled"`
	Schedule  string `json:"schedule,omitempty"`
	IdleAfter string `json:"idle_after,omitempty"`
}

// StorageConfig controls the optional audit persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./wasend_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
