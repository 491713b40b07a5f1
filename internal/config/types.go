package config

// Config is the root configuration for the bot.
//
// The file may be YAML or JSON; both are decoded strictly (unknown keys are
// rejected) so typos surface at startup instead of silently doing nothing.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Server   ServerConfig   `json:"server"`
	Bot      BotConfig      `json:"bot"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
}

// WhatsAppConfig identifies the Cloud API account the bot sends through.
//
// AccessToken and VerifyToken should normally come from the environment
// (WAGENDA_WA_ACCESS_TOKEN, WAGENDA_WA_VERIFY_TOKEN); values in the file are
// a dev convenience only.
type WhatsAppConfig struct {
	PhoneNumberID     string `json:"phone_number_id"`
	BusinessAccountID string `json:"business_account_id,omitempty"`
	AccessToken       string `json:"access_token,omitempty" env:"WAGENDA_WA_ACCESS_TOKEN"`
	VerifyToken       string `json:"verify_token,omitempty" env:"WAGENDA_WA_VERIFY_TOKEN"`
	OwnerID           string `json:"owner_id"`

	// APIBaseURL and APIVersion default to the public Graph endpoint.
	APIBaseURL string `json:"api_base_url,omitempty"`
	APIVersion string `json:"api_version,omitempty"`

	SendTimeout string `json:"send_timeout,omitempty"` // default "10s"
	RatePerSec  int    `json:"rate_per_sec,omitempty"` // default 10
}

type ServerConfig struct {
	Addr       string `json:"addr,omitempty"` // default ":8080"
	AdminToken string `json:"admin_token,omitempty" env:"WAGENDA_ADMIN_TOKEN"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// BotConfig carries the three scheduling knobs the core recognizes.
//
// Timezone is the IANA zone owner-supplied times resolve against.
// WindowHours bounds how long a delivered post keeps collecting replies.
// ReplyTimeout bounds how long an owner reply session stays open.
type BotConfig struct {
	Timezone     string `json:"timezone,omitempty"`      // default "UTC"
	WindowHours  int    `json:"window_hours,omitempty"`  // default 12
	ReplyTimeout string `json:"reply_timeout,omitempty"` // default "5m"
}

// StorageConfig controls the SQLite persistence layer.
type StorageConfig struct {
	Path        string `json:"path,omitempty"`         // default "./wagenda.db"
	BusyTimeout string `json:"busy_timeout,omitempty"` // default "5s"
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console *bool         `json:"console,omitempty"` // default true
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}
