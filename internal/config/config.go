package config

import (
	"time"
)

// Recognized configuration keys.
const (
	KeySecretKey                = "SECRET_KEY"
	KeyPermanentSessionLifetime = "PERMANENT_SESSION_LIFETIME"
	KeyDBURL                    = "DB_URL"
	KeyWebAdmins                = "ANITYA_WEB_ADMINS"
	KeyFedoraOpenID             = "ANITYA_WEB_FEDORA_OPENID"
	KeyAllowFASOpenID           = "ANITYA_WEB_ALLOW_FAS_OPENID"
	KeyAllowGoogleOpenID        = "ANITYA_WEB_ALLOW_GOOGLE_OPENID"
	KeyAllowYahooOpenID         = "ANITYA_WEB_ALLOW_YAHOO_OPENID"
	KeyAllowGenericOpenID       = "ANITYA_WEB_ALLOW_GENERIC_OPENID"
	KeyAdminEmail               = "ADMIN_EMAIL"
	KeyLogConfig                = "ANITYA_LOG_CONFIG"
	KeySMTPServer               = "SMTP_SERVER"
	KeyEmailErrors              = "EMAIL_ERRORS"
	KeyBlacklistedUsers         = "BLACKLISTED_USERS"
)

const (
	defaultSecretKey       = "changeme please"
	defaultSessionLifetime = 3600 * time.Second
	defaultDBURL           = "sqlite:////var/tmp/anitya-dev.sqlite"
	defaultFedoraOpenID    = "https://id.fedoraproject.org"
	defaultAdminEmail      = "admin@fedoraproject.org"
	defaultSMTPServer      = "localhost"
)

// Config is the effective Anitya web configuration. Every recognized key has
// exactly one field.
type Config struct {
	SecretKey                string
	PermanentSessionLifetime time.Duration
	DBURL                    string
	WebAdmins                []string
	FedoraOpenID             string
	AllowFASOpenID           bool
	AllowGoogleOpenID        bool
	AllowYahooOpenID         bool
	AllowGenericOpenID       bool
	AdminEmail               string
	LogConfig                map[string]any
	SMTPServer               string
	EmailErrors              bool
	BlacklistedUsers         []string
}

// Defaults returns a fresh copy of the built-in configuration. Callers own the
// returned value, including its slices and maps.
func Defaults() Config {
	return Config{
		SecretKey:                defaultSecretKey,
		PermanentSessionLifetime: defaultSessionLifetime,
		DBURL:                    defaultDBURL,
		WebAdmins:                []string{},
		FedoraOpenID:             defaultFedoraOpenID,
		AllowFASOpenID:           true,
		AllowGoogleOpenID:        true,
		AllowYahooOpenID:         true,
		AllowGenericOpenID:       true,
		AdminEmail:               defaultAdminEmail,
		LogConfig:                defaultLogConfig(),
		SMTPServer:               defaultSMTPServer,
		EmailErrors:              false,
		BlacklistedUsers:         []string{},
	}
}

func defaultLogConfig() map[string]any {
	return map[string]any{
		"version":                  1,
		"disable_existing_loggers": true,
		"formatters": map[string]any{
			"simple": map[string]any{
				"format": "[%(name)s %(levelname)s] %(message)s",
			},
		},
		"handlers": map[string]any{
			"console": map[string]any{
				"class":     "logging.StreamHandler",
				"formatter": "simple",
				"stream":    "ext://sys.stdout",
			},
		},
		"loggers": map[string]any{
			"anitya": map[string]any{
				"level":     "INFO",
				"propagate": false,
				"handlers":  []any{"console"},
			},
		},
		"root": map[string]any{
			"level":    "ERROR",
			"handlers": []any{"console"},
		},
	}
}

// SecretKeyConfigured reports whether the secret key differs from the
// built-in default.
func (c Config) SecretKeyConfigured() bool {
	return c.SecretKey != defaultSecretKey
}

// Clone returns a deep copy of the configuration.
func (c Config) Clone() Config {
	out := c
	out.WebAdmins = cloneStrings(c.WebAdmins)
	out.BlacklistedUsers = cloneStrings(c.BlacklistedUsers)
	if c.LogConfig != nil {
		out.LogConfig = cloneValue(c.LogConfig).(map[string]any)
	}
	return out
}

// Redacted returns a deep copy with the secret key masked, suitable for
// printing.
func (c Config) Redacted() Config {
	out := c.Clone()
	if out.SecretKey != "" {
		out.SecretKey = "********"
	}
	return out
}

// fileDocument mirrors the on-disk layout so a Config can be written back in
// the same shape the loader reads.
type fileDocument struct {
	SecretKey                string         `yaml:"SECRET_KEY"`
	PermanentSessionLifetime int64          `yaml:"PERMANENT_SESSION_LIFETIME"`
	DBURL                    string         `yaml:"DB_URL"`
	WebAdmins                []string       `yaml:"ANITYA_WEB_ADMINS"`
	FedoraOpenID             string         `yaml:"ANITYA_WEB_FEDORA_OPENID"`
	AllowFASOpenID           bool           `yaml:"ANITYA_WEB_ALLOW_FAS_OPENID"`
	AllowGoogleOpenID        bool           `yaml:"ANITYA_WEB_ALLOW_GOOGLE_OPENID"`
	AllowYahooOpenID         bool           `yaml:"ANITYA_WEB_ALLOW_YAHOO_OPENID"`
	AllowGenericOpenID       bool           `yaml:"ANITYA_WEB_ALLOW_GENERIC_OPENID"`
	AdminEmail               string         `yaml:"ADMIN_EMAIL"`
	LogConfig                map[string]any `yaml:"ANITYA_LOG_CONFIG"`
	SMTPServer               string         `yaml:"SMTP_SERVER"`
	EmailErrors              bool           `yaml:"EMAIL_ERRORS"`
	BlacklistedUsers         []string       `yaml:"BLACKLISTED_USERS"`
}

// MarshalYAML encodes the configuration in the file format, with the session
// lifetime as whole seconds.
func (c Config) MarshalYAML() (any, error) {
	return fileDocument{
		SecretKey:                c.SecretKey,
		PermanentSessionLifetime: int64(c.PermanentSessionLifetime / time.Second),
		DBURL:                    c.DBURL,
		WebAdmins:                c.WebAdmins,
		FedoraOpenID:             c.FedoraOpenID,
		AllowFASOpenID:           c.AllowFASOpenID,
		AllowGoogleOpenID:        c.AllowGoogleOpenID,
		AllowYahooOpenID:         c.AllowYahooOpenID,
		AllowGenericOpenID:       c.AllowGenericOpenID,
		AdminEmail:               c.AdminEmail,
		LogConfig:                c.LogConfig,
		SMTPServer:               c.SMTPServer,
		EmailErrors:              c.EmailErrors,
		BlacklistedUsers:         c.BlacklistedUsers,
	}, nil
}

func cloneStrings(src []string) []string {
	if src == nil {
		return nil
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, val := range typed {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, val := range typed {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}
