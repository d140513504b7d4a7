package config

import "regexp"

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Queue.ConnectionString)
	redact(&out.Deletion.APIKey)
	redact(&out.Server.APIKey)
	redact(&out.Postgres.Password)
	redact(&out.Notify.WebhookURL)
	out.Postgres.DSN = redactDSN(cfg.Postgres.DSN)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Queue.Brokers != nil {
		out.Queue.Brokers = append([]string(nil), cfg.Queue.Brokers...)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

var dsnPassword = regexp.MustCompile(`(://[^:/@]+:)[^@]*@`)

// redactDSN masks the password of a URL-style DSN and keeps the rest
// readable. Other forms are redacted entirely.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if dsnPassword.MatchString(dsn) {
		return dsnPassword.ReplaceAllString(dsn, "${1}"+redacted+"@")
	}
	return redacted
}
