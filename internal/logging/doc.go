// Package logging builds the zap loggers used by the service: a JSON
// bootstrap logger, a logger derived from the ANITYA_LOG_CONFIG mapping, and
// an optional tee that mails error entries to the administrator.
package logging
