// Package logging provides the application-wide logging facility for pier.
//
// It wraps log/slog with printf-style helpers that tag every entry with a
// subsystem name, so output from the OAuth flow, the installer, and the
// marketplace client can be told apart:
//
//	logging.Debug("OAuth", "issued state for provider=%s", provider)
//	logging.Error("Installer", err, "step %s failed", step)
//
// Call Init once at startup to select the minimum level and output writer.
// Before Init, all log calls are no-ops; this keeps library-style packages
// usable from tests without global setup.
//
// Token material must never be logged verbatim. Use TruncateToken when a
// state or access token needs to appear in a message.
package logging
