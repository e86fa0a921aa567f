// Package config loads the Anitya web configuration. An optional YAML file,
// named by ANITYA_WEB_CONFIG or found at /etc/anitya/anitya.yaml, is overlaid
// key by key onto the built-in defaults. Loading never fails: missing, empty,
// malformed or partially specified files degrade to defaults and are reported
// through the logger.
package config
