// Package application provides application initialization and dependency wiring.
// It turns a loaded configuration into the session manager, identity registry,
// API router and HTTP server, keeping the main package focused on CLI parsing
// and orchestration.
package application
