// Package cli drives the console session from a terminal: login, logout,
// status and passwd share the persisted session with the console server.
package cli
