// Package config loads the WalletBridge daemon configuration from a JSON file
// and fills in defaults for the provider endpoint, session persistence, event
// publishing and history formatting.
package config
