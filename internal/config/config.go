// Package config holds session configuration gathered from built-in
// defaults, a .env file, environment variables, and CLI flags, in that
// order of increasing precedence (a variable already set in the
// environment is not overridden by the .env file).
package config

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/peerbridge/peerbridge/internal/tundev"
)

// Config stores all parameters needed to start a session.
type Config struct {
	Username     string // this endpoint's name on the signaling server
	SignalingURL string // ws(s)://... URL of the rendezvous server
	STUNServer   string // "host:port" of the STUN server
	IfaceName    string // tunnel interface name
	LocalPort    int    // UDP local port, 0 for ephemeral
	Debug        bool
}

// Defaults returns a Config populated with the built-in defaults.
func Defaults() Config {
	return Config{
		SignalingURL: "ws://127.0.0.1:8080/ws",
		STUNServer:   "stun.l.google.com:19302",
		IfaceName:    tundev.DefaultName,
		LocalPort:    0,
	}
}

// LoadEnv loads a ".env" file if present (a missing file is not an error)
// and overlays SIGNALING_URL, STUN_SERVER, TUN_NAME, and USERNAME onto cfg
// wherever the corresponding environment variable is set.
func LoadEnv(cfg Config) Config {
	_ = godotenv.Load()

	if v := os.Getenv("SIGNALING_URL"); v != "" {
		cfg.SignalingURL = v
	}
	if v := os.Getenv("STUN_SERVER"); v != "" {
		cfg.STUNServer = v
	}
	if v := os.Getenv("TUN_NAME"); v != "" {
		cfg.IfaceName = v
	}
	if v := os.Getenv("USERNAME"); v != "" {
		cfg.Username = v
	}

	return cfg
}
