// Package config reads the application configuration from environment
// variables, with an optional .env file for development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Signaling SignalingConfig
	Ice       IceConfig
	API       APIConfig
}

// SignalingConfig points at the persistent signaling channel.
type SignalingConfig struct {
	// URL is the websocket endpoint, e.g. wss://signal.example.com/ws.
	URL string

	// UserID is this client's identity on the signaling service. It comes
	// from the surrounding application's auth layer.
	UserID string
}

// IceConfig points at the ICE server list endpoint. An empty endpoint
// means STUN/TURN-less peer connections, which only work on a LAN.
type IceConfig struct {
	Endpoint string
}

// APIConfig is the local control surface for the UI process.
type APIConfig struct {
	Host string
	Port int
}

// Load builds the Config. A .env file is loaded first when present;
// real environment variables win over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := strconv.Atoi(getEnv("API_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid API_PORT: %w", err)
	}

	signalingURL := getEnv("SIGNALING_URL", "")
	if signalingURL == "" {
		return nil, fmt.Errorf("SIGNALING_URL environment variable is required")
	}
	userID := getEnv("USER_ID", "")
	if userID == "" {
		return nil, fmt.Errorf("USER_ID environment variable is required")
	}

	return &Config{
		Signaling: SignalingConfig{
			URL:    signalingURL,
			UserID: userID,
		},
		Ice: IceConfig{
			Endpoint: getEnv("ICE_ENDPOINT", ""),
		},
		API: APIConfig{
			Host: getEnv("API_HOST", "127.0.0.1"),
			Port: port,
		},
	}, nil
}

func (c *APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
