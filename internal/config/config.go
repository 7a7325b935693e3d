package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"time"
)

const storeKeySize = 32

type Config struct {
	ListenAddr      string
	APIURL          string
	WSURL           string
	DatabaseDriver  string
	DatabaseDSN     string
	StoreKey        []byte
	AllowedOrigins  []string
	RefreshInterval time.Duration
}

// Params are the raw flag and environment values NewConfig validates.
type Params struct {
	ListenAddr      string
	APIURL          string
	WSURL           string
	DatabaseDriver  string
	DatabaseDSN     string
	StoreKey        string
	AllowedOrigins  []string
	RefreshInterval time.Duration
}

func decodeStoreKey(base64Key string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, err
	}
	if len(key) != storeKeySize {
		return nil, fmt.Errorf("store key must decode to %d bytes, got %d", storeKeySize, len(key))
	}
	return key, nil
}

func checkURL(name, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be an absolute %v url, got %q", name, schemes, raw)
}

func NewConfig(p Params) (*Config, error) {
	if p.ListenAddr == "" {
		return nil, fmt.Errorf("listen address cannot be empty")
	}
	if err := checkURL("api url", p.APIURL, "http", "https"); err != nil {
		return nil, err
	}
	if err := checkURL("websocket url", p.WSURL, "ws", "wss"); err != nil {
		return nil, err
	}
	switch p.DatabaseDriver {
	case "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", p.DatabaseDriver)
	}
	if p.DatabaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if p.StoreKey == "" {
		return nil, fmt.Errorf("store key cannot be empty")
	}
	if p.RefreshInterval < 0 {
		return nil, fmt.Errorf("refresh interval cannot be negative")
	}

	storeKey, err := decodeStoreKey(p.StoreKey)
	if err != nil {
		return nil, fmt.Errorf("decode store key: %w", err)
	}

	return &Config{
		ListenAddr:      p.ListenAddr,
		APIURL:          p.APIURL,
		WSURL:           p.WSURL,
		DatabaseDriver:  p.DatabaseDriver,
		DatabaseDSN:     p.DatabaseDSN,
		StoreKey:        storeKey,
		AllowedOrigins:  p.AllowedOrigins,
		RefreshInterval: p.RefreshInterval,
	}, nil
}
