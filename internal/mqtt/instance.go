package mqtt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/nugget/scriptvoice/internal/config"
)

const instanceFile = "instance_id"

// ClientID returns the configured client id, or a stable one derived
// from the instance id persisted in dataDir.
func ClientID(cfg config.MQTTConfig, dataDir string) (string, error) {
	if cfg.ClientID != "" {
		return cfg.ClientID, nil
	}
	id, err := LoadOrCreateInstanceID(dataDir)
	if err != nil {
		return "", err
	}
	short := strings.ReplaceAll(id, "-", "")
	if len(short) > 12 {
		short = short[len(short)-12:]
	}
	return cfg.TopicPrefix + "-" + short, nil
}

// LoadOrCreateInstanceID reads the instance id from dataDir, generating
// and persisting a UUIDv7 on first use.
func LoadOrCreateInstanceID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, instanceFile)
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate instance id: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("persist instance id to %s: %w", path, err)
	}
	return id.String(), nil
}
