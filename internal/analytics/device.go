package analytics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DeviceIDFile is the file under the state directory holding the device id.
const DeviceIDFile = "device_id"

// LoadOrCreateDeviceID returns the device id stored in stateDir, creating and
// saving a new random one the first time. An empty stateDir yields an
// ephemeral id.
func LoadOrCreateDeviceID(stateDir string) (string, error) {
	if stateDir == "" {
		return uuid.NewString(), nil
	}
	path := filepath.Join(stateDir, DeviceIDFile)
	if b, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			if _, perr := uuid.Parse(id); perr == nil {
				return id, nil
			}
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read device id: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write device id: %w", err)
	}
	return id, nil
}

// relayNamespace scopes device ids derived from relay senders.
var relayNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("guiaia:relay"))

// DeviceIDForSender derives a stable device id for a relay sender, so the
// same phone number always reports under one id without storing it.
func DeviceIDForSender(sender string) string {
	return uuid.NewSHA1(relayNamespace, []byte(sender)).String()
}
