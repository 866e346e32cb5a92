package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns a starter TOML config for role.
func Template(role string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "initiator":
		return initiatorTemplate, nil
	case "responder":
		return responderTemplate, nil
	default:
		return "", fmt.Errorf("unknown config role: %s", role)
	}
}

func WriteTemplate(path, role string, overwrite bool) error {
	template, err := Template(role)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const initiatorTemplate = `name = "initiator"
role = "initiator"
endpoint = "ep0"
max_message_len = 4096
startup_delay = "2s"
send_count = 10
send_interval = "1s"
heartbeat_interval = "5s"
log_level = "info"

[transport]
kind = "tcp"
instance = "ipc0"
dial = "127.0.0.1:7400"
slots = 16

[admin]
listen = "127.0.0.1:9410"
cors_origins = ["http://localhost:3000"]

[fault]
policy = "park"
`

const responderTemplate = `name = "responder"
role = "responder"
endpoint = "ep0"
max_message_len = 4096
echo_limit = 128
heartbeat_interval = "5s"
log_level = "info"

[transport]
kind = "tcp"
instance = "ipc0"
listen = "127.0.0.1:7400"
slots = 16

[admin]
listen = "127.0.0.1:9411"
cors_origins = ["http://localhost:3000"]

[fault]
policy = "park"
`
