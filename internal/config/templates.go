package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "bus":
		return busTemplate, nil
	case "hssctl":
		return hssctlTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
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

const busTemplate = `name = "bench"

[[peers]]
address = 3
identity = "0001200000000002"
vendor = "Stanton"
model = "SCS.1m"
version = 256

[[peers]]
address = 4
identity = "0001200000000003"
vendor = "Stanton"
model = "SCS.1d"
version = 256

[[peers]]
address = 7
identity = "000a270000000101"
vendor = "Generic"
model = "Disk"
silent = true
`

const hssctlTemplate = `fixture = "bus.toml"
admin_addr = ":9400"
cors_origins = ["http://localhost:3000"]
max_retries = 32
retry_delay = "1ms"
probe_style = "read"
probe_timeout = "100ms"
settle_delay = "0s"
`
