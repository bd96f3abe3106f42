package config

import (
	"fmt"
	"os"
)

// WriteTemplate writes an annotated example config to path. An existing file
// is left untouched unless overwrite is set.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const template = `# serial device, ws://host:port/ws?pin=NNNN, or loop://
port = "/dev/ttyACM0"
baud_rate = 9600
verbose = true

read_timeout = "100ms"
queue_size = 256
# block | drop-newest | drop-oldest
overflow = "block"

# set for peers that predate byte stuffing
legacy_framing = false
shutdown_grace = "2s"

log_file = ""
debug = false
bridge_pin = ""
`
