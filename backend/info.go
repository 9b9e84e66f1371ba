package backend

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/b0bbywan/go-portal-backend/logger"
)

const (
	UNKNOWN         = "unknown"
	OS_RELEASE_FILE = "/etc/os-release"
)

var osVersion string

func init() {
	osVersion = readOSRelease()
}

func parseKeyValue(r io.Reader) (map[string]string, error) {
	out := make(map[string]string)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		out[key] = strings.Trim(value, `"`)
	}

	return out, scanner.Err()
}

func readOSRelease() string {
	file, err := os.Open(OS_RELEASE_FILE)
	if err != nil {
		return UNKNOWN
	}
	defer func() {
		if err := file.Close(); err != nil {
			logger.Warn("[backend] failed to close %s: %v", OS_RELEASE_FILE, err)
		}
	}()

	var content map[string]string
	content, err = parseKeyValue(file)
	if err != nil {
		logger.Debug("[backend] failed to parse %s: %v", OS_RELEASE_FILE, err)
	}

	switch {
	case content["PRETTY_NAME"] != "":
		return content["PRETTY_NAME"]
	case content["NAME"] != "":
		return content["NAME"]
	default:
		return UNKNOWN
	}
}

// Info summarizes the host and the enabled portals for startup logging.
func (b *Backend) Info() string {
	hostname, err := os.Hostname()
	if err != nil {
		logger.Debug("[backend] failed to get hostname: %v", err)
		hostname = UNKNOWN
	}

	var portals []string
	if b.ScreenCast != nil {
		portals = append(portals, "screencast")
	}
	if b.RemoteDesktop != nil {
		portals = append(portals, "remotedesktop")
	}
	if b.Inhibit != nil {
		portals = append(portals, "inhibit")
	}
	if b.Store != nil {
		portals = append(portals, "store")
	}

	return fmt.Sprintf("%s (%s/%s, %s) portals=[%s]",
		hostname, runtime.GOOS, runtime.GOARCH, osVersion, strings.Join(portals, " "))
}
