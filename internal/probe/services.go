package probe

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"
)

// wellKnownServices maps ports common on home and small-business LANs
// to friendly service names. These take precedence over the OS service
// database because they name the product rather than the protocol.
var wellKnownServices = map[int]string{
	6053:  "ESPHome API",
	8123:  "Home Assistant",
	1883:  "MQTT",
	8883:  "MQTT (SSL)",
	5432:  "PostgreSQL",
	3306:  "MySQL",
	6379:  "Redis",
	8006:  "Proxmox VE",
	5000:  "Synology DSM",
	5001:  "Synology DSM (SSL)",
	32400: "Plex Media Server",
	8096:  "Jellyfin",
	1400:  "Sonos",
	8291:  "Winbox (MikroTik)",
	10001: "Ubiquiti Discovery",
	8080:  "HTTP Proxy/Admin",
	8443:  "HTTPS Proxy/Admin",
	554:   "RTSP (Camera)",
	8000:  "HTTP Alt/Camera",
	3000:  "AdGuard/Grafana",
	9000:  "Portainer",
	9443:  "Portainer (SSL)",
	53:    "DNS",
	22:    "SSH",
	23:    "Telnet",
	21:    "FTP",
	445:   "SMB/CIFS",
	139:   "NetBIOS",
}

var (
	etcServices     map[int]string
	etcServicesOnce sync.Once
)

// ServiceName resolves a TCP port to a service name. The static
// well-known table wins; unmatched ports fall back to the OS service
// database; anything else is "unknown".
func ServiceName(port int) string {
	if name, ok := wellKnownServices[port]; ok {
		return name
	}
	if name, ok := osServiceName(port); ok {
		return name
	}
	return "unknown"
}

// osServiceName looks up a TCP port in /etc/services. The file is
// parsed once and held for the process lifetime.
func osServiceName(port int) (string, bool) {
	etcServicesOnce.Do(loadEtcServices)
	name, ok := etcServices[port]
	return name, ok
}

func loadEtcServices() {
	etcServices = make(map[int]string)

	file, err := os.Open("/etc/services")
	if err != nil {
		return
	}
	defer func() {
		_ = file.Close()
	}()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		// Second field is "port/protocol".
		portProto := strings.SplitN(fields[1], "/", 2)
		if len(portProto) != 2 || portProto[1] != "tcp" {
			continue
		}
		port, err := strconv.Atoi(portProto[0])
		if err != nil {
			continue
		}
		if _, exists := etcServices[port]; !exists {
			etcServices[port] = fields[0]
		}
	}
}
