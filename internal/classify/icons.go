package classify

import "strings"

// typeIcons maps device types to Lucide icon names.
var typeIcons = map[string]string{
	"Smartphone":        "smartphone",
	"Tablet":            "tablet",
	"Laptop":            "laptop",
	"Desktop":           "monitor",
	"Server":            "server",
	"Router/Gateway":    "router",
	"Network Bridge":    "network",
	"Switch":            "layers",
	"Access Point":      "rss",
	"TV/Entertainment":  "tv",
	"IoT Device":        "cpu",
	"Smart Bulb":        "lightbulb",
	"Smart Plug/Switch": "plug",
	"Microcontroller":   "microchip",
	"Security Camera":   "camera",
	"Sensor":            "waves",
	"Audio/Speaker":     "speaker",
	"Streaming Device":  "play",
	"Printer":           "printer",
	"NAS/Storage":       "hard-drive",
	"Game Console":      "gamepad-2",
	"Media Server":      "play-circle",
	"Home Automation":   "home",
	"Server Admin":      "settings",
	"Generic":           "help-circle",
	"unknown":           "help-circle",
}

// IconFor returns the icon name for a device type, defaulting to the
// unknown icon.
func IconFor(deviceType string) string {
	if icon, ok := typeIcons[deviceType]; ok {
		return icon
	}
	return typeIcons[TypeUnknown]
}

// ouiVendors maps well-known OUI prefixes to vendor names. This is a
// small local table for hosts whose vendor cannot be resolved otherwise;
// it is not a full OUI database.
var ouiVendors = map[string]string{
	"00:0c:29": "VMware, Inc.",
	"00:50:56": "VMware, Inc.",
	"08:00:27": "Oracle Corporation (VirtualBox)",
	"00:1c:c3": "Huawei Technologies",
	"00:25:9c": "Cisco Systems",
	"3c:5a:b4": "Google, Inc.",
	"d8:3b:bf": "Apple, Inc.",
	"f0:18:98": "Apple, Inc.",
	"00:03:93": "Apple, Inc.",
	"00:05:02": "Apple, Inc.",
	"00:15:5d": "Microsoft Corporation (Hyper-V)",
	"b8:27:eb": "Raspberry Pi Foundation",
	"dc:a6:32": "Raspberry Pi Foundation",
	"e4:5f:01": "Raspberry Pi Foundation",
	"00:14:d1": "TP-Link Technologies",
	"bc:d1:d3": "TP-Link Technologies",
	"c0:4a:00": "TP-Link Technologies",
	"8c:ae:4c": "ASUSTek Computer Inc.",
	"fc:db:b3": "Amazon Technologies (Echo/Kindle)",
}

// VendorFromMAC looks up the vendor for a hardware address by its OUI
// prefix. Returns an empty string when the prefix is unknown or the MAC
// is missing/unresolvable.
func VendorFromMAC(mac string) string {
	if len(mac) < 8 || mac == "unknown" {
		return ""
	}
	return ouiVendors[strings.ToLower(mac[:8])]
}
