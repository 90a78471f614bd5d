// Package daemon installs feedr as a systemd service.
package daemon

import "strings"

var (
	UnitName = "feedr.service"
	UnitPath = "/etc/systemd/system/" + UnitName

	systemctl = "/bin/systemctl"
)

const unitTemplate = `[Unit]
Description=feedr automatic pet feeder
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=/path/to/feedr daemon --config /path/to/config
Restart=on-failure
RestartSec=5
WorkingDirectory=/var/lib/feedr
StateDirectory=feedr
KillSignal=SIGTERM
TimeoutStopSec=150

[Install]
WantedBy=multi-user.target
`

// Unit renders the service unit for the given binary and config file.
func Unit(exePath, configPath string) string {
	return strings.NewReplacer(
		"/path/to/feedr", exePath,
		"/path/to/config", configPath,
	).Replace(unitTemplate)
}
