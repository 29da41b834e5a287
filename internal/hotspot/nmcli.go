package hotspot

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

const connectionName = "babaphone-hotspot"

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NMCLI hosts the access point through NetworkManager.
type NMCLI struct {
	iface string
	run   Runner
}

func NewNMCLI(iface string, run Runner) *NMCLI {
	if iface == "" {
		iface = "wlan0"
	}
	if run == nil {
		run = execRunner
	}
	return &NMCLI{iface: iface, run: run}
}

func (n *NMCLI) Supported(ctx context.Context) error {
	out, err := n.run(ctx, "nmcli", "-t", "-f", "WIFI-PROPERTIES.AP", "device", "show", n.iface)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return &FailureError{Kind: KindNotSupported, Err: err}
		}
		return &FailureError{Kind: KindNotSupported, Err: fmt.Errorf("%s: %w", strings.TrimSpace(string(out)), err)}
	}
	if !strings.Contains(string(out), ":yes") {
		return &FailureError{Kind: KindNotSupported, Err: fmt.Errorf("%s cannot run in AP mode", n.iface)}
	}
	return nil
}

func (n *NMCLI) Start(ctx context.Context, ssid, password string) (Config, error) {
	out, err := n.run(ctx, "nmcli", "device", "wifi", "hotspot",
		"ifname", n.iface,
		"con-name", connectionName,
		"ssid", ssid,
		"password", password)
	if err != nil {
		return Config{}, &FailureError{Kind: classify(string(out)), Err: fmt.Errorf("nmcli: %s: %w", strings.TrimSpace(string(out)), err)}
	}

	cfg := Config{SSID: ssid, Password: password}
	// NetworkManager may store a different key than the one requested
	if psk, err := n.run(ctx, "nmcli", "-s", "-g", "802-11-wireless-security.psk", "connection", "show", connectionName); err == nil {
		if p := strings.TrimSpace(string(psk)); p != "" {
			cfg.Password = p
		}
	}
	return cfg, nil
}

func (n *NMCLI) Stop(ctx context.Context) error {
	out, err := n.run(ctx, "nmcli", "connection", "down", connectionName)
	if err != nil {
		return fmt.Errorf("nmcli: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

// classify maps nmcli error text to a failure kind.
func classify(output string) FailureKind {
	msg := strings.ToLower(output)
	switch {
	case msg == "":
		return KindUnknown
	case strings.Contains(msg, "not authorized"), strings.Contains(msg, "insufficient privileges"),
		strings.Contains(msg, "secrets were required"):
		return KindSecurity
	case strings.Contains(msg, "channel"):
		return KindNoChannel
	case strings.Contains(msg, "does not support ap"), strings.Contains(msg, "mode"):
		return KindIncompatibleMode
	case strings.Contains(msg, "policy"), strings.Contains(msg, "tether"):
		return KindTetheringDisallowed
	default:
		return KindGeneric
	}
}
