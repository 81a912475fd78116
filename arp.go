package unii

import (
	"fmt"
	"net"

	"github.com/j-keck/arping"
)

// MacAddress resolves the panel's MAC address over ARP. Useful for
// panels whose equipment information message predates the field.
// Needs the cap_net_raw capability.
func MacAddress(ip string) (string, error) {
	hw, _, err := arping.Ping(net.ParseIP(ip))
	if err != nil {
		return "", fmt.Errorf("could not get the mac address: %w", err)
	}
	return hw.String(), nil
}
