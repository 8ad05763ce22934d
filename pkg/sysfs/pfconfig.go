// Package sysfs reads the interim sysfs interface that exposes host facing
// PF properties on SmartNIC systems. The kernel devlink-port interface
// provides the same information in a vendor neutral way, but requires a
// fairly recent kernel, so this fallback stays until that is widely
// available.
package sysfs

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/edge-sdn/repagent/pkg/devlink"
)

// DefaultPFConfigTemplate locates the PF config file relative to the netdev
// name of a PHYSICAL port.
const DefaultPFConfigTemplate = "/sys/class/net/%s/smart_nic/pf/config"

// HostPFMAC reads the host facing PF MAC address from the default sysfs
// location for the given PHYSICAL port netdev name.
func HostPFMAC(netdevName string) (devlink.EthAddr, error) {
	return HostPFMACAt(DefaultPFConfigTemplate, netdevName)
}

// HostPFMACAt is HostPFMAC with an explicit path template, which must
// contain one %s for the netdev name. The file holds "KEY: VALUE" lines;
// the first line whose key starts with "MAC" carries the address.
func HostPFMACAt(template, netdevName string) (devlink.EthAddr, error) {
	var zero devlink.EthAddr
	fileName := fmt.Sprintf(template, netdevName)
	f, err := os.Open(fileName)
	if err != nil {
		return zero, fmt.Errorf("open PF config: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		key, value, ok := strings.Cut(line, ":")
		if !ok || !strings.HasPrefix(key, "MAC") {
			continue
		}
		mac, err := devlink.ParseEthAddr(strings.TrimSpace(value))
		if err != nil {
			return zero, fmt.Errorf("%s: malformed MAC %q: %w", fileName, value, err)
		}
		return mac, nil
	}
	if err := scanner.Err(); err != nil {
		return zero, fmt.Errorf("read PF config: %w", err)
	}
	return zero, fmt.Errorf("%s: no MAC line found", fileName)
}
