package netutil

import "net"

// LocalIPv4 returns the first non-loopback IPv4 address of an up interface,
// or "localhost" when there is none.
func LocalIPv4() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "localhost"
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil && !ip4.IsLoopback() {
				return ip4.String()
			}
		}
	}
	return "localhost"
}

// BaseURL returns configured when set, otherwise http://<local ip>:<port>.
func BaseURL(configured, port string) string {
	if configured != "" {
		return configured
	}
	return "http://" + net.JoinHostPort(LocalIPv4(), port)
}
