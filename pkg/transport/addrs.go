// ABOUTME: Local address enumeration for tickets
// ABOUTME: Expands a wildcard bind address into dialable interface addresses
package transport

import (
	"net"
	"strconv"
)

// LocalIPs returns the non-loopback addresses of all up interfaces,
// IPv4 first.
func LocalIPs() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var v4, v6 []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() || ipnet.IP.IsLinkLocalUnicast() {
				continue
			}
			if ipnet.IP.To4() != nil {
				v4 = append(v4, ipnet.IP)
			} else {
				v6 = append(v6, ipnet.IP)
			}
		}
	}
	return append(v4, v6...), nil
}

// AdvertiseAddrs returns the addresses a ticket should carry for a socket
// bound to bound. A wildcard bind expands to every local address plus
// loopback, which is listed last.
func AdvertiseAddrs(bound net.Addr) []string {
	host, portStr, err := net.SplitHostPort(bound.String())
	if err != nil {
		return []string{bound.String()}
	}
	port, _ := strconv.Atoi(portStr)

	ip := net.ParseIP(host)
	if ip != nil && !ip.IsUnspecified() {
		return []string{bound.String()}
	}

	var out []string
	if ips, err := LocalIPs(); err == nil {
		for _, ip := range ips {
			out = append(out, net.JoinHostPort(ip.String(), strconv.Itoa(port)))
		}
	}
	return append(out, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
}
