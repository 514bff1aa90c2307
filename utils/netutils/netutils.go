package netutils

import "net"

// IsInAddrAny reports whether addr is a wildcard bind address.
func IsInAddrAny(addr string) bool {
	return addr == "" || addr == "::/0" || addr == "0.0.0.0"
}

// GetOutboundIP discovers the local address the system routes external
// traffic through. No packets are sent; the dial only resolves a route.
func GetOutboundIP() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	_ = conn.Close()

	return localAddr.IP, nil
}

// GetAdvertiseAddress picks the address a node should advertise to its
// peers when none was configured explicitly: the bind address when it is
// concrete, the routed outbound address otherwise.
func GetAdvertiseAddress(bindAddress string) (string, error) {
	if !IsInAddrAny(bindAddress) {
		return bindAddress, nil
	}

	outboundIP, err := GetOutboundIP()
	if err != nil {
		return "", err
	}

	return outboundIP.String(), nil
}
