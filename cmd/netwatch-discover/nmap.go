// cmd/netwatch-discover/nmap.go - nmap XML parsing and device generation
package main

import (
    "encoding/xml"
    "fmt"
    "net"
    "os/exec"
    "sort"
    "strconv"
    "strings"

    "github.com/sirupsen/logrus"

    "netwatch/internal/config"
)

type NmapRun struct {
    XMLName  xml.Name `xml:"nmaprun"`
    Scanner  string   `xml:"scanner,attr"`
    Args     string   `xml:"args,attr"`
    StartStr string   `xml:"startstr,attr"`
    Version  string   `xml:"version,attr"`
    Hosts    []Host   `xml:"host"`
}

type Host struct {
    Status    HostStatus `xml:"status"`
    Addresses []Address  `xml:"address"`
    Hostnames []Hostname `xml:"hostnames>hostname"`
    Ports     []Port     `xml:"ports>port"`
    OS        []OSMatch  `xml:"os>osmatch"`
}

type HostStatus struct {
    State  string `xml:"state,attr"`
    Reason string `xml:"reason,attr"`
}

type Address struct {
    Addr     string `xml:"addr,attr"`
    AddrType string `xml:"addrtype,attr"`
    Vendor   string `xml:"vendor,attr"`
}

type Hostname struct {
    Name string `xml:"name,attr"`
    Type string `xml:"type,attr"`
}

type Port struct {
    Protocol string    `xml:"protocol,attr"`
    PortID   int       `xml:"portid,attr"`
    State    PortState `xml:"state"`
}

type PortState struct {
    State string `xml:"state,attr"`
}

type OSMatch struct {
    Name     string `xml:"name,attr"`
    Accuracy int    `xml:"accuracy,attr"`
}

// Ports scanned by default; they only feed the device type guess.
const scanPorts = "22,23,80,161,443,8080"

func parseNmap(data []byte) (*NmapRun, error) {
    var run NmapRun
    if err := xml.Unmarshal(data, &run); err != nil {
        return nil, fmt.Errorf("failed to parse nmap XML: %w", err)
    }
    return &run, nil
}

func runNmapScan(network, nmapPath string, osDetection bool) ([]byte, error) {
    args := []string{"--system-dns", "-oX", "-", "-p", scanPorts}
    if osDetection {
        args = append(args, "-O")
    }
    args = append(args, network)

    logrus.WithField("command", nmapPath+" "+strings.Join(args, " ")).Info("Running nmap")

    output, err := exec.Command(nmapPath, args...).Output()
    if err != nil {
        if exitErr, ok := err.(*exec.ExitError); ok {
            return nil, fmt.Errorf("nmap exited with status %d", exitErr.ExitCode())
        }
        return nil, fmt.Errorf("nmap execution failed: %w", err)
    }
    return output, nil
}

// generateDevices turns every host that is up into a device entry. Hosts
// inside the DHCP range are addressed by hostname when one is known, since
// their IP may change.
func generateDevices(run *NmapRun, dhcpLow, dhcpHigh int) []config.DeviceConfig {
    var devices []config.DeviceConfig

    for _, host := range run.Hosts {
        if host.Status.State != "up" {
            continue
        }
        if device, ok := processHost(host, dhcpLow, dhcpHigh); ok {
            devices = append(devices, device)
        }
    }

    sort.Slice(devices, func(i, j int) bool { return devices[i].Address < devices[j].Address })
    return devices
}

func processHost(host Host, dhcpLow, dhcpHigh int) (config.DeviceConfig, bool) {
    var ipv4, mac string
    for _, addr := range host.Addresses {
        switch addr.AddrType {
        case "ipv4":
            ipv4 = addr.Addr
        case "mac":
            mac = addr.Addr
        }
    }
    if ipv4 == "" {
        return config.DeviceConfig{}, false
    }

    var hostname string
    for _, hn := range host.Hostnames {
        if hn.Type == "PTR" || hn.Type == "user" {
            hostname = hn.Name
            break
        }
    }

    address := ipv4
    if isInDHCPRange(ipv4, dhcpLow, dhcpHigh) && hostname != "" {
        address = hostname
    }

    return config.DeviceConfig{
        Name:       deviceName(ipv4, hostname),
        Address:    address,
        Type:       guessType(host),
        MACAddress: mac,
    }, true
}

func deviceName(ipv4, hostname string) string {
    if hostname != "" {
        return strings.ToLower(strings.Split(hostname, ".")[0])
    }
    parts := strings.Split(ipv4, ".")
    if len(parts) == 4 {
        return "host-" + parts[3]
    }
    return "host-" + strings.ReplaceAll(ipv4, ".", "-")
}

func guessType(host Host) string {
    open := make(map[int]bool)
    for _, p := range host.Ports {
        if p.State.State == "open" {
            open[p.PortID] = true
        }
    }

    switch {
    case open[161] || open[23]:
        return "network"
    case open[80] || open[443] || open[8080]:
        if open[22] {
            return "server"
        }
        return "appliance"
    case open[22]:
        return "server"
    }

    if len(host.OS) > 0 && strings.Contains(strings.ToLower(host.OS[0].Name), "printer") {
        return "printer"
    }
    return "host"
}

func parseDHCPRange(dhcpRange string) (int, int) {
    parts := strings.Split(dhcpRange, "-")
    if len(parts) != 2 {
        return 100, 200
    }

    low, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
    high, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
    if err1 != nil || err2 != nil || low > high {
        return 100, 200
    }
    return low, high
}

func isInDHCPRange(ipv4 string, dhcpLow, dhcpHigh int) bool {
    ip := net.ParseIP(ipv4).To4()
    if ip == nil {
        return false
    }
    lastOctet := int(ip[3])
    return lastOctet >= dhcpLow && lastOctet <= dhcpHigh
}

func detectLocalNetwork() string {
    interfaces, err := net.Interfaces()
    if err != nil {
        return ""
    }

    for _, iface := range interfaces {
        if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
            continue
        }
        addrs, err := iface.Addrs()
        if err != nil {
            continue
        }
        for _, addr := range addrs {
            if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil && ipnet.IP.IsGlobalUnicast() {
                network := &net.IPNet{IP: ipnet.IP.Mask(ipnet.Mask), Mask: ipnet.Mask}
                return network.String()
            }
        }
    }
    return ""
}
