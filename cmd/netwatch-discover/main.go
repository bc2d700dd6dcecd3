// cmd/netwatch-discover/main.go - Generate a NetWatch device include file from an nmap scan
package main

import (
    "errors"
    "fmt"
    "os"
    "time"

    "github.com/sirupsen/logrus"
    "github.com/spf13/cobra"
    "gopkg.in/yaml.v3"

    "netwatch/internal/config"
)

var (
    networkFlag string
    xmlFlag     string
    outputFlag  string
    dhcpFlag    string
    nmapFlag    string
    osFlag      bool
    mergeFlag   bool
)

var rootCmd = &cobra.Command{
    Use:   "netwatch-discover",
    Short: "Discover devices with nmap and write a NetWatch include file",
    Long: `Scan a network with nmap (or read an existing nmap XML report) and write
every host that is up as a device entry. Place the output in the directory
named by include.directory to have NetWatch monitor it.

Examples:
  netwatch-discover --network 192.168.1.0/24 --output conf.d/lan.yaml
  netwatch-discover --xml scan.xml --merge`,
    SilenceUsage: true,
    RunE: func(cmd *cobra.Command, args []string) error {
        return discover()
    },
}

func init() {
    rootCmd.Flags().StringVar(&networkFlag, "network", "", "CIDR network to scan (default: first local network)")
    rootCmd.Flags().StringVar(&xmlFlag, "xml", "", "Use an existing nmap XML file instead of scanning")
    rootCmd.Flags().StringVarP(&outputFlag, "output", "o", "devices.yaml", "Output include file")
    rootCmd.Flags().StringVar(&dhcpFlag, "dhcp", "100-200", "Last-octet DHCP range; such hosts are addressed by hostname")
    rootCmd.Flags().StringVar(&nmapFlag, "nmap", "/usr/bin/nmap", "Path to nmap binary")
    rootCmd.Flags().BoolVar(&osFlag, "os", false, "Enable OS detection (requires root)")
    rootCmd.Flags().BoolVar(&mergeFlag, "merge", false, "Keep devices already present in the output file")
}

func main() {
    logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
    if err := rootCmd.Execute(); err != nil {
        os.Exit(1)
    }
}

func discover() error {
    var data []byte
    var err error

    if xmlFlag != "" {
        logrus.WithField("file", xmlFlag).Info("Reading nmap XML")
        data, err = os.ReadFile(xmlFlag)
        if err != nil {
            return fmt.Errorf("failed to read XML file: %w", err)
        }
    } else {
        network := networkFlag
        if network == "" {
            network = detectLocalNetwork()
            if network == "" {
                return errors.New("no network specified and none could be detected; use --network")
            }
            logrus.WithField("network", network).Info("Auto-detected network")
        }
        data, err = runNmapScan(network, nmapFlag, osFlag)
        if err != nil {
            return err
        }
    }

    run, err := parseNmap(data)
    if err != nil {
        return err
    }

    low, high := parseDHCPRange(dhcpFlag)
    devices := generateDevices(run, low, high)

    if mergeFlag {
        existing, err := readInclude(outputFlag)
        if err != nil && !errors.Is(err, os.ErrNotExist) {
            return err
        }
        devices = mergeDevices(existing, devices)
    }

    if err := writeInclude(outputFlag, devices); err != nil {
        return err
    }

    logrus.WithFields(logrus.Fields{
        "output":  outputFlag,
        "devices": len(devices),
    }).Info("Device include written")
    return nil
}

func readInclude(path string) ([]config.DeviceConfig, error) {
    data, err := os.ReadFile(path)
    if err != nil {
        return nil, err
    }
    var partial config.PartialConfig
    if err := yaml.Unmarshal(data, &partial); err != nil {
        return nil, fmt.Errorf("failed to parse %s: %w", path, err)
    }
    return partial.Devices, nil
}

// mergeDevices keeps existing entries untouched and appends newly found
// addresses.
func mergeDevices(existing, found []config.DeviceConfig) []config.DeviceConfig {
    known := make(map[string]bool, len(existing))
    merged := append([]config.DeviceConfig(nil), existing...)
    for _, d := range existing {
        known[d.Address] = true
    }
    for _, d := range found {
        if !known[d.Address] {
            merged = append(merged, d)
            known[d.Address] = true
        }
    }
    return merged
}

func writeInclude(path string, devices []config.DeviceConfig) error {
    data, err := yaml.Marshal(config.PartialConfig{Devices: devices})
    if err != nil {
        return fmt.Errorf("failed to marshal YAML: %w", err)
    }

    header := fmt.Sprintf("# NetWatch devices\n# Generated by netwatch-discover on %s\n# Contains %d devices\n\n",
        time.Now().Format("2006-01-02 15:04:05"), len(devices))

    if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
        return fmt.Errorf("failed to write file: %w", err)
    }
    return nil
}
