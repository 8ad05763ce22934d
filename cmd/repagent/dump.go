package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/edge-sdn/repagent/pkg/devlink"
)

var dumpCmd = &cobra.Command{
	Use:   "dump [ports|info]",
	Short: "Dump devlink ports or device info",
	Args:  cobra.MaximumNArgs(1),
	Run:   runDump,
}

func dumpInit() {}

func runDump(cmd *cobra.Command, args []string) {
	what := "ports"
	if len(args) > 0 {
		what = args[0]
	}

	conn, err := devlink.Dial()
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	switch what {
	case "ports":
		dump, err := conn.DumpPorts()
		if err != nil {
			log.Fatal(err)
		}
		for {
			port, ok := dump.Next()
			if !ok {
				break
			}
			printPort(port)
		}
		if err := dump.Err(); err != nil {
			log.Fatal(err)
		}
	case "info":
		dump, err := conn.DumpInfo()
		if err != nil {
			log.Fatal(err)
		}
		for {
			info, ok := dump.Next()
			if !ok {
				break
			}
			printInfo(info)
		}
		if err := dump.Err(); err != nil {
			log.Fatal(err)
		}
	default:
		log.Fatalf("unknown dump object %q, want 'ports' or 'info'", what)
	}
}

func printPort(p *devlink.Port) {
	log.Infof("bus_name: %q", p.BusName)
	log.Infof("dev_name: %q", p.DevName)
	log.Infof("index: %d", p.PortIndex)
	log.Infof("type: %s", devlink.TypeName(p.PortType))
	log.Infof("netdev_ifindex: %d", p.NetdevIfindex)
	log.Infof("netdev_name: %q", p.NetdevName)
	log.Infof("flavour: %s", devlink.FlavourName(p.Flavour))
	log.Infof("number: %d", p.Number)
	log.Infof("pci_pf_number: %d", p.PCIPFNumber)
	log.Infof("pci_vf_number: %d", p.PCIVFNumber)
	log.Infof("function eth_addr: %s", p.Function.EthAddr)
	log.Infof("function state: %d opstate: %d", p.Function.State, p.Function.OpState)
	log.Infof("lanes: %d splittable: %d external: %d",
		p.Lanes, p.Splittable, p.External)
	log.Infof("controller_number: %d pci_sf_number: %d",
		p.ControllerNumber, p.PCISFNumber)
}

func printInfo(i *devlink.Info) {
	log.Infof("driver_name: %q", i.DriverName)
	log.Infof("serial_number: %q", i.SerialNumber)
	log.Infof("board_serial_number: %q", i.BoardSerialNumber)
	log.Infof("version_fixed: %s: %s", i.VersionFixed.Name, i.VersionFixed.Value)
	log.Infof("version_running: %s: %s", i.VersionRunning.Name, i.VersionRunning.Value)
	log.Infof("version_stored: %s: %s", i.VersionStored.Name, i.VersionStored.Value)
}
