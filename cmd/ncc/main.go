// ncc validates a device-interface document, compiles it, and prints the
// assigned subject ids. With -system it also validates a system definition.
//
// Payload types are resolved against a pass-through registry: type names are
// accepted as-is and bodies treated as opaque bytes, since structured codecs
// are linked in by the embedding application, not by this tool.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	novacan "github.com/ecthelion99/nova-can"
	"github.com/ecthelion99/nova-can/device"
	"github.com/ecthelion99/nova-can/system"
)

func main() {
	var (
		devicePath = flag.String("device", "", "path to the device interface YAML file")
		systemPath = flag.String("system", "", "optional path to a system definition YAML file")
		verbose    = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	if *devicePath == "" {
		log.Error().Msg("-device is required")
		flag.Usage()
		os.Exit(2)
	}

	iface, err := device.Load(*devicePath)
	if err != nil {
		log.Error().Err(err).Str("path", *devicePath).Msg("device interface rejected")
		os.Exit(1)
	}

	table, err := device.Compile(iface, device.CompileOptions{Registry: novacan.RawRegistry{}})
	if err != nil {
		log.Error().Err(err).Str("device", iface.Device).Msg("compilation failed")
		os.Exit(1)
	}

	fmt.Printf("device %s (version %s)\n", iface.Device, iface.Version)
	for _, e := range table.Entries() {
		switch e.Role {
		case novacan.RoleClientService, novacan.RoleServerService:
			fmt.Printf("  %-18s %-16s subject %3d  %s -> %s\n",
				e.Role, e.Name, e.SubjectID, e.Type.Name(), e.Response.Name())
		default:
			fmt.Printf("  %-18s %-16s subject %3d  %s\n",
				e.Role, e.Name, e.SubjectID, e.Type.Name())
		}
	}

	if *systemPath == "" {
		return
	}
	def, err := system.Load(*systemPath)
	if err != nil {
		log.Error().Err(err).Str("path", *systemPath).Msg("system definition rejected")
		os.Exit(1)
	}
	fmt.Printf("system %s\n", def.Name)
	for _, b := range def.CanBuses {
		fmt.Printf("  bus %-12s rate %7d  %d device(s)\n", b.Name, b.Rate, len(b.Devices))
		for _, d := range b.Devices {
			fmt.Printf("    node %3d  %-16s %s\n", d.NodeID, d.Name, d.DeviceType)
		}
	}
}
