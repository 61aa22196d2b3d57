/*
Cloudhubd runs one box's self-organizing mesh control plane.

Usage:

    cloudhubd -local-mac AA:BB:CC:DD:EE:FF [options]

Examples:

    cloudhubd -local-mac 02:00:00:00:00:01 -udp-port 7983

Options:

Usage of cloudhubd:

  -local-mac="": this box's own wireless MAC address (required)
  -udp-port=7983: UDP multicast port backing the transport layer
  -mode="ad-hoc": operating mode: ad-hoc or wds
*/
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/meshbox/cloudhub"
	"github.com/meshbox/cloudhub/config"
	"github.com/meshbox/cloudhub/logging"
	"github.com/meshbox/cloudhub/transport"
)

func main() {
	fs := flag.NewFlagSet("cloudhubd", flag.ExitOnError)
	cfg, err := config.ParseFlags(fs, os.Args[1:])
	if err != nil {
		log.Fatalln(err)
	}

	if err := cfg.Debug.LoadCommandFile("/tmp/cloudhub.debug"); err != nil {
		log.Println("cloudhub: debug command file:", err)
	}

	logger := logging.NewDefault()

	tr, err := transport.NewUDPTransport(cfg.LocalAddr, cfg.UDPPort, logger)
	if err != nil {
		log.Fatalln(err)
	}

	node, err := cloudhub.NewNode(cfg, tr, logger)
	if err != nil {
		log.Fatalln(err)
	}
	node.Start()
	defer node.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	for {
		select {
		case ev := <-node.Chan():
			if ev == nil {
				return
			}
			log.Printf("[%s] %s", cfg.LocalAddr, ev)

		case <-sig:
			return
		}
	}
}
