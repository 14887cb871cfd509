// Command corechain runs the pluggable DNS server: it parses a Corefile,
// builds each zone's plugin chain, and serves UDP/TCP until terminated.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"runtime"

	"github.com/coredns/corechain/core/dnsserver"
	clog "github.com/coredns/corechain/plugin/pkg/log"

	_ "github.com/coredns/corechain/plugin/cache"
	_ "github.com/coredns/corechain/plugin/errors"
	_ "github.com/coredns/corechain/plugin/forward"
	_ "github.com/coredns/corechain/plugin/health"
	_ "github.com/coredns/corechain/plugin/log"
	_ "github.com/coredns/corechain/plugin/metrics"
	_ "github.com/coredns/corechain/plugin/reload"
	_ "github.com/coredns/corechain/plugin/whoami"
)

var mainLog = clog.NewWithPlugin("main")

func main() {
	configPath := flag.String("config", "Corefile", "configuration file to read zones from")
	address := flag.String("address", "0.0.0.0:53", "default address to bind to; a zone's own :port suffix wins over the port given here")
	flag.Parse()

	listenIP, _, err := net.SplitHostPort(*address)
	if err != nil {
		fmt.Fprintf(os.Stderr, "corechain: invalid --address %q: %v\n", *address, err)
		os.Exit(1)
	}

	mainLog.Infof("starting, GOMAXPROCS=%d", runtime.GOMAXPROCS(0))

	sup := dnsserver.NewSupervisor(*configPath, listenIP)
	if err := sup.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "corechain: %v\n", err)
		os.Exit(1)
	}
}
