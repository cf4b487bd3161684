// Command recursor runs a hybrid authoritative/recursive DNS server.
// It loads a zone file, binds a UDP socket, and serves queries until
// interrupted.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/semihalev/log"
	"github.com/spf13/cobra"

	"github.com/Tvcz/dns-server/config"
	"github.com/Tvcz/dns-server/eventloop"
	"github.com/Tvcz/dns-server/metrics"
	"github.com/Tvcz/dns-server/querylog"
	"github.com/Tvcz/dns-server/querytable"
	"github.com/Tvcz/dns-server/resolver"
	"github.com/Tvcz/dns-server/rrcache"
	"github.com/Tvcz/dns-server/zone"
)

const version = "1.0.0"

var (
	cfgPath string
	port    int
)

func main() {
	root := &cobra.Command{
		Use:   "recursor <root_ip> <zone>",
		Short: "A hybrid authoritative/recursive DNS server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], args[1])
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "recursor.toml", "location of the config file, generated if missing")
	root.Flags().IntVar(&port, "port", 0, "UDP port to bind (default: OS-assigned)")

	if err := root.Execute(); err != nil {
		log.Crit("startup failed", "error", err.Error())
		os.Exit(1)
	}
}

func run(rootIP, zonePath string) error {
	if ip := net.ParseIP(rootIP); ip == nil || ip.To4() == nil {
		return fmt.Errorf("root_ip %q is not a valid IPv4 address", rootIP)
	}

	cfg, err := config.Load(cfgPath, version)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	lvl, err := log.LvlFromString(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("config: unknown log level %q", cfg.LogLevel)
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StderrHandler))

	store, err := zone.Load(zonePath)
	if err != nil {
		return fmt.Errorf("zone: %w", err)
	}
	log.Info("zone loaded", "path", zonePath, "records", len(store.AllRecords()))

	trace, err := querylog.New(cfg.LogDir, config.WallClock)
	if err != nil {
		return fmt.Errorf("querylog: %w", err)
	}
	defer trace.Close()

	conn, err := eventloop.Bind(port)
	if err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	transport := eventloop.NewTransport(conn)

	cache := rrcache.New()
	table := querytable.NewTable()

	r := resolver.New(store, cache, table, transport, trace, config.WallClock, rootIP, cfg.UpstreamPort, cfg.RetransmitInterval.Duration, cfg.MaxAttempts)

	recorder := metrics.New(prometheus.DefaultRegisterer)
	r.SetMetrics(recorder)

	if err := metrics.RunDebugAPI(cfg.DebugAPI, recorder, cache, table, cfg.CacheSizeHint); err != nil {
		return fmt.Errorf("debug api: %w", err)
	}

	loop := eventloop.NewLoop(conn, r, cfg.PollInterval.Duration)

	log.Info("recursor listening", "addr", loop.LocalAddr().String(), "root", rootIP)

	done := make(chan error, 1)
	go func() { done <- loop.Run() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sig:
		log.Info("shutting down")
		loop.Stop()
		return <-done
	case err := <-done:
		return err
	}
}
