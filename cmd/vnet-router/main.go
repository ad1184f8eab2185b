// Command vnet-router runs the IPv4 software router of §§1-6 against real
// TAP/NIC devices, configured by a YAML file.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gopherlab/vnet/arp"
	"github.com/gopherlab/vnet/config"
	"github.com/gopherlab/vnet/ethernet"
	"github.com/gopherlab/vnet/iface"
	"github.com/gopherlab/vnet/internal"
	"github.com/gopherlab/vnet/metrics"
	"github.com/gopherlab/vnet/netdev"
	"github.com/gopherlab/vnet/rib"
	"github.com/gopherlab/vnet/router"
	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	configPath string
	routesPath string
	verbose    bool
	logAllocs  bool

	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "vnet-router",
	Short: "Software IPv4 router",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vnet-router %s (commit %s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "router.yaml", "Path to router configuration file")
	rootCmd.PersistentFlags().StringVar(&routesPath, "routes-file", "", "Optional routing table in the course harness's \"dst gw mask iface\" text format, overriding config routes")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&logAllocs, "log-allocs", false, "Print heap allocation deltas to stderr for every received frame (diagnostic)")
	rootCmd.AddCommand(versionCmd)
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	}))
}

func run() error {
	log := newLogger(verbose)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ifaces, devices, err := buildInterfaces(cfg, log)
	if err != nil {
		return err
	}

	table, err := loadRoutes(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)

	clock := clockwork.NewRealClock()
	cache := arp.NewCache(clock, log.With("component", "arp"))
	devSet := netdev.NewSet(log, devices...)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	for _, d := range devices {
		d.EnableAsyncSend(ctx, 64*iface.MTU)
	}

	r := &router.Router{
		Ifaces:  ifaces,
		RIB:     table,
		ARP:     cache,
		IO:      devSet,
		Log:     log.With("component", "router"),
		Metrics: rec,
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, reg, log)
	}

	go cache.RunTimeoutLoop(ctx,
		func(a arp.RetryAction) { r.SendARPRequest(a.Iface, a.TargetIP) },
		func(u arp.Unreachable) { r.EmitHostUnreachable(u) },
	)
	go sampleARPMetrics(ctx, cache, rec)

	log.Info("router starting", "interfaces", len(ifaces.All()))
	return devSet.Run(ctx, iface.MTU, dispatcherFor(r))
}

// dispatcherFor optionally wraps r with an allocation-logging probe, kept
// separate from Router itself since it is a diagnostic concern, not
// forwarding behavior.
func dispatcherFor(r *router.Router) netdev.Dispatcher {
	if !logAllocs {
		return r
	}
	return allocLoggingDispatcher{r}
}

type allocLoggingDispatcher struct{ r *router.Router }

func (d allocLoggingDispatcher) HandleFrame(ifaceName string, buf []byte) {
	internal.LogAllocs("handle_frame")
	d.r.HandleFrame(ifaceName, buf)
}

func sampleARPMetrics(ctx context.Context, cache *arp.Cache, rec *metrics.Recorder) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries, pending := cache.Size()
			rec.ARPCacheSize.Set(float64(entries))
			rec.ARPPending.Set(float64(pending))
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server exited", "err", err)
	}
}

func buildInterfaces(cfg *config.RouterConfig, log *slog.Logger) (*iface.Set, []*netdev.Device, error) {
	var ifs []iface.Interface
	var devices []*netdev.Device
	for _, ic := range cfg.Interfaces {
		ip, err := parseIP4(ic.IP)
		if err != nil {
			return nil, nil, fmt.Errorf("interface %s: %w", ic.Name, err)
		}
		mac, err := parseMAC(ic.MAC)
		if err != nil {
			return nil, nil, fmt.Errorf("interface %s: %w", ic.Name, err)
		}
		ifs = append(ifs, iface.Interface{Name: ic.Name, IP: ip, HW: mac})

		devName := ic.Device
		if devName == "" {
			devName = ic.Name
		}
		dev, err := netdev.Open(ic.Name, !ic.Bridge, log.With("iface", ic.Name))
		if err != nil {
			return nil, nil, fmt.Errorf("interface %s: opening device %s: %w", ic.Name, devName, err)
		}
		devices = append(devices, dev)
	}
	return iface.NewSet(ifs...), devices, nil
}

func loadRoutes(cfg *config.RouterConfig) (*rib.Table, error) {
	if routesPath != "" {
		f, err := os.Open(routesPath)
		if err != nil {
			return nil, fmt.Errorf("routes file: %w", err)
		}
		defer f.Close()
		return rib.LoadTable(f)
	}
	table := rib.New()
	for _, rt := range cfg.Routes {
		route, err := parseRoute(rt)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", rt.Network, err)
		}
		table.Add(route)
	}
	return table, nil
}

func parseRoute(rt config.RouteConfig) (rib.Route, error) {
	_, ipnet, err := net.ParseCIDR(rt.Network)
	if err != nil {
		return rib.Route{}, err
	}
	var dest, mask [4]byte
	copy(dest[:], ipnet.IP.To4())
	copy(mask[:], ipnet.Mask)
	var gw [4]byte
	if rt.NextHop != "" {
		gwIP, err := parseIP4(rt.NextHop)
		if err != nil {
			return rib.Route{}, err
		}
		gw = gwIP
	}
	return rib.Route{Dest: dest, Mask: mask, Gateway: gw, Interface: rt.Iface}, nil
}

func parseIP4(s string) ([4]byte, error) {
	var out [4]byte
	ip := net.ParseIP(s)
	if ip == nil {
		return out, fmt.Errorf("invalid IPv4 address %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return out, fmt.Errorf("%q is not an IPv4 address", s)
	}
	copy(out[:], v4)
	return out, nil
}

func parseMAC(s string) (ethernet.Addr, error) {
	var out ethernet.Addr
	hw, err := net.ParseMAC(s)
	if err != nil {
		return out, err
	}
	if len(hw) != 6 {
		return out, fmt.Errorf("%q is not a 6-byte MAC", s)
	}
	copy(out[:], hw)
	return out, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
