// Command vnet-ctcpd runs a single cTCP connection over UDP: the
// datagram substrate spec.md §6 treats as an external collaborator, here
// concretely a UDP socket carrying one cTCP segment per datagram.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gopherlab/vnet/config"
	"github.com/gopherlab/vnet/ctcp"
	"github.com/gopherlab/vnet/ctcp/bbr"
	"github.com/gopherlab/vnet/metrics"
	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	configPath string
	listenAddr string
	remoteAddr string
	verbose    bool

	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "vnet-ctcpd",
	Short: "cTCP reliable-transport daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "ctcpd.yaml", "Path to cTCP daemon configuration file")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", ":8888", "UDP address to listen on")
	rootCmd.PersistentFlags().StringVar(&remoteAddr, "remote", "", "UDP address of the peer (required)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vnet-ctcpd %s\n", version)
		},
	})
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

// udpPeer implements ctcp.Peer over a connected UDP socket.
type udpPeer struct {
	conn *net.UDPConn
}

func (p *udpPeer) SendSegment(buf []byte) error {
	_, err := p.conn.Write(buf)
	return err
}

func run() error {
	log := newLogger(verbose)

	if remoteAddr == "" {
		return fmt.Errorf("--remote is required")
	}

	cfg, err := config.LoadCtcpd(configPath)
	if err != nil {
		log.Warn("falling back to flag defaults, could not load config", "path", configPath, "err", err)
		cfg = &config.CtcpdConfig{Congestion: "fixed", RTTimeoutMS: 1000}
	}

	laddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return fmt.Errorf("resolving listen address: %w", err)
	}
	raddr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return fmt.Errorf("resolving remote address: %w", err)
	}
	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", remoteAddr, err)
	}
	defer conn.Close()

	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, reg, log)
	}

	c := ctcp.NewConn(&udpPeer{conn: conn}, os.Stdout, 1, 1)
	c.Log = log.With("component", "ctcp")
	c.Metrics = rec
	c.Clock = clockwork.NewRealClock()
	c.RTTimeout = time.Duration(cfg.RTTimeoutMS) * time.Millisecond
	if cfg.Congestion == "bbr" {
		bbrCtrl := bbr.New(uint64(time.Now().UnixNano()), ctcp.MaxSegData, ctcp.MaxSegData*4, log.With("component", "bbr"))
		bbrCtrl.SetMetrics(rec)
		c.Congestion = bbrCtrl
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg2 := ctcp.NewRegistry(c.Clock)
	reg2.Add(c)
	go reg2.Run(ctx)

	go func() {
		buf := make([]byte, 65535)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error("udp read failed", "err", err)
				continue
			}
			cp := make([]byte, n)
			copy(cp, buf[:n])
			if err := c.Receive(cp); err != nil {
				log.Error("ctcp receive failed", "err", err)
			}
		}
	}()

	log.Info("ctcpd started", "listen", listenAddr, "remote", remoteAddr, "congestion", cfg.Congestion)

	return pumpStdin(ctx, c, log)
}

// pumpStdin reads application bytes from stdin and sends them as cTCP data
// segments, retrying on ErrWindowFull, until EOF triggers SendEOF.
func pumpStdin(ctx context.Context, c *ctcp.Conn, log *slog.Logger) error {
	buf := make([]byte, ctcp.MaxSegData)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			for {
				sendErr := c.Send(buf[:n])
				if sendErr == nil {
					break
				}
				if sendErr != ctcp.ErrWindowFull {
					return sendErr
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(10 * time.Millisecond):
				}
			}
		}
		if err == io.EOF {
			return c.SendEOF()
		}
		if err != nil {
			return err
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

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
