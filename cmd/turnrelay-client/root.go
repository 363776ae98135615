// Command turnrelay-client is a demonstration client for the turnrelay
// shim: it dials a base transport, optionally allocates a TURN relayed
// address, builds a relay.State for one of the three wire dialects, and
// drives a send/recv loop against a single peer while logging every
// transition with zap, the way gortcd-turn-client drives gortc's raw STUN
// client.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"gortc.io/stun"
	"gortc.io/turn"

	"github.com/gortc/turnrelay/addr"
	"github.com/gortc/turnrelay/internal/reload"
	"github.com/gortc/turnrelay/metrics"
	"github.com/gortc/turnrelay/relay"
	"github.com/gortc/turnrelay/transport"
)

func parseDialect(s string) (relay.Dialect, error) {
	switch s {
	case "draft9", "":
		return relay.DRAFT9, nil
	case "msn":
		return relay.MSN, nil
	case "google":
		return relay.GOOGLE, nil
	default:
		return 0, fmt.Errorf("unknown dialect %q", s)
	}
}

// allocHandler discards asynchronous STUN agent events; allocate only
// cares about the synchronous Do() callback below.
type allocHandler struct{ l *zap.Logger }

func (h allocHandler) HandleEvent(e stun.Event) {
	if e.Error != nil {
		h.l.Debug("stun agent event error", zap.Error(e.Error))
	}
}

// allocate performs a gortc.io/turn Allocate() against server over conn,
// the external prerequisite step spec.md treats as the surrounding ICE
// agent's responsibility, demonstrated here for DRAFT9 only.
func allocate(l *zap.Logger, conn net.Conn) error {
	c, err := stun.NewClient(stun.ClientOptions{
		Connection: conn,
		Agent:      stun.NewAgent(stun.AgentOptions{Handler: allocHandler{l: l}}),
	})
	if err != nil {
		return err
	}
	defer c.Close()

	var reladdr turn.RelayedAddress
	doErr := c.Do(stun.MustBuild(
		stun.TransactionID,
		turn.AllocateRequest,
		turn.RequestedTransportUDP,
	), time.Now().Add(3*time.Second), func(event stun.Event) {
		if event.Error != nil {
			err = event.Error
			return
		}
		if parseErr := event.Message.Parse(&reladdr); parseErr != nil {
			err = parseErr
			return
		}
		l.Info("allocated relayed address", zap.Stringer("reladdr", reladdr))
	})
	if doErr != nil {
		return doErr
	}
	return err
}

var rootCmd = &cobra.Command{
	Use:   "turnrelay-client",
	Short: "drives the turnrelay shim against a TURN server and a single peer",
	Run: func(cmd *cobra.Command, args []string) {
		v := viper.GetViper()
		l := getLogger(v)
		defer func() { _ = l.Sync() }()

		if cfgPath := v.ConfigFileUsed(); len(cfgPath) > 0 {
			l.Info("config file used", zap.String("path", cfgPath))
		} else {
			l.Info("default configuration used")
		}

		dialect, err := parseDialect(v.GetString("dialect"))
		if err != nil {
			l.Fatal("bad dialect", zap.Error(err))
		}

		serverAddr, err := net.ResolveUDPAddr("udp", normalize(v.GetString("server"), "3478"))
		if err != nil {
			l.Fatal("failed to resolve server address", zap.Error(err))
		}
		peerAddr, err := net.ResolveUDPAddr("udp", v.GetString("peer"))
		if err != nil {
			l.Fatal("failed to resolve peer address", zap.Error(err))
		}
		server := addr.FromUDPAddr(serverAddr)
		peer := addr.FromUDPAddr(peerAddr)

		if dialect == relay.DRAFT9 {
			conn, dialErr := net.Dial("udp", serverAddr.String())
			if dialErr != nil {
				l.Fatal("failed to dial server for allocation", zap.Error(dialErr))
			}
			if allocErr := allocate(l, conn); allocErr != nil {
				l.Warn("allocate failed, continuing without relayed address", zap.Error(allocErr))
			}
			conn.Close()
		}

		base, err := transport.NewBSD(transport.BSDOptions{ReusePort: v.GetBool("reuseport")})
		if err != nil {
			l.Fatal("failed to open transport", zap.Error(err))
		}

		var m *metrics.Relay
		if v.GetBool("metrics.active") {
			m = metrics.New(prometheus.Labels{"dialect": v.GetString("dialect")})
			prometheus.MustRegister(m)
		}
		if metricsAddr := v.GetString("metrics.addr"); metricsAddr != "" {
			l.Warn("running prometheus metrics", zap.String("addr", metricsAddr))
			go func() {
				if listenErr := http.ListenAndServe(metricsAddr, promhttp.Handler()); listenErr != nil {
					l.Error("prometheus failed to listen", zap.Error(listenErr))
				}
			}()
		}

		s, err := relay.Create(base, server, dialect,
			v.GetString("username"), v.GetString("password"),
			relay.WithMetrics(m), relay.WithLogger(l.Named("relay")))
		if err != nil {
			l.Fatal("failed to create relay state", zap.Error(err))
		}
		defer func() {
			if closeErr := s.Close(); closeErr != nil {
				l.Error("failed to close relay state", zap.Error(closeErr))
			}
		}()

		u := relay.NewUpdater(relay.Credentials{
			Username: v.GetString("username"),
			Password: v.GetString("password"),
		})
		u.Subscribe(s)

		reloadCreds := func(reason string) {
			u.Set(relay.Credentials{
				Username: v.GetString("username"),
				Password: v.GetString("password"),
			})
			l.Info("credentials reloaded", zap.String("reason", reason))
		}

		n := reload.NewNotifier()
		go func() {
			for range n.C {
				l.Info("reload signal received, re-reading config")
				if readErr := v.ReadInConfig(); readErr != nil {
					l.Error("failed to re-read config", zap.Error(readErr))
					continue
				}
				reloadCreds("sigusr2")
			}
		}()

		if v.ConfigFileUsed() != "" {
			v.OnConfigChange(func(e fsnotify.Event) {
				l.Info("config file changed", zap.String("path", e.Name))
				reloadCreds("fsnotify")
			})
			v.WatchConfig()
		}

		if !s.SetPeer(peer) {
			l.Fatal("failed to set peer", zap.Stringer("peer", peer))
		}
		l.Info("peer set", zap.Stringer("peer", peer), zap.String("dialect", v.GetString("dialect")))

		go recvLoop(l, s)
		sendLoop(l, s, peer)
	},
}

func recvLoop(l *zap.Logger, s *relay.State) {
	buf := make([]byte, 1500)
	for {
		from, n := s.Recv(buf)
		switch {
		case n < 0:
			time.Sleep(10 * time.Millisecond)
		case n == 0:
			// Control message consumed internally; nothing to report.
		default:
			l.Info("received datagram",
				zap.Stringer("from", from),
				zap.String("data", string(buf[:n])),
			)
		}
	}
}

func sendLoop(l *zap.Logger, s *relay.State, peer addr.Endpoint) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	i := 0
	for range ticker.C {
		i++
		msg := fmt.Sprintf("hello %d", i)
		if !s.Send(peer, []byte(msg)) {
			l.Error("send failed", zap.Stringer("peer", peer))
			continue
		}
		l.Debug("sent datagram", zap.Stringer("peer", peer), zap.String("data", msg))
	}
}

func init() {
	v := viper.GetViper()
	initViper(v)
	cobra.OnInitialize(func() { initConfig(v) })

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is turnrelay-client.yml in ., /etc/turnrelay/ or $HOME)")
	rootCmd.Flags().StringP("server", "s", "", "TURN server address")
	rootCmd.Flags().String("peer", "", "peer address to relay to")
	rootCmd.Flags().String("dialect", "draft9", "wire dialect: draft9, msn, google")
	rootCmd.Flags().StringP("username", "u", "", "username (base64 for msn)")
	rootCmd.Flags().StringP("password", "p", "", "password (base64 for msn, ignored for google)")
	rootCmd.Flags().Bool("reuseport", false, "bind with SO_REUSEPORT when available")
	rootCmd.Flags().Bool("metrics", false, "enable prometheus counters")
	rootCmd.Flags().String("metrics-addr", "", "address to serve prometheus metrics on, if set")

	mustBind(viper.BindPFlag("server", rootCmd.Flags().Lookup("server")))
	mustBind(viper.BindPFlag("peer", rootCmd.Flags().Lookup("peer")))
	mustBind(viper.BindPFlag("dialect", rootCmd.Flags().Lookup("dialect")))
	mustBind(viper.BindPFlag("username", rootCmd.Flags().Lookup("username")))
	mustBind(viper.BindPFlag("password", rootCmd.Flags().Lookup("password")))
	mustBind(viper.BindPFlag("reuseport", rootCmd.Flags().Lookup("reuseport")))
	mustBind(viper.BindPFlag("metrics.active", rootCmd.Flags().Lookup("metrics")))
	mustBind(viper.BindPFlag("metrics.addr", rootCmd.Flags().Lookup("metrics-addr")))
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
