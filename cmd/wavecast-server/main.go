// Command wavecast-server runs the wavecast multicast file server: it
// serves one payload path per wave-scheduled session, admitting
// receivers over a control connection and fanning out blocks over IP
// multicast.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/daparker3/MulticastDownloader/internal/control"
	"github.com/daparker3/MulticastDownloader/internal/fileset"
	"github.com/daparker3/MulticastDownloader/internal/mcast"
	"github.com/daparker3/MulticastDownloader/internal/psk"
	"github.com/daparker3/MulticastDownloader/internal/server"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	app := &cli.App{
		Name:  "wavecast-server",
		Usage: "serve files over IP multicast to any number of wavecast receivers",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Value: "0.0.0.0:7942", Usage: "control listen address"},
			&cli.StringFlag{Name: "root", Required: true, Usage: "payload root folder"},
			&cli.StringFlag{Name: "multicast-addr", Value: "239.0.0.1", Usage: "multicast group address"},
			&cli.IntFlag{Name: "multicast-port", Value: 9000, Usage: "base multicast port; each session uses this plus its session id (ids start at 1)"},
			&cli.IntFlag{Name: "burst-length", Value: 64, Usage: "segments per burst per wave"},
			&cli.IntFlag{Name: "mtu", Value: 1500},
			&cli.BoolFlag{Name: "ipv6"},
			&cli.StringFlag{Name: "iface", Usage: "multicast interface name (default: first non-loopback)"},
			&cli.IntFlag{Name: "ttl", Value: 1},
			&cli.IntFlag{Name: "max-sessions", Value: 8},
			&cli.IntFlag{Name: "max-receivers-per-session", Value: 32},
			&cli.DurationFlag{Name: "read-timeout", Value: 10 * time.Minute},
			&cli.DurationFlag{Name: "status-interval", Value: time.Second},
			&cli.DurationFlag{Name: "idle-grace", Value: 2 * time.Minute},
			&cli.StringFlag{Name: "pass", Usage: "pre-shared pass-phrase; unset disables authentication"},
			&cli.BoolFlag{Name: "tls", Usage: "wrap the control channel in TLS keyed off the PSK nonce"},
			&cli.StringFlag{Name: "log-level", Value: "info"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("wavecast-server exiting")
	}
}

func run(c *cli.Context) error {
	level, err := zerolog.ParseLevel(c.String("log-level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	cfg := server.DefaultConfig()
	cfg.ListenAddr = c.String("listen")
	cfg.RootFolder = c.String("root")
	cfg.MulticastAddress = c.String("multicast-addr")
	cfg.MulticastStartPort = c.Int("multicast-port")
	cfg.MulticastBurstLength = c.Int("burst-length")
	cfg.Mtu = c.Int("mtu")
	cfg.Ipv6 = c.Bool("ipv6")
	cfg.InterfaceName = c.String("iface")
	cfg.Ttl = c.Int("ttl")
	cfg.MaxSessions = c.Int("max-sessions")
	cfg.MaxConnectionsPerSession = c.Int("max-receivers-per-session")
	cfg.ReadTimeout = c.Duration("read-timeout")
	cfg.PacketUpdateInterval = c.Duration("status-interval")
	cfg.IdleGrace = c.Duration("idle-grace")
	if pass := c.String("pass"); pass != "" {
		cfg.PassPhraseSet = true
		cfg.PassPhrase = pass
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var cipher *psk.Cipher
	if cfg.PassPhraseSet {
		cipher, err = psk.New(cfg.PassPhrase, cfg.PassphraseEncoder)
		if err != nil {
			return err
		}
	}

	var secure control.SecureChannel = control.PlainChannel{}
	if c.Bool("tls") {
		secure = control.TLSChannel{IsServer: true}
	}

	headers, err := fileset.DiscoverHeaders(cfg.RootFolder)
	if err != nil {
		return fmt.Errorf("discovering payload under %q: %w", cfg.RootFolder, err)
	}
	blockSize, err := fileset.DeriveBlockSize(cfg.Mtu, cfg.Ipv6, cipher)
	if err != nil {
		return err
	}
	chunks, err := fileset.BuildChunks(headers, blockSize)
	if err != nil {
		return err
	}
	source, err := fileset.NewDirFileSet(cfg.RootFolder, headers, blockSize)
	if err != nil {
		return err
	}

	// Each session gets its own multicast group and send socket: spec.md
	// §3/§6 derive multicast_port = MulticastStartPort + session_id so
	// concurrent sessions never share a group, and §5 requires the send
	// socket itself to be session-local.
	registry := server.NewRegistry(&cfg, cipher, secure, func(id int, path string) (*server.Session, error) {
		port := cfg.MulticastStartPort + id
		group, err := mcast.Join(cfg.MulticastAddress, port, cfg.InterfaceName, cfg.Ttl)
		if err != nil {
			return nil, fmt.Errorf("joining multicast group for session %d: %w", id, err)
		}
		sess := server.NewSession(id, path, &cfg, group, source, cipher, headers, chunks, port)
		go func() {
			if err := sess.RunWaveLoop(c.Context); err != nil {
				log.Error().Err(err).Int("session", sess.ID).Msg("wave loop exited")
			}
		}()
		return sess, nil
	})

	listener, err := control.Listen(cfg.ListenAddr)
	if err != nil {
		return err
	}
	defer listener.Close()

	log.Info().Str("listen", cfg.ListenAddr).Str("group", cfg.MulticastAddress).
		Int("base_port", cfg.MulticastStartPort).Str("root", cfg.RootFolder).Msg("wavecast-server ready")

	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		go func() {
			sess, rec, err := registry.HandleConnection(conn)
			if err != nil {
				log.Warn().Err(err).Msg("rejected incoming connection")
				return
			}
			if err := registry.ServeConnection(sess, rec); err != nil {
				log.Debug().Str("receiver", rec.ID).Err(err).Msg("receiver connection ended")
			}
		}()
	}
}
