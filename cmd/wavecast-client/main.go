// Command wavecast-client fetches a payload from a wavecast server,
// named by an mcs:// (authenticated/TLS) or mc:// (plaintext) URI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/daparker3/MulticastDownloader/internal/receiver"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	app := &cli.App{
		Name:  "wavecast-client",
		Usage: "fetch a payload from a wavecast server",
		Commands: []*cli.Command{
			fetchCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("wavecast-client exiting")
	}
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "fetch the payload named by a mcs:// or mc:// URI into a local folder",
		ArgsUsage: "<uri>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Value: ".", Usage: "destination folder"},
			&cli.StringFlag{Name: "pass", Usage: "pre-shared pass-phrase; prompted interactively for mcs:// if omitted"},
			&cli.StringFlag{Name: "iface", Usage: "multicast interface name"},
			&cli.IntFlag{Name: "ttl", Value: 1},
			&cli.IntFlag{Name: "mtu", Value: 1500},
			&cli.BoolFlag{Name: "ipv6"},
			&cli.IntFlag{Name: "buffer-size", Value: 2048},
			&cli.DurationFlag{Name: "read-timeout", Value: 10 * time.Minute},
			&cli.DurationFlag{Name: "status-interval", Value: time.Second},
			&cli.DurationFlag{Name: "reconnect-delay", Value: 30 * time.Second},
			&cli.StringFlag{Name: "log-level", Value: "info"},
		},
		Action: runFetch,
	}
}

func runFetch(c *cli.Context) error {
	level, err := zerolog.ParseLevel(c.String("log-level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	if c.NArg() != 1 {
		return fmt.Errorf("usage: wavecast-client fetch [flags] <uri>")
	}
	endpoint, err := receiver.ParseURI(c.Args().Get(0))
	if err != nil {
		return err
	}

	pass := c.String("pass")
	if pass == "" && endpoint.Secure {
		if err := survey.AskOne(&survey.Password{Message: "pass-phrase:"}, &pass); err != nil {
			return fmt.Errorf("reading pass-phrase: %w", err)
		}
	}

	cfg := receiver.DefaultConfig()
	cfg.RootFolder = c.String("out")
	cfg.InterfaceName = c.String("iface")
	cfg.Ttl = c.Int("ttl")
	cfg.Mtu = c.Int("mtu")
	cfg.Ipv6 = c.Bool("ipv6")
	cfg.MulticastBufferSize = c.Int("buffer-size")
	cfg.ReadTimeout = c.Duration("read-timeout")
	cfg.PacketUpdateInterval = c.Duration("status-interval")
	cfg.ReconnectDelay = c.Duration("reconnect-delay")
	if pass != "" {
		cfg.PassPhraseSet = true
		cfg.PassPhrase = pass
	}

	sess, err := receiver.New(cfg, endpoint)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	log.Info().Str("endpoint", endpoint.Addr).Str("path", endpoint.Path).Str("out", cfg.RootFolder).
		Msg("fetch starting")

	if err := sess.Run(ctx); err != nil {
		return err
	}

	log.Info().Float64("bytes_per_second", sess.BytesPerSecond()).Msg("fetch finished")
	return nil
}
