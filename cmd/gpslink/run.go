package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gpslink/internal/config"
	"gpslink/internal/logging"
	"gpslink/internal/protocol"
	"gpslink/internal/transport"
	"gpslink/internal/web"
)

func newRunCmd() *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the peer and serve location requests until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}

			logs := web.NewLogBuffer(2000)
			if err := logging.Setup(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, cmd.ErrOrStderr(), logs); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			var in io.Reader
			if interactive {
				in = cmd.InOrStdin()
			}
			return runLink(ctx, cfg, runtimeOptions{Console: cmd.OutOrStdout()}, in, logs)
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Read operator commands from stdin, one per line")
	return cmd
}

// runLink runs one connection to completion. It returns nil on a clean
// shutdown and the connection-lost error when the peer goes away.
func runLink(ctx context.Context, cfg config.Config, opts runtimeOptions, commands io.Reader, logs *web.LogBuffer) error {
	rt, err := newLinkRuntime(cfg, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	log.Info().Str("peer", rt.cfg.Link.Address).Bool("gps", rt.cfg.GPS.Enable).Msg("gpslink starting")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if rt.cfg.Web.Enable {
		deps := rt.webDeps()
		deps.Logs = logs
		go func() {
			err := web.Serve(ctx, rt.cfg.Web.Listen, deps)
			if err != nil && ctx.Err() == nil {
				log.Error().Str("module", "web").Err(err).Msg("web server stopped")
			}
		}()
		log.Info().Str("module", "web").Str("listen", rt.cfg.Web.Listen).Msg("web enabled")
	}

	if err := rt.Start(ctx); err != nil {
		return err
	}

	if commands != nil {
		go readCommands(ctx, commands, rt.session)
	}

	err = rt.Wait(ctx)
	log.Info().Msg("gpslink stopping")
	return err
}

type commandSender interface {
	SendCommand(ctx context.Context, text string) error
}

// readCommands forwards each stdin line to the peer until EOF or ctx ends.
func readCommands(ctx context.Context, in io.Reader, s commandSender) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		text := strings.TrimRight(sc.Text(), "\r")
		err := s.SendCommand(ctx, text)
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrClosed):
			log.Warn().Msg("command not sent: not connected")
			return
		case errors.Is(err, protocol.ErrInvalidPayload):
			log.Warn().Err(err).Msg("command rejected")
		default:
			log.Warn().Err(err).Msg("command failed")
		}
	}
}
