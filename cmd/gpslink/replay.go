package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gpslink/internal/frame"
	"gpslink/internal/logging"
	"gpslink/internal/replay"
)

func newReplayCmd() *cobra.Command {
	var (
		file   string
		listen string
		speed  float64
		loop   bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Play back the peer side of a recorded transcript as a fake TCP peripheral",
		Long: `replay listens on a TCP address and, for each client, plays back the bytes
the peer sent in a transcript written via link.record_path. Point a second
gpslink at it with link.address: tcp://<listen>.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := logging.Setup(logging.Config{}, cmd.ErrOrStderr()); err != nil {
				return err
			}
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			recs, err := replay.NewReader(f).ReadAll()
			_ = f.Close()
			if err != nil {
				return fmt.Errorf("transcript %s: %w", file, err)
			}

			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			defer ln.Close()
			log.Info().Str("module", "replay").Str("listen", ln.Addr().String()).Int("records", len(recs)).Msg("replay peer ready")

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return servePeer(ctx, ln, recs, speed, loop, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Transcript file")
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:7000", "TCP listen address")
	cmd.Flags().Float64Var(&speed, "speed", 1, "Playback speed multiplier")
	cmd.Flags().BoolVar(&loop, "loop", false, "Repeat the transcript until the client disconnects")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// servePeer accepts clients one at a time until ctx ends and plays the
// peer's recorded bytes to each. Lines the client sends are printed to out.
func servePeer(ctx context.Context, ln net.Listener, recs []replay.Record, speed float64, loop bool, out io.Writer) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	con := newConsole(out)

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		log.Info().Str("module", "replay").Str("client", c.RemoteAddr().String()).Msg("client connected")

		cctx, cancel := context.WithCancel(ctx)
		go func() {
			defer cancel()
			echoLines(c, con)
		}()

		err = replay.Play(cctx, recs, replay.FromPeer, speed, loop, nil, func(p []byte) error {
			_, err := c.Write(p)
			return err
		})
		if err == nil {
			// Keep the connection open so the client's replies can be seen.
			<-cctx.Done()
		}
		cancel()
		_ = c.Close()
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Str("module", "replay").Err(err).Msg("playback ended")
		}
	}
}

// echoLines prints what the client sends until it disconnects.
func echoLines(r io.Reader, con *console) {
	dec := frame.NewDecoder(0)
	buf := make([]byte, 1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			lines, _ := dec.Feed(buf[:n])
			for _, l := range lines {
				con.printf("> %s\n", l)
			}
		}
		if err != nil {
			return
		}
	}
}
