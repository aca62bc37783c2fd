package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gpslink/internal/config"
	"gpslink/internal/link"
	"gpslink/internal/logging"
)

func newSendCmd() *cobra.Command {
	var (
		addr string
		wait time.Duration
		raw  bool
	)
	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Send one command to the peer and print what it answers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSendConfig(cmd, addr)
			if err != nil {
				return err
			}
			if err := logging.Setup(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, cmd.ErrOrStderr()); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return sendOnce(ctx, cfg, runtimeOptions{Console: cmd.OutOrStdout()}, strings.Join(args, " "), raw, wait)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Peer address, overrides link.address from the config")
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "How long to print replies before disconnecting")
	cmd.Flags().BoolVar(&raw, "raw", false, `Write the text byte for byte after expanding escapes such as \r and \n; no delimiter is added`)
	return cmd
}

// loadSendConfig reads the config file, or builds a minimal one from --addr
// when no file is present.
func loadSendConfig(cmd *cobra.Command, addr string) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		if addr == "" || !os.IsNotExist(err) {
			return config.Config{}, fmt.Errorf("config load failed: %w", err)
		}
		cfg = config.Config{}
	}
	if addr != "" {
		cfg.Link.Address = addr
		if err := config.DefaultAndValidate(&cfg); err != nil {
			return config.Config{}, err
		}
	}
	// A one-shot command does not stream position reports.
	off := false
	cfg.Location.Enable = &off
	cfg.Web.Enable = false
	cfg.Store.Enable = false
	return cfg, nil
}

func sendOnce(ctx context.Context, cfg config.Config, opts runtimeOptions, text string, raw bool, wait time.Duration) error {
	var payload []byte
	if raw {
		p, err := unescape(text)
		if err != nil {
			return err
		}
		payload = p
	}

	rt, err := newLinkRuntime(cfg, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Start(ctx); err != nil {
		return err
	}
	if raw {
		err = rt.session.Write(payload)
	} else {
		err = rt.session.SendCommand(ctx, text)
	}
	if err != nil {
		return err
	}

	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-rt.session.Done():
		return rt.session.Err()
	}
	return nil
}

// unescape expands Go string escapes, so "AT\r\n" becomes four bytes.
func unescape(text string) ([]byte, error) {
	s, err := strconv.Unquote(`"` + strings.ReplaceAll(text, `"`, `\"`) + `"`)
	if err != nil {
		return nil, fmt.Errorf("raw text %q: invalid escape", text)
	}
	return []byte(s), nil
}

var _ commandSender = (*link.Session)(nil)
