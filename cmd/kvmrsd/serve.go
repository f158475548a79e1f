package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jorgecis/kvmrs/internal/capture"
	"github.com/jorgecis/kvmrs/internal/certutil"
	"github.com/jorgecis/kvmrs/internal/config"
	"github.com/jorgecis/kvmrs/internal/hid"
	"github.com/jorgecis/kvmrs/internal/hub"
	"github.com/jorgecis/kvmrs/internal/kvmerr"
	"github.com/jorgecis/kvmrs/internal/pipeline"
	"github.com/jorgecis/kvmrs/internal/rfb"
	"github.com/jorgecis/kvmrs/internal/sysbus"
	"github.com/jorgecis/kvmrs/internal/wsbridge"
)

func newServeCmd() *cobra.Command {
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the KVM-over-IP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.BindAddr, "bind", cfg.BindAddr, "address to bind listeners to")
	flags.IntVar(&cfg.VNCPort, "vnc-port", cfg.VNCPort, "RFB/VNC listener port")
	flags.IntVar(&cfg.WSPort, "port", cfg.WSPort, "browser WebSocket listener port")
	flags.StringVar(&cfg.VideoPath, "video", cfg.VideoPath, "capture device path")
	flags.BoolVar(&cfg.ForceFramebuffer, "force-framebuffer", cfg.ForceFramebuffer, "force framebuffer capture, ignoring --video's V4L2 detection")
	flags.StringVar(&cfg.KeyboardHIDPath, "keyboard-hid", cfg.KeyboardHIDPath, "keyboard HID gadget character device")
	flags.StringVar(&cfg.MouseHIDPath, "mouse-hid", cfg.MouseHIDPath, "mouse HID gadget character device")
	flags.BoolVar(&cfg.TLSEnabled, "vnc-tls", cfg.TLSEnabled, "wrap the RFB listener in a TLS tunnel")
	flags.StringVar(&cfg.VNCCert, "vnc-cert", cfg.VNCCert, "PEM certificate for --vnc-tls (self-signed if omitted)")
	flags.StringVar(&cfg.VNCKey, "vnc-key", cfg.VNCKey, "PEM private key for --vnc-tls (self-signed if omitted)")

	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	if err := config.LoadEnv(&cfg); err != nil {
		return kvmerr.New(kvmerr.KindConfig, fmt.Errorf("kvmrsd: load env config: %w", err))
	}

	log := newLogger(cfg.Env.LogLevel)

	if err := sysbus.Probe(log); err != nil {
		return kvmerr.New(kvmerr.KindFatal, fmt.Errorf("kvmrsd: system bus probe failed: %w", err))
	}

	translator, err := openTranslator(cfg)
	if err != nil {
		return kvmerr.New(kvmerr.KindConfig, fmt.Errorf("kvmrsd: hid translator: %w", err))
	}
	defer translator.Keyboard.Close()
	defer translator.Mouse.Close()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	h := hub.New()
	src := capture.Select(cfg.VideoPath, cfg.ForceFramebuffer, log)
	go func() {
		if err := pipeline.Run(ctx, src, h, log); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("kvmrsd: capture pipeline exited")
		}
	}()

	rfbListener, tlsOffered, err := newRFBListener(cfg, log)
	if err != nil {
		return kvmerr.New(kvmerr.KindFatal, fmt.Errorf("kvmrsd: rfb listener: %w", err))
	}
	go serveRFB(ctx, rfbListener, h, translator, tlsOffered, log)

	mux := http.NewServeMux()
	mux.Handle(wsbridge.Path, wsbridge.Handler(log, func(conn io.ReadWriteCloser) {
		sess := rfb.NewSession(conn, h, translator, false, log)
		if err := sess.Run(ctx); err != nil {
			log.Debug().Err(err).Msg("kvmrsd: websocket session ended")
		}
	}))

	wsAddr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.WSPort)
	httpServer := &http.Server{Addr: wsAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = rfbListener.Close()
		_ = httpServer.Close()
	}()

	log.Info().Str("addr", wsAddr).Msg("kvmrsd: websocket bridge listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return kvmerr.New(kvmerr.KindFatal, fmt.Errorf("kvmrsd: websocket listener: %w", err))
	}
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).
		With().Timestamp().Logger()
}

func openTranslator(cfg config.Config) (*hid.Translator, error) {
	kb, err := hid.OpenGadget(cfg.KeyboardHIDPath, 8)
	if err != nil {
		return nil, err
	}
	mouse, err := hid.OpenGadget(cfg.MouseHIDPath, 4)
	if err != nil {
		_ = kb.Close()
		return nil, err
	}
	return &hid.Translator{Keyboard: kb, Mouse: mouse}, nil
}

func newRFBListener(cfg config.Config, log zerolog.Logger) (net.Listener, bool, error) {
	addr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.VNCPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, false, err
	}
	log.Info().Str("addr", addr).Msg("kvmrsd: rfb listener listening")

	if !cfg.TLSEnabled {
		return ln, false, nil
	}

	cert, err := certutil.LoadOrGenerate(cfg.VNCCert, cfg.VNCKey)
	if err != nil {
		_ = ln.Close()
		return nil, false, err
	}
	return tls.NewListener(ln, certutil.ServerConfig(cert)), true, nil
}

func serveRFB(ctx context.Context, ln net.Listener, h *hub.Hub, t *hid.Translator, tlsOffered bool, log zerolog.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("kvmrsd: rfb accept error")
			continue
		}

		sess := rfb.NewSession(conn, h, t, tlsOffered, log)
		go func() {
			if err := sess.Run(ctx); err != nil {
				log.Debug().Err(err).Msg("kvmrsd: rfb session ended")
			}
		}()
	}
}
