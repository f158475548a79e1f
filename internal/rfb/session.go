package rfb

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/jorgecis/kvmrs/internal/frame"
	"github.com/jorgecis/kvmrs/internal/hid"
	"github.com/jorgecis/kvmrs/internal/hub"
	"github.com/jorgecis/kvmrs/internal/kvmerr"
)

// Stream is the byte-stream capability a Session is parameterized
// over (spec.md §9): a plain net.Conn, a *tls.Conn, or a WebSocket
// adapter all satisfy it identically, so the state machine below never
// branches on transport kind except for which security type to offer.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

var defaultDimensions = frame.Dimensions{Width: 1920, Height: 1080}

// Session is a per-client RFB state machine (spec.md §3, §4.D). One
// Session owns one Stream exclusively; it is created on accept and
// discarded on disconnect or fatal error.
type Session struct {
	conn       Stream
	hub        *hub.Hub
	hid        *hid.Translator
	tlsOffered bool
	log        zerolog.Logger

	clientFormat  PixelFormat
	encodings     []int32
	updatePending bool
	pointer       hid.PointerState
}

// NewSession constructs a Session. tlsOffered controls whether the
// Security state offers type 18 (TLS) instead of 1 (None) — it
// reflects whether the transport was already tunneled at the socket
// layer before this Session was built, not anything the Session
// itself negotiates.
func NewSession(conn Stream, h *hub.Hub, t *hid.Translator, tlsOffered bool, log zerolog.Logger) *Session {
	return &Session{
		conn:       conn,
		hub:        h,
		hid:        t,
		tlsOffered: tlsOffered,
		log:        log,
	}
}

// Run drives the Session through VersionExchange, Security, ClientInit
// and then the Serving loop until the client disconnects, a protocol
// error occurs, or ctx is cancelled. It always closes the underlying
// Stream and releases the Hub subscription before returning.
func (s *Session) Run(ctx context.Context) error {
	defer s.conn.Close()

	if err := s.doVersionExchange(); err != nil {
		return err
	}
	if err := s.doSecurity(); err != nil {
		return err
	}
	if err := s.doClientInit(); err != nil {
		return err
	}
	return s.serve(ctx)
}

func (s *Session) doVersionExchange() error {
	if _, err := s.conn.Write(protocolVersion); err != nil {
		return kvmerr.New(kvmerr.KindTransport, fmt.Errorf("rfb: write version: %w", err))
	}
	var client [12]byte
	if err := readExact(s.conn, client[:]); err != nil {
		return kvmerr.New(kvmerr.KindProtocol, fmt.Errorf("rfb: version exchange: %w", err))
	}
	if len(client) != 12 || client[0] != 'R' || client[11] != '\n' || !isAcceptedClientVersion(client[:]) {
		return kvmerr.New(kvmerr.KindProtocol, fmt.Errorf("rfb: unsupported client version %q", client))
	}
	return nil
}

func (s *Session) doSecurity() error {
	secType := securityNone
	if s.tlsOffered {
		secType = securityTLS
	}

	if _, err := s.conn.Write([]byte{1, secType}); err != nil {
		return kvmerr.New(kvmerr.KindTransport, fmt.Errorf("rfb: write security types: %w", err))
	}

	var chosen [1]byte
	if err := readExact(s.conn, chosen[:]); err != nil {
		return kvmerr.New(kvmerr.KindProtocol, fmt.Errorf("rfb: security choice: %w", err))
	}
	if chosen[0] != secType {
		s.writeSecurityFailure("unsupported security type")
		return kvmerr.New(kvmerr.KindProtocol, fmt.Errorf("rfb: client chose unsupported security type %d", chosen[0]))
	}

	if _, err := s.conn.Write([]byte{0, 0, 0, 0}); err != nil {
		return kvmerr.New(kvmerr.KindTransport, fmt.Errorf("rfb: write security result: %w", err))
	}
	return nil
}

func (s *Session) writeSecurityFailure(reason string) {
	out := make([]byte, 0, 8+len(reason))
	out = append(out, 0, 0, 0, 1)
	out = appendU32(out, uint32(len(reason)))
	out = append(out, reason...)
	_, _ = s.conn.Write(out)
}

func (s *Session) doClientInit() error {
	var shared [1]byte
	if err := readExact(s.conn, shared[:]); err != nil {
		return kvmerr.New(kvmerr.KindProtocol, fmt.Errorf("rfb: client init: %w", err))
	}

	dims, ok := s.hub.Dimensions()
	if !ok {
		dims = defaultDimensions
	}

	if _, err := s.conn.Write(encodeServerInit(dims.Width, dims.Height)); err != nil {
		return kvmerr.New(kvmerr.KindTransport, fmt.Errorf("rfb: write server init: %w", err))
	}
	return nil
}

// serve is the Serving state's select-loop: it concurrently awaits the
// next frame from the Hub subscription and the next client message,
// per spec.md §4.D and §5.
func (s *Session) serve(ctx context.Context) error {
	sub := s.hub.Subscribe()
	defer sub.Close()

	msgCh := make(chan interface{})
	errCh := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			msg, err := readClientMessage(s.conn)
			if err != nil {
				kind := kvmerr.KindProtocol
				if errors.Is(err, io.EOF) {
					kind = kvmerr.KindTransport
				}
				errCh <- kvmerr.New(kind, err)
				return
			}
			select {
			case msgCh <- msg:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-errCh:
			return err

		case f := <-sub.Frames():
			if s.updatePending {
				if err := s.sendUpdate(f); err != nil {
					return err
				}
				s.updatePending = false
			}

		case msg := <-msgCh:
			if err := s.handleMessage(msg); err != nil {
				return err
			}
		}
	}
}

func (s *Session) handleMessage(msg interface{}) error {
	switch m := msg.(type) {
	case SetPixelFormatMsg:
		s.clientFormat = m.Format

	case SetEncodingsMsg:
		s.encodings = m.Encodings

	case FramebufferUpdateRequestMsg:
		s.updatePending = true
		if f, ok := s.hub.Snapshot(); ok {
			if err := s.sendUpdate(f); err != nil {
				return err
			}
			s.updatePending = false
		}

	case KeyEventMsg:
		if err := s.hid.SendKey(m.Keysym, m.Down); err != nil {
			s.log.Debug().Err(err).Msg("hid key write failed")
		}

	case PointerEventMsg:
		if err := s.hid.SendPointer(&s.pointer, m.ButtonMask, int32(m.X), int32(m.Y)); err != nil {
			s.log.Debug().Err(err).Msg("hid pointer write failed")
		}

	case ClientCutTextMsg:
		// Clipboard sync is a Non-goal; the payload is already consumed.

	case UnknownMsg:
		s.log.Debug().Uint8("type", m.Type).Msg("ignoring unknown rfb message type")
	}
	return nil
}

func (s *Session) sendUpdate(f frame.Normalized) error {
	if _, err := s.conn.Write(encodeFramebufferUpdate(f.Width, f.Height, f.Pix)); err != nil {
		return kvmerr.New(kvmerr.KindTransport, fmt.Errorf("rfb: write framebuffer update: %w", err))
	}
	return nil
}
