package mail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/charmbracelet/log"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"tiedye/internal/metrics"
	"tiedye/internal/models"
)

var (
	errBadRecipient = &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "Bad recipient"}
	errUnknownToken = &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 7, 1}, Message: "Unknown or already used photo token"}
	errTryLater     = &smtp.SMTPError{Code: 451, EnhancedCode: smtp.EnhancedCode{4, 3, 0}, Message: "Temporary failure, try again later"}
)

// Server is the SMTP listener that feeds received messages to the assembler.
type Server struct {
	srv     *smtp.Server
	logger  *log.Logger
	metrics *metrics.Metrics
}

func NewServer(cfg models.SMTPConfig, asm *Assembler, logger *log.Logger, m *metrics.Metrics) *Server {
	s := &Server{logger: logger, metrics: m}
	be := &backend{
		recipient: cfg.Recipient,
		asm:       asm,
		logger:    logger,
		metrics:   m,
	}
	srv := smtp.NewServer(be)
	srv.Addr = cfg.Addr
	srv.Domain = cfg.Domain
	srv.ReadTimeout = cfg.ReadTimeout
	srv.WriteTimeout = cfg.WriteTimeout
	srv.MaxMessageBytes = cfg.MaxMessageBytes
	srv.MaxRecipients = cfg.MaxRecipients
	srv.ErrorLog = logger.StandardLog(log.StandardLogOptions{ForceLevel: log.ErrorLevel})
	s.srv = srv
	return s
}

func (s *Server) Addr() string { return s.srv.Addr }

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("smtp server listening", "addr", l.Addr().String(), "domain", s.srv.Domain)
	if err := s.srv.Serve(l); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
		return fmt.Errorf("mail.Server.Serve: %w", err)
	}
	return nil
}

func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("mail.Server.ListenAndServe: %w", err)
	}
	return s.Serve(l)
}

// Shutdown stops accepting and waits for open sessions until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type backend struct {
	recipient string
	asm       *Assembler
	logger    *log.Logger
	metrics   *metrics.Metrics
}

func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	id := uuid.NewString()
	logger := b.logger.With("session", id)
	if addr := c.Conn().RemoteAddr(); addr != nil {
		logger = logger.With("remote", addr.String())
	}
	logger.Debug("smtp session opened", "helo", c.Hostname())
	return &session{b: b, logger: logger}, nil
}

// session is one SMTP connection. A transaction runs from MAIL to the end of
// DATA and may be restarted with RSET.
type session struct {
	b      *backend
	logger *log.Logger
	from   string
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if to != s.b.recipient {
		s.logger.Warn("rejected recipient", "err", &models.ProtocolError{Recipient: to})
		s.b.metrics.Rejected("recipient")
		return errBadRecipient
	}
	return nil
}

func (s *session) Data(r io.Reader) error {
	msg := s.b.asm.NewMessage()
	if _, err := io.Copy(msg, r); err != nil {
		s.logger.Warn("reading message data failed", "from", s.from, "err", err)
		return err
	}

	name, err := msg.Finalize(context.Background())
	if err != nil {
		return s.reject(err)
	}
	s.logger.Info("message accepted", "from", s.from, "file", name)
	s.b.metrics.Accepted()
	return nil
}

// reject maps a finalization failure to the SMTP reply sent to the client.
func (s *session) reject(err error) error {
	var (
		claimErr  *models.ClaimError
		formatErr *models.MessageFormatError
	)
	switch {
	case errors.As(err, &claimErr):
		s.logger.Warn("message rejected", "from", s.from, "err", err)
		s.b.metrics.Rejected("claim")
		return errUnknownToken
	case errors.As(err, &formatErr):
		s.logger.Warn("message rejected", "from", s.from, "err", err)
		s.b.metrics.Rejected("format")
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Message rejected: " + formatErr.Reason.String(),
		}
	default:
		s.logger.Error("message deferred", "from", s.from, "err", err)
		s.b.metrics.Rejected("transient")
		return errTryLater
	}
}

func (s *session) Reset() {
	s.from = ""
}

func (s *session) Logout() error {
	s.logger.Debug("smtp session closed")
	return nil
}
