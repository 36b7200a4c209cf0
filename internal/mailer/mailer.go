package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"qcweekly/internal/config"
	"qcweekly/internal/logging"
	"qcweekly/internal/services"
	"qcweekly/internal/services/command"
)

// Image is an inline attachment referenced from HTML as cid:<CID>.
type Image struct {
	CID  string
	Path string
}

// Sender defines the mail surface exposed to the pipeline.
type Sender interface {
	SendPlain(ctx context.Context, subject, body string) error
	SendHTML(ctx context.Context, subject, html string, images []Image) error
}

// Option configures a Mailer.
type Option func(*Mailer)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec command.Executor) Option {
	return func(m *Mailer) {
		if exec != nil {
			m.exec = exec
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mailer) {
		m.logger = logging.NewComponentLogger(logger, "mailer")
	}
}

// WithClock overrides the Date header source.
func WithClock(now func() time.Time) Option {
	return func(m *Mailer) {
		if now != nil {
			m.now = now
		}
	}
}

// Mailer hands messages to the local MTA through sendmail -t -oi.
type Mailer struct {
	binary     string
	sender     string
	recipients []string
	exec       command.Executor
	logger     *slog.Logger
	now        func() time.Time
}

// New resolves the sendmail binary and returns a Mailer for the configured
// sender and recipients.
func New(cfg *config.Config, opts ...Option) (*Mailer, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "email", "init", "config required", nil)
	}
	if err := cfg.RequireMail(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "email", "init", "mail settings incomplete", err)
	}
	binary := strings.TrimSpace(cfg.Email.SendmailBinary)
	if binary == "" {
		binary = "sendmail"
	}
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "email", "locate sendmail",
			fmt.Sprintf("%s not found; install an MTA or set email.sendmail_binary", binary), err)
	}
	m := &Mailer{
		binary:     resolved,
		sender:     cfg.Email.Sender,
		recipients: append([]string(nil), cfg.Email.Recipients...),
		exec:       command.Exec{},
		logger:     logging.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// SendPlain sends a text/plain message.
func (m *Mailer) SendPlain(ctx context.Context, subject, body string) error {
	var buf bytes.Buffer
	m.writeHeaders(&buf, subject)
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
	if err := writeQuotedPrintable(&buf, body); err != nil {
		return services.Wrap(services.ErrValidation, "email", "encode body", subject, err)
	}
	return m.deliver(ctx, subject, buf.Bytes(), 0)
}

// SendHTML sends a multipart/related message with one inline PNG per image.
// Images whose files are missing are skipped with a warning.
func (m *Mailer) SendHTML(ctx context.Context, subject, html string, images []Image) error {
	msg, attached, err := m.BuildHTML(subject, html, images)
	if err != nil {
		return err
	}
	return m.deliver(ctx, subject, msg, attached)
}

// BuildHTML renders the full RFC 5322 message without sending it.
func (m *Mailer) BuildHTML(subject, html string, images []Image) ([]byte, int, error) {
	var buf bytes.Buffer
	m.writeHeaders(&buf, subject)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fmt.Fprintf(&buf, "Content-Type: multipart/related; type=\"text/html\"; boundary=%q\r\n\r\n", mw.Boundary())

	htmlPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/html; charset=utf-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return nil, 0, services.Wrap(services.ErrValidation, "email", "build html part", subject, err)
	}
	if err := writeQuotedPrintable(htmlPart, html); err != nil {
		return nil, 0, services.Wrap(services.ErrValidation, "email", "encode html", subject, err)
	}

	attached := 0
	for _, img := range images {
		data, err := os.ReadFile(img.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				m.logger.Warn("inline image missing; skipping",
					logging.String("cid", img.CID),
					logging.String("path", img.Path),
					logging.String(logging.FieldEventType, "email_image_missing"),
					logging.String(logging.FieldErrorHint, "re-run qcweekly figures for this date"),
					logging.String(logging.FieldImpact, "email sent without this figure"),
				)
				continue
			}
			return nil, 0, services.Wrap(services.ErrValidation, "email", "read image", img.Path, err)
		}
		name := filepath.Base(img.Path)
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {fmt.Sprintf("image/png; name=%q", name)},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Id":                {"<" + img.CID + ">"},
			"Content-Disposition":       {fmt.Sprintf("inline; filename=%q", name)},
		})
		if err != nil {
			return nil, 0, services.Wrap(services.ErrValidation, "email", "build image part", img.CID, err)
		}
		if err := writeBase64Lines(part, data); err != nil {
			return nil, 0, services.Wrap(services.ErrValidation, "email", "encode image", img.CID, err)
		}
		attached++
	}
	if err := mw.Close(); err != nil {
		return nil, 0, services.Wrap(services.ErrValidation, "email", "close multipart", subject, err)
	}
	buf.Write(body.Bytes())
	return buf.Bytes(), attached, nil
}

func (m *Mailer) writeHeaders(buf *bytes.Buffer, subject string) {
	fmt.Fprintf(buf, "From: %s\r\n", m.sender)
	fmt.Fprintf(buf, "To: %s\r\n", strings.Join(m.recipients, ", "))
	fmt.Fprintf(buf, "Subject: %s\r\n", EncodeSubject(subject))
	fmt.Fprintf(buf, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
}

func (m *Mailer) deliver(ctx context.Context, subject string, msg []byte, images int) error {
	res, err := m.exec.Run(ctx, command.Spec{
		Binary: m.binary,
		Args:   []string{"-t", "-oi"},
		Stdin:  bytes.NewReader(msg),
	})
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "email", "sendmail", subject, err)
	}
	if res.ExitCode != 0 {
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = fmt.Sprintf("exit status %d", res.ExitCode)
		}
		return services.Wrap(services.ErrExternalTool, "email", "sendmail", detail, nil)
	}
	m.logger.Info("email sent",
		logging.String(logging.FieldEventType, "email_sent"),
		logging.String("subject", subject),
		logging.Int("recipients", len(m.recipients)),
		logging.Int("images", images),
		logging.Int("message_bytes", len(msg)),
	)
	return nil
}

// EncodeSubject applies RFC 2047 Q-encoding when subject is not plain ASCII.
func EncodeSubject(subject string) string {
	return mime.QEncoding.Encode("utf-8", subject)
}

func writeQuotedPrintable(w io.Writer, text string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(text)); err != nil {
		return err
	}
	return qp.Close()
}

func writeBase64Lines(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	const lineLen = 76
	for len(encoded) > 0 {
		n := min(lineLen, len(encoded))
		if _, err := fmt.Fprintf(w, "%s\r\n", encoded[:n]); err != nil {
			return err
		}
		encoded = encoded[n:]
	}
	return nil
}

// Noop discards every message.
type Noop struct{}

func (Noop) SendPlain(context.Context, string, string) error         { return nil }
func (Noop) SendHTML(context.Context, string, string, []Image) error { return nil }
