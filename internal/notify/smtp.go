package notify

import (
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/kiranshivaraju/linesense/internal/config"
	"github.com/kiranshivaraju/linesense/pkg/models"
	"github.com/wneessen/go-mail"
)

const senderName = "Text Processor"

var completeTmpl = template.Must(template.New("complete").Parse(`<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
  <h2 style="color: #4F46E5;">Processing Complete!</h2>
  <p>Your file <strong>{{.Filename}}</strong> has been processed successfully.</p>
  <div style="background-color: #F3F4F6; padding: 15px; border-radius: 8px; margin: 20px 0;">
    <h3 style="margin-top: 0;">Results Summary:</h3>
    <ul style="list-style-type: none; padding: 0;">
      <li><strong>Total Lines:</strong> {{.TotalLines}}</li>
      <li><strong>Parallel Workers:</strong> {{.Workers}}</li>
      <li><strong>Average Sentiment:</strong> {{printf "%.2f" .AverageSentiment}}</li>
      <li><strong>Processing Time:</strong> {{printf "%.2f" .Seconds}} seconds</li>
    </ul>
  </div>
  <p>Login to your dashboard to view detailed results and download the full report.</p>
  <a href="{{.DashboardURL}}" style="background-color: #4F46E5; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px;">Go to Dashboard</a>
</div>`))

var failedTmpl = template.Must(template.New("failed").Parse(`<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
  <h2 style="color: #DC2626;">Processing Failed</h2>
  <p>Your file <strong>{{.Filename}}</strong> failed to process.</p>
  <div style="background-color: #FEF2F2; padding: 15px; border-radius: 8px; border: 1px solid #FECACA; margin: 20px 0;">
    <p style="margin: 0; color: #B91C1C;"><strong>Error Details:</strong></p>
    <p style="margin-top: 5px;">{{.Message}}</p>
  </div>
  <p>Please check the file format and try again, or contact support.</p>
</div>`))

type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTP sends HTML notices through an SMTP relay.
type SMTP struct {
	client    sender
	from      string
	clientURL string
}

// NewSMTP builds a notifier from cfg. Nothing is dialled until the first send.
func NewSMTP(cfg config.EmailConfig) (*SMTP, error) {
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return &SMTP{client: client, from: cfg.From, clientURL: cfg.ClientURL}, nil
}

func (s *SMTP) ProcessingComplete(ctx context.Context, to, filename string, summary models.JobOutput) error {
	workers := summary.WorkersUsed
	if workers < 1 {
		workers = 1
	}
	data := struct {
		Filename         string
		TotalLines       int
		Workers          int
		AverageSentiment float64
		Seconds          float64
		DashboardURL     string
	}{
		Filename:         filename,
		TotalLines:       summary.TotalLines,
		Workers:          workers,
		AverageSentiment: summary.AverageSentiment,
		Seconds:          float64(summary.ProcessingTimeMs) / 1000,
		DashboardURL:     strings.TrimRight(s.clientURL, "/") + "/dashboard",
	}

	msg, err := s.message(to, "Processing Complete: "+filename, completeTmpl, data)
	if err != nil {
		return err
	}
	return s.send(ctx, msg)
}

func (s *SMTP) ProcessingFailed(ctx context.Context, to, filename, message string) error {
	data := struct {
		Filename string
		Message  string
	}{filename, message}

	msg, err := s.message(to, "Processing Failed: "+filename, failedTmpl, data)
	if err != nil {
		return err
	}
	return s.send(ctx, msg)
}

func (s *SMTP) message(to, subject string, tmpl *template.Template, data any) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat(senderName, s.from); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(subject)
	if err := msg.SetBodyHTMLTemplate(tmpl, data); err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}
	return msg, nil
}

func (s *SMTP) send(ctx context.Context, msg *mail.Msg) error {
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// New returns an SMTP notifier when credentials are configured and Noop otherwise.
func New(cfg config.EmailConfig) (Notifier, error) {
	if !cfg.Enabled() {
		return Noop{}, nil
	}
	return NewSMTP(cfg)
}

var _ Notifier = (*SMTP)(nil)
