package emailsvc

import (
	"encoding/base64"
	"net/http"
	"net/mail"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/trezcool/admissions/core"
)

var (
	host     = "https://api.sendgrid.com"
	endpoint = "/v3/mail/send"

	sleepFunc = time.Sleep // mockable
)

const (
	sendAttempts = 4
	sendBackoff  = 500 * time.Millisecond
	sendTimeout  = 30 * time.Second
)

type sendgridService struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
	client     *rest.Client
	logger     core.Logger
}

var _ core.EmailService = (*sendgridService)(nil)

func NewSendgridService(conf *core.Config, logger core.Logger) (*sendgridService, error) {
	from, err := mail.ParseAddress(conf.DefaultFromEmail)
	if err != nil {
		return nil, errors.Wrap(err, "parsing default from email")
	}
	return &sendgridService{
		key:        conf.SendgridApiKey,
		from:       sgmail.NewEmail(from.Name, from.Address),
		subjPrefix: "[" + conf.AppName + "] ",
		client:     &rest.Client{HTTPClient: &http.Client{Timeout: sendTimeout}},
		logger:     logger,
	}, nil
}

func (svc *sendgridService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		if !deliverable(msg) {
			continue
		}
		msg := *msg
		go func() {
			if err := svc.send(msg); err != nil {
				svc.logger.Error(err.Error(), map[string]interface{}{"subject": msg.Subject, "category": msg.Category})
			}
		}()
	}
}

func (svc *sendgridService) prepare(msg core.EmailMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = svc.subjPrefix + msg.Subject
	for _, to := range msg.To {
		p.AddTos(sgEmail(to))
	}
	for _, cc := range msg.Cc {
		p.AddCCs(sgEmail(cc))
	}
	for _, bcc := range msg.Bcc {
		p.AddBCCs(sgEmail(bcc))
	}

	m := sgmail.NewV3Mail().SetFrom(svc.from).AddPersonalizations(p)

	// sendgrid rejects empty content values
	if msg.TextContent != "" {
		m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	}
	if msg.HTMLContent != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}
	for _, at := range msg.Attachments {
		m.AddAttachment(&sgmail.Attachment{
			Content:     base64.StdEncoding.EncodeToString(at.Content),
			Type:        at.ContentType,
			Filename:    at.Filename,
			Disposition: "attachment",
		})
	}

	if msg.Category != "" {
		m.AddCategories(msg.Category)
	}
	keys := make([]string, 0, len(msg.Args))
	for k := range msg.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.SetCustomArg(k, msg.Args[k])
	}
	return m
}

func sgEmail(addr mail.Address) *sgmail.Email {
	return sgmail.NewEmail(addr.Name, addr.Address)
}

// send posts msg, retrying rate-limited and server-side failures.
func (svc *sendgridService) send(msg core.EmailMessage) error {
	req := sendgrid.GetRequest(svc.key, endpoint, host)
	req.Method = rest.Post
	req.Body = sgmail.GetRequestBody(svc.prepare(msg))

	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		res, err := svc.client.Send(req)
		switch {
		case err != nil:
			lastErr = errors.Wrap(err, "sending email")
		case res.StatusCode < http.StatusBadRequest:
			return nil
		case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= http.StatusInternalServerError:
			lastErr = errors.Errorf("sending email - status: %d - body: %s", res.StatusCode, res.Body)
		default:
			return errors.Errorf("sending email - status: %d - body: %s", res.StatusCode, res.Body)
		}
		if attempt < sendAttempts {
			sleepFunc(retryDelay(res, attempt))
		}
	}
	return errors.Wrapf(lastErr, "giving up after %d attempts", sendAttempts)
}

// retryDelay honours X-RateLimit-Reset, falling back to a linear backoff.
func retryDelay(res *rest.Response, attempt int) time.Duration {
	backoff := time.Duration(attempt) * sendBackoff
	if res == nil || res.StatusCode != http.StatusTooManyRequests {
		return backoff
	}
	reset := http.Header(res.Headers).Get("X-RateLimit-Reset")
	if reset == "" {
		return backoff
	}
	secs, err := strconv.ParseInt(reset, 10, 64)
	if err != nil {
		return backoff
	}
	if d := time.Until(time.Unix(secs, 0)); d > 0 {
		return d
	}
	return backoff
}
