package email

import (
	"embed"
	"fmt"
	"html"
	"strings"

	"feedbackhub-backend/internal/models"

	"github.com/labstack/echo/v4"
	resend "github.com/resend/resend-go/v2"
)

//go:embed templates/*.html
var templates embed.FS

// EmailClient is an interface for sending emails
type EmailClient interface {
	SendAsync(toEmail, subject, htmlBody string)
	SendWelcomeEmail(user *models.User)
	SendFeedbackReceivedEmail(receiver *models.User, giverName, title, feedbackID string)
}

// ResendEmailClient implements EmailClient using the Resend service
type ResendEmailClient struct {
	client        *resend.Client
	defaultSender string
	appURL        string
	logger        echo.Logger
}

// NewResendEmailClient creates a new ResendEmailClient. appURL is the public
// base URL used for links inside emails.
func NewResendEmailClient(client *resend.Client, defaultSender, appURL string, logger echo.Logger) *ResendEmailClient {
	return &ResendEmailClient{
		client:        client,
		defaultSender: defaultSender,
		appURL:        strings.TrimRight(appURL, "/"),
		logger:        logger,
	}
}

// SendAsync sends an email asynchronously
func (c *ResendEmailClient) SendAsync(toEmail, subject, htmlBody string) {
	if c == nil || c.client == nil {
		return
	}

	if c.defaultSender == "" {
		c.logger.Errorf("Resend default sender not configured, skipping email.")
		return
	}

	go func() {
		params := &resend.SendEmailRequest{
			From:    c.defaultSender,
			To:      []string{toEmail},
			Subject: subject,
			Html:    htmlBody,
		}

		_, err := c.client.Emails.Send(params)
		if err != nil {
			c.logger.Errorf("Failed to send email to %s (Subject: %s): %v", toEmail, subject, err)
		} else {
			c.logger.Infof("Email sent successfully to %s (Subject: %s)", toEmail, subject)
		}
	}()
}

// render fills a template from the templates directory. Values are HTML escaped.
func render(name string, values map[string]string) (string, error) {
	raw, err := templates.ReadFile("templates/" + name)
	if err != nil {
		return "", err
	}
	body := string(raw)
	for k, v := range values {
		body = strings.ReplaceAll(body, "{"+k+"}", html.EscapeString(v))
	}
	return body, nil
}

// SendWelcomeEmail sends a welcome email to a new user
func (c *ResendEmailClient) SendWelcomeEmail(user *models.User) {
	if user == nil {
		c.logger.Error("Cannot send welcome email to nil user")
		return
	}

	htmlBody, err := render("welcome.html", map[string]string{
		"name":    user.Name,
		"app_url": c.appURL,
	})
	if err != nil {
		c.logger.Errorf("Failed to render welcome email: %v", err)
		return
	}

	c.SendAsync(user.Email, "Welcome to FeedbackHub "+user.Name, htmlBody)
}

// SendFeedbackReceivedEmail tells the receiver a feedback was created for them.
// Callers pass "Anonymous" as giverName when the giver is hidden.
func (c *ResendEmailClient) SendFeedbackReceivedEmail(receiver *models.User, giverName, title, feedbackID string) {
	if receiver == nil || receiver.Email == "" {
		c.logger.Error("Cannot send feedback email without a receiver address")
		return
	}

	htmlBody, err := render("feedback-received.html", map[string]string{
		"name":         receiver.Name,
		"giver_name":   giverName,
		"title":        title,
		"feedback_url": fmt.Sprintf("%s/feedbacks/%s", c.appURL, feedbackID),
	})
	if err != nil {
		c.logger.Errorf("Failed to render feedback email: %v", err)
		return
	}

	c.SendAsync(receiver.Email, fmt.Sprintf("%s sent you feedback", giverName), htmlBody)
}
