package email

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	mail "github.com/go-mail/mail/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	mu       sync.Mutex
	messages []*mail.Message
	err      error
}

func (c *captureSender) DialAndSend(m ...*mail.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, m...)
	return nil
}

func (c *captureSender) sent() []*mail.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*mail.Message(nil), c.messages...)
}

func render(t *testing.T, m *mail.Message) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	return buf.String()
}

func configured() Config {
	return Config{Host: "smtp.example.com", Port: 587, From: "noreply@example.com", FromName: "Moderation", SiteURL: "https://example.com/"}
}

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: 587, From: "test@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: 587}, expected: false},
		{name: "default port", config: Config{Host: "smtp.example.com", From: "test@example.com"}, expected: true},
		{name: "fully configured", config: Config{Host: "smtp.example.com", Port: 2525, From: "test@example.com", StartTLS: true}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			assert.Equal(t, tt.expected, svc.IsConfigured())
		})
	}
}

func TestSendHTMLEmailRequiresConfiguration(t *testing.T) {
	sender := &captureSender{}
	svc := NewServiceWithSender(Config{}, sender)

	err := svc.SendHTMLEmail([]string{"a@example.com"}, "hi", "<p>hi</p>")
	require.Error(t, err)
	assert.Empty(t, sender.sent())
}

func TestSendHTMLEmailWrapsSenderError(t *testing.T) {
	boom := errors.New("connection refused")
	svc := NewServiceWithSender(configured(), &captureSender{err: boom})

	err := svc.SendHTMLEmail([]string{"a@example.com"}, "hi", "<p>hi</p>")
	require.ErrorIs(t, err, boom)
}

func TestApprovalEmailRendersListing(t *testing.T) {
	sender := &captureSender{}
	svc := NewServiceWithSender(configured(), sender)

	err := svc.SendApprovalEmail("owner@example.com", OutcomeData{
		RecipientName: "Ada",
		EntityLabel:   "agency",
		Title:         "Blue Fox Media",
		URL:           "https://example.com/agencies/4",
	})
	require.NoError(t, err)

	sent := sender.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"owner@example.com"}, sent[0].GetHeader("To"))
	assert.Equal(t, []string{"Your agency submission has been approved"}, sent[0].GetHeader("Subject"))

	body := render(t, sent[0])
	assert.Contains(t, body, "Blue Fox Media")
	assert.Contains(t, body, "Marketplace")
	assert.Contains(t, body, "https://example.com/agencies/4")
}

func TestRejectionEmailCarriesReason(t *testing.T) {
	sender := &captureSender{}
	svc := NewServiceWithSender(Config{Host: "smtp", From: "noreply@example.com", AppName: "Listings"}, sender)

	err := svc.SendRejectionEmail("owner@example.com", OutcomeData{
		EntityLabel: "press release",
		Title:       "Launch",
		Reason:      "Missing contact details",
	})
	require.NoError(t, err)

	sent := sender.sent()
	require.Len(t, sent, 1)
	body := render(t, sent[0])
	assert.Contains(t, body, "Missing contact details")
	assert.Contains(t, body, "Listings")
	assert.Contains(t, body, "Hi there")
}

func TestTemplatesEscapeSubmittedText(t *testing.T) {
	html, err := renderTemplate(rejectionTemplate, OutcomeData{Title: "<script>x</script>", Reason: "bad"})
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>x</script>")
	assert.True(t, strings.Contains(html, "&lt;script&gt;"))
}
