package channel

import (
	"errors"
	"strings"
	"testing"
)

func TestIsHTML(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{"<html><body>hi</body></html>", true},
		{"<!DOCTYPE html><p>x</p>", true},
		{"Line one<br>line two", true},
		{"<div class=\"x\">y</div>", true},
		{"<p>paragraph</p>", true},
		{"plain text message", false},
		{"a < b and b > c", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsHTML(tt.body); got != tt.want {
			t.Errorf("IsHTML(%q) = %v, want %v", tt.body, got, tt.want)
		}
	}
}

func TestBuildMIMEMessage(t *testing.T) {
	msg := string(buildMIMEMessage("from@x.com", "to@y.com", "Hi", "plain body"))

	for _, want := range []string{
		"From: from@x.com\r\n",
		"To: to@y.com\r\n",
		"Subject: Hi\r\n",
		"MIME-Version: 1.0\r\n",
		`Content-Type: text/plain; charset="UTF-8"`,
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
	if !strings.HasSuffix(msg, "\r\n\r\nplain body") {
		t.Errorf("body not separated by blank line:\n%s", msg)
	}

	htmlMsg := string(buildMIMEMessage("from@x.com", "to@y.com", "Hi", "<p>hello</p>"))
	if !strings.Contains(htmlMsg, `Content-Type: text/html; charset="UTF-8"`) {
		t.Errorf("HTML body should get an HTML content type:\n%s", htmlMsg)
	}
}

func TestClassifySMTPError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantCode      string
		wantRetryable bool
	}{
		{"user unknown", errors.New("550 5.1.1 User unknown"), "INVALID_RECIPIENT", false},
		{"invalid recipient", errors.New("smtp rcpt to: Invalid Recipient"), "INVALID_RECIPIENT", false},
		{"mailbox unavailable", errors.New("550 mailbox unavailable"), "INVALID_RECIPIENT", false},
		{"connection refused", errors.New("dial smtp: connection refused"), "SMTP_ERROR", true},
		{"timeout", errors.New("smtp data: i/o timeout"), "SMTP_ERROR", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifySMTPError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", got.Code, tt.wantCode)
			}
			if got.Retryable != tt.wantRetryable {
				t.Errorf("retryable = %v, want %v", got.Retryable, tt.wantRetryable)
			}
		})
	}
}
