// Package notify delivers MFA codes and login alerts.
package notify

import (
	"fmt"
	"html"
	"strings"
)

// Message kinds
const (
	KindMFACode    = "mfa_code"
	KindLoginAlert = "login_alert"
)

// Message is a rendered notification ready for a transport
type Message struct {
	Kind      string
	Recipient string
	Subject   string
	Text      string
	HTML      string
}

func greeting(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Hello,"
	}
	return fmt.Sprintf("Hello %s,", strings.TrimSpace(name))
}

// MFACodeMessage renders the verification code email
func MFACodeMessage(email, name, code string) Message {
	text := fmt.Sprintf(`%s

Your sign-in verification code is: %s

The code expires in a few minutes and can be used once.
If you did not try to sign in, change your password.
`, greeting(name), code)

	body := fmt.Sprintf(`<p>%s</p>
<p>Your sign-in verification code is:</p>
<p style="font-size:24px;font-weight:bold;letter-spacing:4px">%s</p>
<p>The code expires in a few minutes and can be used once.</p>
<p>If you did not try to sign in, change your password.</p>`,
		html.EscapeString(greeting(name)), html.EscapeString(code))

	return Message{
		Kind:      KindMFACode,
		Recipient: email,
		Subject:   "Your verification code",
		Text:      text,
		HTML:      body,
	}
}

// LoginAlertMessage renders the new sign-in alert. warning may be empty.
func LoginAlertMessage(email, name, locationSummary, warning string) Message {
	subject := "New sign-in to your account"
	if warning != "" {
		subject = "Unusual sign-in to your account"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nYour account was just signed in to from: %s\n", greeting(name), locationSummary)
	if warning != "" {
		fmt.Fprintf(&b, "\nWarning: %s\n", warning)
	}
	b.WriteString("\nIf this was not you, change your password and revoke your trusted devices.\n")

	var h strings.Builder
	fmt.Fprintf(&h, "<p>%s</p>\n<p>Your account was just signed in to from: <strong>%s</strong></p>\n",
		html.EscapeString(greeting(name)), html.EscapeString(locationSummary))
	if warning != "" {
		fmt.Fprintf(&h, "<p style=\"color:#b00\"><strong>Warning:</strong> %s</p>\n", html.EscapeString(warning))
	}
	h.WriteString("<p>If this was not you, change your password and revoke your trusted devices.</p>")

	return Message{
		Kind:      KindLoginAlert,
		Recipient: email,
		Subject:   subject,
		Text:      b.String(),
		HTML:      h.String(),
	}
}
