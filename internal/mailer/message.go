package mailer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"net/mail"
	"strings"
)

// NormalizeRecipients parses every address, drops blanks and collapses
// duplicates case-insensitively. The first spelling of an address wins.
func NormalizeRecipients(in []string) ([]*mail.Address, error) {
	seen := make(map[string]bool, len(in))
	var out []*mail.Address
	for _, raw := range in {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		addr, err := mail.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRecipient, raw, err)
		}
		key := strings.ToLower(addr.Address)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, addr)
	}
	if len(out) == 0 {
		return nil, ErrRecipientListEmpty
	}
	return out, nil
}

// BuildMessage renders an RFC 5322 message with a base64 HTML body. A from
// value of "me" or "" leaves the From header to the provider.
func BuildMessage(from string, to []*mail.Address, subject, htmlBody string) ([]byte, error) {
	var buf bytes.Buffer

	if from != "" && from != "me" {
		addr, err := mail.ParseAddress(from)
		if err != nil {
			return nil, fmt.Errorf("mailer: invalid from address %q: %w", from, err)
		}
		fmt.Fprintf(&buf, "From: %s\r\n", addr.String())
	}

	rcpts := make([]string, len(to))
	for i, a := range to {
		rcpts[i] = a.String()
	}
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(rcpts, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	buf.WriteString("Content-Transfer-Encoding: base64\r\n")
	buf.WriteString("\r\n")

	encoded := base64.StdEncoding.EncodeToString([]byte(htmlBody))
	for len(encoded) > 76 {
		buf.WriteString(encoded[:76])
		buf.WriteString("\r\n")
		encoded = encoded[76:]
	}
	buf.WriteString(encoded)
	buf.WriteString("\r\n")

	return buf.Bytes(), nil
}
