package ingest

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/club-sessions/internal/gmail"
)

// LoadMessageFile reads a saved email. .eml files are parsed as RFC 5322
// messages; .html and .txt files become the matching body part and take the
// file modification time as the received time.
func LoadMessageFile(id, path string) (*gmail.Message, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	msg := &gmail.Message{ID: id}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".eml":
		if err := parseEML(bytes.NewReader(b), msg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
	case ".html", ".htm":
		msg.HTML = string(b)
	default:
		msg.Text = string(b)
	}
	if msg.ReceivedAt == nil {
		if fi, err := os.Stat(path); err == nil {
			t := fi.ModTime().UTC()
			msg.ReceivedAt = &t
		}
	}
	return msg, nil
}

func parseEML(r io.Reader, msg *gmail.Message) error {
	m, err := mail.ReadMessage(r)
	if err != nil {
		return err
	}
	dec := new(mime.WordDecoder)
	if subj, err := dec.DecodeHeader(m.Header.Get("Subject")); err == nil {
		msg.Subject = subj
	}
	if t, err := m.Header.Date(); err == nil {
		t = t.UTC()
		msg.ReceivedAt = &t
	}
	return walkPart(m.Header.Get("Content-Type"), m.Header.Get("Content-Transfer-Encoding"), m.Body, msg)
}

func walkPart(contentType, encoding string, body io.Reader, msg *gmail.Message) error {
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return err
	}
	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			p, err := mr.NextRawPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if err := walkPart(p.Header.Get("Content-Type"), p.Header.Get("Content-Transfer-Encoding"), p, msg); err != nil {
				return err
			}
		}
	}

	data, err := io.ReadAll(decodeTransfer(encoding, body))
	if err != nil {
		return err
	}
	switch mediaType {
	case "text/html":
		if msg.HTML == "" {
			msg.HTML = string(data)
		}
	case "text/plain":
		if msg.Text == "" {
			msg.Text = string(data)
		}
	}
	return nil
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, &newlineStripper{r: r})
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

// newlineStripper drops CR and LF so wrapped base64 bodies decode.
type newlineStripper struct{ r io.Reader }

func (n *newlineStripper) Read(p []byte) (int, error) {
	for {
		k, err := n.r.Read(p)
		j := 0
		for _, c := range p[:k] {
			if c != '\r' && c != '\n' {
				p[j] = c
				j++
			}
		}
		if j > 0 || err != nil {
			return j, err
		}
	}
}
