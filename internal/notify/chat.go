package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/technosupport/ts-vigil/internal/data"
)

// ChatConfig points at a GOWA (go-whatsapp-web-multidevice) REST gateway.
type ChatConfig struct {
	BaseURL  string
	Username string
	Password string
	DeviceID string
	Timeout  time.Duration
}

type ChatChannel struct {
	config ChatConfig
	client *http.Client
}

func NewChatChannel(cfg ChatConfig) *ChatChannel {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ChatChannel{config: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// NormalizeChatID turns a bare phone number or group id into a JID. Short
// numbers are users, longer ids are groups.
func NormalizeChatID(target string) string {
	t := strings.TrimPrefix(strings.TrimSpace(target), "+")
	if t == "" || strings.Contains(t, "@") {
		return t
	}
	if len(t) < 15 {
		return t + "@s.whatsapp.net"
	}
	return t + "@g.us"
}

// Caption renders the message text for chat recipients.
func Caption(p Payload) string {
	if p.Kind == PayloadPatrol {
		people := "nobody"
		if len(p.People) > 0 {
			people = strings.Join(p.People, ", ")
		}
		return fmt.Sprintf("*Home Patrol Summary*\nRecognized: %s | Unknown faces: %d\n\n%s", people, p.UnknownFaces, p.Text)
	}
	return fmt.Sprintf("*Vigil Alert: %s*\n\n%s", p.CameraName, p.Text)
}

func (c *ChatChannel) Send(ctx context.Context, p Payload) error {
	chatID := NormalizeChatID(p.Recipient.Target)
	if chatID == "" {
		return data.Permanent(errors.New("chat recipient has no target"))
	}

	var (
		req *http.Request
		err error
	)
	if len(p.Image) > 0 {
		req, err = c.imageRequest(ctx, chatID, Caption(p), p.Image)
	} else {
		req, err = c.messageRequest(ctx, chatID, Caption(p))
	}
	if err != nil {
		return data.Permanent(err)
	}

	if c.config.Username != "" {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}
	device := p.Recipient.Identity
	if device == "" {
		device = c.config.DeviceID
	}
	if device != "" {
		req.Header.Set("X-Device-Id", device)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("chat gateway: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus("chat gateway", resp)
}

func (c *ChatChannel) messageRequest(ctx context.Context, chatID, text string) (*http.Request, error) {
	body, err := json.Marshal(map[string]string{"phone": chatID, "message": text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/send/message"), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *ChatChannel) imageRequest(ctx context.Context, chatID, caption string, image []byte) (*http.Request, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := [][2]string{{"phone", chatID}, {"caption", caption}, {"compress", "true"}}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, err
		}
	}
	part, err := w.CreateFormFile("image", "snapshot.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/send/image"), &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}

func (c *ChatChannel) url(path string) string {
	return strings.TrimRight(c.config.BaseURL, "/") + path
}

// checkStatus maps a non-2xx response to an error, permanent for client errors.
func checkStatus(name string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("%s: status %d: %s", name, resp.StatusCode, strings.TrimSpace(string(msg)))
	if data.IsPermanentStatus(resp.StatusCode) {
		return data.Permanent(err)
	}
	return err
}
