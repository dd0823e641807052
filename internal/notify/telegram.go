package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/database"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSink posts the evidence photo with a caption through the Bot API
// sendPhoto method. Without evidence it falls back to sendMessage.
type TelegramSink struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

func NewTelegramSink(token, chatID string) *TelegramSink {
	return &TelegramSink{baseURL: telegramAPI, token: token, chatID: chatID, client: &http.Client{}}
}

// WithBaseURL points the sink at another Bot API server.
func (s *TelegramSink) WithBaseURL(u string) *TelegramSink {
	s.baseURL = strings.TrimSuffix(u, "/")
	return s
}

func (s *TelegramSink) Name() string { return "telegram" }

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (s *TelegramSink) Send(ctx context.Context, event *database.StoredEvent, evidence []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("chat_id", s.chatID); err != nil {
		return fmt.Errorf("writing chat_id: %w", err)
	}
	method := "sendMessage"
	if len(evidence) > 0 {
		method = "sendPhoto"
		if err := w.WriteField("caption", Caption(event)); err != nil {
			return fmt.Errorf("writing caption: %w", err)
		}
		name := "evidence.jpg"
		if event.EvidenceRef != "" {
			name = filepath.Base(event.EvidenceRef)
		}
		part, err := w.CreateFormFile("photo", name)
		if err != nil {
			return fmt.Errorf("creating photo part: %w", err)
		}
		if _, err := part.Write(evidence); err != nil {
			return fmt.Errorf("writing photo: %w", err)
		}
	} else if err := w.WriteField("text", Caption(event)); err != nil {
		return fmt.Errorf("writing text: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing multipart writer: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", s.baseURL, s.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		// The URL carries the bot token; report only the method.
		return fmt.Errorf("telegram %s request failed", method)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	var tr telegramResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return fmt.Errorf("telegram %s (status %d): unparseable response", method, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || !tr.OK {
		return fmt.Errorf("telegram %s (status %d): %s", method, resp.StatusCode, tr.Description)
	}
	return nil
}
