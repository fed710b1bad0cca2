package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"fieldsync/internal/config"
	"fieldsync/internal/domain"
	"fieldsync/internal/models"
)

// WhatsApp sends text messages through the WhatsApp Cloud API.
type WhatsApp struct {
	endpoint    string
	accessToken string
	httpClient  *http.Client
}

func NewWhatsApp(cfg config.WhatsAppConfig) *WhatsApp {
	return &WhatsApp{
		endpoint:    fmt.Sprintf("%s/%s/%s/messages", strings.TrimRight(cfg.BaseURL, "/"), cfg.APIVersion, cfg.PhoneNumberID),
		accessToken: cfg.AccessToken,
		httpClient:  &http.Client{Timeout: models.DefaultHTTPTimeout},
	}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

type waTextMessage struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

type waError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send delivers msg to a phone number in international format.
func (w *WhatsApp) Send(ctx context.Context, address string, msg domain.Message) error {
	to := strings.TrimPrefix(strings.TrimSpace(address), "+")
	if to == "" {
		return fmt.Errorf("whatsapp: empty address")
	}

	body := waTextMessage{MessagingProduct: "whatsapp", To: to, Type: "text"}
	body.Text.Body = FormatText(msg)
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.accessToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr waError
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("whatsapp: http %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("whatsapp: http %d", resp.StatusCode)
	}
	return nil
}
