package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.pushinpay.com.br/api"

// PushinPay PushinPay PIX API 客户端，金额以分为单位传输
type PushinPay struct {
	baseURL    string
	httpClient *http.Client
}

func NewPushinPay(baseURL string, timeout time.Duration) *PushinPay {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PushinPay{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type cashInRequest struct {
	Value      int64  `json:"value"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

type transaction struct {
	ID                        string `json:"id"`
	Status                    string `json:"status"`
	QRCode                    string `json:"qr_code"`
	QRCodeBase64              string `json:"qr_code_base64"`
	PayerName                 string `json:"payer_name"`
	PayerNationalRegistration string `json:"payer_national_registration"`
}

func (p *PushinPay) CreateCharge(ctx context.Context, token string, req ChargeRequest) (*Charge, error) {
	cents := req.Amount.Shift(2).Round(0).IntPart()
	if cents <= 0 {
		return nil, fmt.Errorf("invalid charge amount %s", req.Amount.StringFixed(2))
	}

	var tx transaction
	if err := p.do(ctx, http.MethodPost, "/pix/cashIn", token, cashInRequest{
		Value:      cents,
		WebhookURL: req.WebhookURL,
	}, &tx); err != nil {
		return nil, err
	}
	if tx.ID == "" {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "gateway response missing transaction id"}
	}

	return &Charge{
		Reference:    tx.ID,
		PixCode:      tx.QRCode,
		QRCodeBase64: tx.QRCodeBase64,
		Status:       tx.Status,
	}, nil
}

func (p *PushinPay) GetStatus(ctx context.Context, token, reference string) (*Status, error) {
	var tx transaction
	if err := p.do(ctx, http.MethodGet, "/pix/transactions/"+url.PathEscape(reference), token, nil, &tx); err != nil {
		return nil, err
	}
	if tx.ID == "" {
		tx.ID = reference
	}
	return &Status{
		Reference:       tx.ID,
		Status:          tx.Status,
		PayerName:       tx.PayerName,
		PayerNationalID: tx.PayerNationalRegistration,
	}, nil
}

// ValidateToken 用一次轻量查询确认凭证可用
func (p *PushinPay) ValidateToken(ctx context.Context, token string) error {
	if len(strings.TrimSpace(token)) < 10 {
		return &APIError{StatusCode: http.StatusUnauthorized, Message: "token too short"}
	}
	return p.do(ctx, http.MethodGet, "/statements?page=1", token, nil, nil)
}

func (p *PushinPay) do(ctx context.Context, method, path, token string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}

// errorMessage 网关错误体格式不统一，依次尝试 message / error / errors
func errorMessage(data []byte) string {
	var payload struct {
		Message string          `json:"message"`
		Error   string          `json:"error"`
		Errors  json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		switch {
		case payload.Message != "":
			return payload.Message
		case payload.Error != "":
			return payload.Error
		case len(payload.Errors) > 0:
			return string(payload.Errors)
		}
	}
	return strings.TrimSpace(string(data))
}
