package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Pusher 带签名的 Webhook 推送端。重试只针对网络错误与 5xx
type Pusher struct {
	Client  *http.Client
	Secret  string
	Retries int
	Backoff []time.Duration
}

func NewPusher(client *http.Client, secret string) *Pusher {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Pusher{
		Client:  client,
		Secret:  secret,
		Retries: 3,
		Backoff: []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, time.Second},
	}
}

// SendJSON POST JSON 并附签名头，返回状态码与响应体
func (p *Pusher) SendJSON(ctx context.Context, endpoint string, payload any) (int, []byte, error) {
	if p == nil || p.Client == nil {
		return 0, nil, errors.New("nil pusher")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return 0, nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	ts := time.Now().Unix()
	nonce := fmt.Sprintf("%08x", rand.Uint32())
	sig := SignHMAC(p.Secret, BuildCanonical(http.MethodPost, u.Path, ts, nonce, HashHex(body)))

	var respBody []byte
	var code int
	var lastErr error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Signature", sig)
		req.Header.Set("X-Timestamp", fmt.Sprintf("%d", ts))
		req.Header.Set("X-Nonce", nonce)

		resp, err := p.Client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			code = resp.StatusCode
			rb, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			respBody = rb
			if code < 500 {
				return code, respBody, nil
			}
			lastErr = fmt.Errorf("server error %d", code)
		}
		if attempt == p.Retries {
			break
		}
		backoff := p.Backoff[minInt(attempt, len(p.Backoff)-1)]
		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return code, respBody, lastErr
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
