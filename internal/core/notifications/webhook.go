package notifications

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
)

const (
	EventTransactionSettled = "transaction.settled"
	SignatureHeader         = "X-Signature"
)

var client = &http.Client{Timeout: 5 * time.Second}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SendWebhook posts an already-encoded JSON body, signed with secret.
func SendWebhook(ctx context.Context, url string, body []byte, secret string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "GoWallet-Webhook/1.0")
	req.Header.Set(SignatureHeader, Sign(body, secret))

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook receiver returned error: %d", resp.StatusCode)
}

// Enqueuer stores a webhook job for the background worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, url string, payload []byte) error
}

// SettlementNotifier queues a transaction.settled webhook for every
// logged transaction.
type SettlementNotifier struct {
	queue Enqueuer
	url   string
}

func NewSettlementNotifier(queue Enqueuer, url string) *SettlementNotifier {
	return &SettlementNotifier{queue: queue, url: url}
}

func (n *SettlementNotifier) TransactionSettled(ctx context.Context, tx domain.Transaction) error {
	payload, err := json.Marshal(map[string]interface{}{
		"event": EventTransactionSettled,
		"data":  tx,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	return n.queue.Enqueue(ctx, n.url, payload)
}
