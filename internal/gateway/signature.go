package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/orderflow/internal/domain/payment"
)

// VerifyWebhookSignature checks the HMAC-SHA256 hex signature the processor
// attaches to webhook deliveries. Comparison is constant-time.
func (c *Client) VerifyWebhookSignature(payload []byte, signature string) error {
	mac := hmac.New(sha256.New, []byte(c.cfg.WebhookSecret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return errors.Wrap(payment.ErrInvalidSignature, "signature is not hex")
	}
	if subtle.ConstantTimeCompare(expected, provided) != 1 {
		return payment.ErrInvalidSignature
	}
	return nil
}

// ParseWebhookPayload extracts the correlation keys and external status
// from a raw webhook body. Unknown fields are skipped; a missing
// payment_id makes the payload malformed.
func (c *Client) ParseWebhookPayload(payload []byte) (*payment.WebhookEvent, error) {
	var ev payment.WebhookEvent

	d := jx.DecodeBytes(payload)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "event_id":
			v, err := d.Str()
			ev.EventID = v
			return err
		case "payment_id":
			v, err := d.Str()
			ev.GatewayPaymentID = v
			return err
		case "transaction_id":
			v, err := d.Str()
			ev.GatewayTransactionID = v
			return err
		case "status":
			v, err := d.Str()
			ev.Status = v
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrapf(payment.ErrMalformedPayload, "decode: %v", err)
	}

	if ev.GatewayPaymentID == "" {
		return nil, errors.Wrap(payment.ErrMalformedPayload, "payment_id missing")
	}
	return &ev, nil
}

// SignWebhookPayload computes the signature the processor would attach to
// payload, so tests can produce valid deliveries.
func (c *Client) SignWebhookPayload(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.WebhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
