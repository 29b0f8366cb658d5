package ton

import (
	"context"
	"fmt"
	"math"
	"strings"
	"thruster/src/types"
	"time"
)

const (
	NanoPerTON = 1_000_000_000
	// accepted shortfall for forwarding fees
	amountToleranceNano = 1_000_000
	paymentWindow       = 10 * time.Minute
)

func ToNano(amount float64) int64 {
	return int64(math.Round(amount * NanoPerTON))
}

func PaymentComment(orderID string) string {
	return "THRUSTER_ORDER_" + orderID
}

type PaymentMessage struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
	Comment string `json:"comment"`
}

// PaymentPayload is the transaction request handed to TON Connect on the client.
type PaymentPayload struct {
	ValidUntil int64            `json:"validUntil"`
	Messages   []PaymentMessage `json:"messages"`
}

func NewPaymentPayload(receiver, orderID string, amount float64, now time.Time) PaymentPayload {
	return PaymentPayload{
		ValidUntil: now.Add(paymentWindow).Unix(),
		Messages: []PaymentMessage{{
			Address: receiver,
			Amount:  fmt.Sprintf("%d", ToNano(amount)),
			Comment: PaymentComment(orderID),
		}},
	}
}

type PaymentProof struct {
	TxHash     string
	Receiver   string
	AmountNano int64
	Comment    string
}

// VerifyPayment checks that txHash executed and paid at least expectedNano to
// receiver with a comment referencing orderID.
func (c *Client) VerifyPayment(ctx context.Context, txHash, receiver, orderID string, expectedNano int64) (*PaymentProof, error) {
	tx, err := c.getTransaction(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if txState(tx) != TX_CONFIRMED {
		return nil, &types.ValidationError{Field: "tx_hash", Reason: "transaction failed to execute"}
	}
	outMsg := tx.Get("out_msgs.0")
	if !outMsg.Exists() {
		return nil, &types.ValidationError{Field: "tx_hash", Reason: "no outgoing message found"}
	}
	proof := &PaymentProof{
		TxHash:     txHash,
		Receiver:   outMsg.Get("destination").String(),
		AmountNano: outMsg.Get("value").Int(),
		Comment:    outMsg.Get("message").String(),
	}
	if proof.Receiver != receiver {
		return nil, &types.ValidationError{Field: "tx_hash", Reason: "invalid receiver address"}
	}
	if proof.AmountNano < expectedNano-amountToleranceNano {
		return nil, &types.ValidationError{
			Field:  "tx_hash",
			Reason: fmt.Sprintf("insufficient amount: received %d nano, expected %d", proof.AmountNano, expectedNano),
		}
	}
	if !strings.Contains(proof.Comment, PaymentComment(orderID)) {
		return nil, &types.ValidationError{Field: "tx_hash", Reason: "invalid payment comment"}
	}
	return proof, nil
}
