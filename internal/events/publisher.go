package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"wallet-ledger/internal/models"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
)

type TransactionEvent struct {
	TransactionID          int64                  `json:"transaction_id"`
	UserID                 int64                  `json:"user_id"`
	Type                   models.TransactionType `json:"transaction_type"`
	Amount                 decimal.Decimal        `json:"amount"`
	RecipientUserID        *int64                 `json:"recipient_user_id,omitempty"`
	ReferenceTransactionID *int64                 `json:"reference_transaction_id,omitempty"`
	CreatedAt              time.Time              `json:"created_at"`
}

func NewTransactionEvent(t *models.Transaction) TransactionEvent {
	return TransactionEvent{
		TransactionID:          t.ID,
		UserID:                 t.UserID,
		Type:                   t.Type,
		Amount:                 t.Amount,
		RecipientUserID:        t.RecipientUserID,
		ReferenceTransactionID: t.ReferenceTransactionID,
		CreatedAt:              t.CreatedAt,
	}
}

// Publisher announces committed transactions. It is never called before the
// commit, so subscribers only see durable records.
type Publisher interface {
	Publish(ctx context.Context, t *models.Transaction) error
	Close() error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *models.Transaction) error { return nil }
func (NoopPublisher) Close() error { return nil }

type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("wallet-ledger"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NATSPublisher{conn: conn, prefix: prefix}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, t *models.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(NewTransactionEvent(t))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.conn.Publish(Subject(p.prefix, t.Type), data)
}

func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

func Subject(prefix string, t models.TransactionType) string {
	return prefix + "." + strings.ToLower(string(t))
}
