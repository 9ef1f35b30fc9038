package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go-graph-import/internal/model"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject prefix status events are published under
const DefaultSubject = "imports.status"

// Publisher is the part of *nats.Conn the decorator needs
type Publisher interface {
	Publish(subject string, data []byte) error
}

// StatusEvent is the message body sent for every persisted state change
type StatusEvent struct {
	WorkflowID string             `json:"workflow_id"`
	Kind       model.WorkflowKind `json:"kind"`
	ParentID   string             `json:"parent_id,omitempty"`
	DomainName string             `json:"domain_name"`
	CobDates   []string           `json:"cob_dates"`
	Status     model.Status       `json:"status"`
	Error      *model.ErrorDetail `json:"error,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Publishing persists through the wrapped Store and then announces the
// change on <subject>.<kind>.<status>.
// A publish failure is returned after the state is saved.
type Publishing struct {
	Store
	pub     Publisher
	subject string
	log     *slog.Logger
}

func NewPublishing(inner Store, pub Publisher, subject string, log *slog.Logger) *Publishing {
	if subject == "" {
		subject = DefaultSubject
	}
	if log == nil {
		log = slog.Default()
	}
	return &Publishing{Store: inner, pub: pub, subject: subject, log: log}
}

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("go-graph-import"),
		nats.Timeout(10*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return nc, nil
}

// Subject returns the subject a state is published on.
func (p *Publishing) Subject(state model.WorkflowState) string {
	return fmt.Sprintf("%s.%s.%s", p.subject, state.Kind, state.Status)
}

func (p *Publishing) Put(ctx context.Context, id string, state model.WorkflowState) error {
	if err := p.Store.Put(ctx, id, state); err != nil {
		return err
	}
	body, err := json.Marshal(StatusEvent{
		WorkflowID: id,
		Kind:       state.Kind,
		ParentID:   state.ParentID,
		DomainName: state.DomainName,
		CobDates:   state.CobDates,
		Status:     state.Status,
		Error:      state.Error,
		UpdatedAt:  state.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode status event: %w", err)
	}
	subject := p.Subject(state)
	if err := p.pub.Publish(subject, body); err != nil {
		p.log.Warn("status event not published", "workflow_id", id, "subject", subject, "error", err)
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
