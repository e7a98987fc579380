package service

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"opencrm/api/internal/model"
)

// NATS subjects for attendance events. The WebSocket hub and any notification
// consumers subscribe to crm.attendance.*.
const (
	SubjectCheckIn  = "crm.attendance.CHECKIN"
	SubjectCheckOut = "crm.attendance.CHECKOUT"
)

// NATSEventPublisher publishes attendance events to NATS
type NATSEventPublisher struct {
	nats *nats.Conn
}

// NewNATSEventPublisher creates a NATS-backed event publisher
func NewNATSEventPublisher(nc *nats.Conn) *NATSEventPublisher {
	return &NATSEventPublisher{nats: nc}
}

// PublishAttendanceEvent publishes the event to its type subject and an
// org-scoped subject for filtered consumers.
func (p *NATSEventPublisher) PublishAttendanceEvent(event *model.AttendanceEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal attendance event: %v", err)
	}

	subject := SubjectCheckIn
	if event.Type == "checkout" {
		subject = SubjectCheckOut
	}

	if err := p.nats.Publish(subject, data); err != nil {
		return err
	}

	orgSubject := fmt.Sprintf("%s.%d", subject, event.OrgID)
	p.nats.Publish(orgSubject, data)

	return nil
}
