package pipeline

import (
	"fmt"

	rabbithole "github.com/michaelklishin/rabbit-hole/v2"
)

// QueueStat is the slice of broker management state the pipeline needs.
type QueueStat struct {
	Name     string
	Vhost    string
	Messages int
}

// ManagementAPI is the broker's management surface: queue enumeration for
// dynamic discovery, deletion for the janitor.
type ManagementAPI interface {
	ListQueues() ([]QueueStat, error)
	DeleteQueueIfEmpty(vhost, name string) error
}

// MgmtClient implements ManagementAPI over the RabbitMQ HTTP management API.
type MgmtClient struct {
	rh *rabbithole.Client
}

// NewMgmtClient builds a management client.
func NewMgmtClient(apiURL, user, pass string) (*MgmtClient, error) {
	rh, err := rabbithole.NewClient(apiURL, user, pass)
	if err != nil {
		return nil, fmt.Errorf("management client: %w", err)
	}
	return &MgmtClient{rh: rh}, nil
}

// ListQueues enumerates all queues on the broker.
func (m *MgmtClient) ListQueues() ([]QueueStat, error) {
	qs, err := m.rh.ListQueues()
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	out := make([]QueueStat, 0, len(qs))
	for _, q := range qs {
		out = append(out, QueueStat{Name: q.Name, Vhost: q.Vhost, Messages: q.Messages})
	}
	return out, nil
}

// DeleteQueueIfEmpty deletes a queue only if it has no pending messages.
func (m *MgmtClient) DeleteQueueIfEmpty(vhost, name string) error {
	if vhost == "" {
		vhost = "/"
	}
	_, err := m.rh.DeleteQueue(vhost, name, rabbithole.QueueDeleteOptions{IfEmpty: true})
	if err != nil {
		return fmt.Errorf("delete queue %s: %w", name, err)
	}
	return nil
}
