package kafka

import (
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
)

const (
	HeaderNotificationID = "herald-notification-id"
	HeaderWorkspaceID    = "herald-workspace-id"
)

// headers is the message header list used both as the trace propagation
// carrier and for the routing metadata push gateways filter on.
type headers []kafka.Header

func (h *headers) Get(k string) string {
	for _, x := range *h {
		if x.Key == k {
			return string(x.Value)
		}
	}
	return ""
}

// Set replaces an existing key so re-injected trace context never duplicates.
func (h *headers) Set(k, v string) {
	for i, x := range *h {
		if x.Key == k {
			(*h)[i].Value = []byte(v)
			return
		}
	}
	*h = append(*h, kafka.Header{Key: k, Value: []byte(v)})
}

func (h *headers) Keys() []string {
	ks := make([]string, 0, len(*h))
	for _, x := range *h {
		ks = append(ks, x.Key)
	}
	return ks
}

// NotificationHeaders tags a message with the row it carries.
func NotificationHeaders(notificationID, workspaceID string) []kafka.Header {
	h := headers{}
	if notificationID != "" {
		h.Set(HeaderNotificationID, notificationID)
	}
	if workspaceID != "" {
		h.Set(HeaderWorkspaceID, workspaceID)
	}
	return h
}

func (h *headers) spanAttrs() []attribute.KeyValue {
	var out []attribute.KeyValue
	if v := h.Get(HeaderNotificationID); v != "" {
		out = append(out, attribute.String("notification.id", v))
	}
	if v := h.Get(HeaderWorkspaceID); v != "" {
		out = append(out, attribute.String("workspace.id", v))
	}
	return out
}
