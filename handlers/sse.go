package handlers

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ckwflash/LiveHack2025/domain"
	"github.com/ckwflash/LiveHack2025/services"
)

// FormatEvent renders one task event as a server-sent event frame:
// "event: <kind>\ndata: <json>\n\n".
func FormatEvent(ev services.TaskEvent) ([]byte, error) {
	var payload interface{}
	switch ev.Kind {
	case domain.EventPing:
		payload = map[string]int64{"timestamp": ev.Timestamp}
	case domain.EventError:
		payload = map[string]string{"error": ev.Message}
	default:
		payload = ev.Task
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", ev.Kind, err)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Kind, data)), nil
}

func writeEvent(w io.Writer, ev services.TaskEvent) error {
	frame, err := FormatEvent(ev)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}
