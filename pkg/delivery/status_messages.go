package delivery

import "time"

type ConnectionStatusMessage struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	ClientID  string `json:"clientId"`
}

func NewConnectionStatusMessage(clientID string, now time.Time) ConnectionStatusMessage {
	return ConnectionStatusMessage{
		Type:      "connection_status",
		Status:    "connected",
		Timestamp: now.UTC().Format(TimestampFormat),
		ClientID:  clientID,
	}
}

// RecorridoStatusMessage announces a driver starting or finishing a trip (recorrido)
type RecorridoStatusMessage struct {
	Type      string  `json:"type"`
	IsActive  bool    `json:"isActive"`
	StartTime *string `json:"startTime"`
	EndTime   *string `json:"endTime"`
	Timestamp string  `json:"timestamp"`
}

func NewRecorridoStatusMessage(active bool, startedAt time.Time, now time.Time) RecorridoStatusMessage {
	message := RecorridoStatusMessage{
		Type:      "recorrido_status",
		IsActive:  active,
		Timestamp: now.UTC().Format(TimestampFormat),
	}

	if !startedAt.IsZero() {
		start := startedAt.UTC().Format(TimestampFormat)
		message.StartTime = &start
	}

	if !active {
		end := now.UTC().Format(TimestampFormat)
		message.EndTime = &end
	}

	return message
}
