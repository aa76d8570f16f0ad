package domain

import "time"

// DeadLetter is an inbound message that could not be decoded or mapped.
type DeadLetter struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	Partition  int       `json:"partition"`
	Offset     int64     `json:"offset"`
	Key        []byte    `json:"key,omitempty"`
	Value      []byte    `json:"value"`
	Stage      string    `json:"stage"`
	Error      string    `json:"error"`
	ReceivedAt time.Time `json:"receivedAt"`
}
