package models

import "time"

// IngestStream describes a stream published to the loopback ingest server
type IngestStream struct {
	Key          string    `json:"key"`
	App          string    `json:"app"`
	RemoteAddr   string    `json:"remoteAddr"`
	Live         bool      `json:"live"`
	VideoPackets int       `json:"videoPackets"`
	AudioPackets int       `json:"audioPackets"`
	Keyframes    int       `json:"keyframes"`
	Bytes        uint64    `json:"bytes"`
	HasAVCConfig bool      `json:"hasAvcConfig"`
	HasAACConfig bool      `json:"hasAacConfig"`
	StartedAt    time.Time `json:"startedAt"`
}
