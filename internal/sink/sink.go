// Package sink defines the capability interface implemented by every output
// destination, and the file and network sinks shipped with the engine.
package sink

import (
	"rapidoutput/internal/encoder"
	"rapidoutput/internal/service"
	"rapidoutput/pkg/models"
)

//go:generate mockgen -source=sink.go -destination=sinkmock/mock_sink.go -package=sinkmock -exclude_interfaces=Host
//go:generate mockgen -source=sink.go -destination=mock_host_test.go -package=sink -exclude_interfaces=Sink

// Sink consumes the ordered packet sequence of one output.
//
// EncodedPacket, RawVideo and RawAudio are called from producer goroutines
// while the output holds its delivery lock; they must not block on I/O.
type Sink interface {
	// Name identifies the sink kind in logs and the API
	Name() string
	// Flags declares what the sink consumes
	Flags() models.OutputFlags

	// Start begins a session. A sink that fails synchronously returns false
	// without calling SignalStop; asynchronous failures are reported through
	// Host.SignalStop. On success the sink calls Host.BeginDataCapture once
	// it is ready for packets.
	Start(host Host) bool
	// Stop ends the session. ts is the system time in nanoseconds at which
	// the stop was requested, 0 for an immediate stop.
	Stop(ts uint64)

	EncodedPacket(p *models.Packet)
	RawVideo(frame *models.VideoFrame)
	RawAudio(mix int, frame *models.AudioFrame)

	TotalBytes() uint64
	DroppedFrames() int

	// Close releases the sink when its output is destroyed
	Close() error
}

// Host is the output a sink is attached to
type Host interface {
	Name() string

	CanBeginDataCapture(flags models.OutputFlags) bool
	InitializeEncoders(flags models.OutputFlags) bool
	BeginDataCapture(flags models.OutputFlags) bool
	EndDataCapture()
	SignalStop(code models.StopCode)

	Service() *service.Service
	VideoEncoder() *encoder.Encoder
	AudioEncoder(idx int) *encoder.Encoder
}
