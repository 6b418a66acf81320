package media

import (
	"sync"

	"rapidoutput/pkg/models"
)

// AudioFunc receives raw audio for one mix
type AudioFunc func(mix int, frame *models.AudioFrame)

type audioConsumer struct {
	owner any
	fn    AudioFunc
}

// Audio fans raw audio out per mix
type Audio struct {
	sampleRate int
	channels   int

	mixes [models.MaxAudioMixes][]audioConsumer
	mu    sync.RWMutex
}

// NewAudio creates an audio pipeline
func NewAudio(sampleRate, channels int) *Audio {
	return &Audio{sampleRate: sampleRate, channels: channels}
}

// SampleRate returns the sample rate in Hz
func (a *Audio) SampleRate() int {
	return a.sampleRate
}

// Channels returns the channel count
func (a *Audio) Channels() int {
	return a.channels
}

// Connect adds a consumer on mix. It returns false for an invalid mix.
func (a *Audio) Connect(mix int, owner any, fn AudioFunc) bool {
	if mix < 0 || mix >= models.MaxAudioMixes {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for i, c := range a.mixes[mix] {
		if c.owner == owner {
			a.mixes[mix][i].fn = fn
			return true
		}
	}
	a.mixes[mix] = append(a.mixes[mix], audioConsumer{owner: owner, fn: fn})
	return true
}

// Disconnect removes owner's consumer from mix
func (a *Audio) Disconnect(mix int, owner any) {
	if mix < 0 || mix >= models.MaxAudioMixes {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	consumers := a.mixes[mix]
	for i, c := range consumers {
		if c.owner == owner {
			a.mixes[mix] = append(consumers[:i], consumers[i+1:]...)
			return
		}
	}
}

// Connected returns the number of consumers on mix
func (a *Audio) Connected(mix int) int {
	if mix < 0 || mix >= models.MaxAudioMixes {
		return 0
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.mixes[mix])
}

// Push delivers a block of samples to every consumer of mix
func (a *Audio) Push(mix int, frame *models.AudioFrame) {
	if mix < 0 || mix >= models.MaxAudioMixes {
		return
	}

	a.mu.RLock()
	consumers := make([]audioConsumer, len(a.mixes[mix]))
	copy(consumers, a.mixes[mix])
	a.mu.RUnlock()

	for _, c := range consumers {
		c.fn(mix, frame)
	}
}
