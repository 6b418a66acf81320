package media

import (
	"testing"

	"rapidoutput/pkg/models"
)

func TestTrackedFrameIDs(t *testing.T) {
	v := NewVideo(1280, 720)

	var seen []uint64
	v.Connect("consumer", func(f *models.VideoFrame) { seen = append(seen, f.TrackedID) })

	v.Push(&models.VideoFrame{})
	first := v.NextTrackedFrameID()
	if again := v.NextTrackedFrameID(); again != first {
		t.Errorf("Requests before the same frame should share an id, got %d and %d", first, again)
	}
	v.Push(&models.VideoFrame{})
	v.Push(&models.VideoFrame{})
	second := v.NextTrackedFrameID()
	v.Push(&models.VideoFrame{})

	if second <= first {
		t.Errorf("Tracked ids must increase, got %d after %d", second, first)
	}

	want := []uint64{0, first, 0, second}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("Frame %d: expected tracked id %d, got %d", i, want[i], seen[i])
		}
	}

	c := v.Counters()
	if c.Total != 4 || c.Drawn != 4 {
		t.Errorf("Unexpected counters %+v", c)
	}
}

func TestVideoConnectDisconnect(t *testing.T) {
	v := NewVideo(640, 360)

	calls := 0
	v.Connect("a", func(*models.VideoFrame) { calls++ })
	v.Connect("a", func(*models.VideoFrame) { calls += 10 })
	if v.Connected() != 1 {
		t.Fatalf("Reconnecting the same owner should replace it, got %d consumers", v.Connected())
	}

	v.Push(&models.VideoFrame{})
	v.Disconnect("a")
	v.Push(&models.VideoFrame{})

	if calls != 10 {
		t.Errorf("Expected only the replacement callback once, got %d", calls)
	}

	v.Skip()
	v.Lag()
	c := v.Counters()
	if c.Skipped != 1 || c.Lagged != 1 || c.Total != 3 || c.Drawn != 3 {
		t.Errorf("Unexpected counters %+v", c)
	}
}

func TestAudioMixes(t *testing.T) {
	a := NewAudio(48000, 2)

	got := map[int]int{}
	if !a.Connect(1, "out", func(mix int, _ *models.AudioFrame) { got[mix]++ }) {
		t.Fatal("Connect on a valid mix failed")
	}
	if a.Connect(models.MaxAudioMixes, "out", func(int, *models.AudioFrame) {}) {
		t.Error("Connect on an out of range mix should fail")
	}

	a.Push(0, &models.AudioFrame{Frames: 1024})
	a.Push(1, &models.AudioFrame{Frames: 1024})
	a.Disconnect(1, "out")
	a.Push(1, &models.AudioFrame{Frames: 1024})

	if got[0] != 0 || got[1] != 1 {
		t.Errorf("Unexpected deliveries %v", got)
	}
}
