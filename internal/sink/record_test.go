package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"syscall"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"rapidoutput/internal/logging"
	"rapidoutput/internal/muxer"
	"rapidoutput/internal/storage"
	"rapidoutput/pkg/models"
)

func newRecordSink(t *testing.T, store storage.Storage, maxSegments int) *RecordSink {
	t.Helper()
	s, err := NewRecordSink(RecordConfig{
		Storage:         store,
		Prefix:          "rec",
		SegmentDuration: 900 * time.Millisecond,
		MaxSegments:     maxSegments,
		Logger:          logging.Discard(),
	})
	if err != nil {
		t.Fatalf("NewRecordSink: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func expectStart(host *MockHost) {
	host.EXPECT().InitializeEncoders(gomock.Any()).Return(true)
	host.EXPECT().BeginDataCapture(gomock.Any()).Return(true)
}

// pushFrames feeds n frames of interleaved video and audio with a
// keyframe every 30 frames
func pushFrames(s Sink, n int64) {
	for i := int64(0); i < n; i++ {
		s.EncodedPacket(videoPacket(i, i%30 == 0))
		s.EncodedPacket(audioPacket(i))
	}
}

func TestRecordSinkWritesSegments(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()
	store, err := storage.NewLocalStorage(t.TempDir(), logging.Discard())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	venc, aenc := testEncoders()
	host := newHost(ctrl, venc, aenc)
	expectStart(host)

	s := newRecordSink(t, store, 0)
	if !s.Start(host) {
		t.Fatal("Start failed")
	}
	pushFrames(s, 90)
	s.Stop(uint64(time.Now().UnixNano()))

	segs := s.Segments()
	if len(segs) != 3 {
		t.Fatalf("Expected 3 segments, got %d", len(segs))
	}
	for i, seg := range segs {
		if seg.SequenceNum != uint64(i) || seg.Packets != 60 {
			t.Errorf("Segment %d: unexpected %+v", i, seg)
		}
		if seg.FilePath != fmt.Sprintf("rec/segment_%d.flv", i) {
			t.Errorf("Segment %d: unexpected path %s", i, seg.FilePath)
		}
	}
	if segs[0].Duration < 0.9 || segs[0].Duration > 1.1 {
		t.Errorf("Expected a ~1s first segment, got %.3f", segs[0].Duration)
	}

	data, err := store.Read(ctx, "rec/segment_1.flv")
	if err != nil {
		t.Fatalf("Read segment: %v", err)
	}
	tags := readTags(t, data)
	if len(tags) != 62 {
		t.Fatalf("Expected 2 headers and 60 media tags, got %d", len(tags))
	}
	if seq, _, _, _ := muxer.ParseFLVVideoPacket(tags[0].body); tags[0].typ != muxer.TagTypeVideo || !seq {
		t.Error("Expected the segment to open with the AVC sequence header")
	}
	if seq, _, _ := muxer.ParseFLVAudioPacket(tags[1].body); tags[1].typ != muxer.TagTypeAudio || !seq {
		t.Error("Expected the AAC sequence header second")
	}
	if _, key, _, _ := muxer.ParseFLVVideoPacket(tags[2].body); !key || tags[2].ts != 1000 {
		t.Errorf("Expected the segment to start on the keyframe at 1000ms, got ts=%d key=%t", tags[2].ts, key)
	}
	if s.TotalBytes() == 0 {
		t.Error("Expected bytes to be counted")
	}

	raw, err := store.Read(ctx, "rec/index.json")
	if err != nil {
		t.Fatalf("Read index: %v", err)
	}
	var index models.SegmentIndex
	if err := json.Unmarshal(raw, &index); err != nil {
		t.Fatalf("Unmarshal index: %v", err)
	}
	if index.OutputName != "test" || len(index.Segments) != 3 || index.MediaSequence != 0 {
		t.Errorf("Unexpected index %+v", index)
	}
}

func TestRecordSinkSlidingWindow(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()
	store, err := storage.NewLocalStorage(t.TempDir(), logging.Discard())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	venc, aenc := testEncoders()
	host := newHost(ctrl, venc, aenc)
	expectStart(host)

	s := newRecordSink(t, store, 2)
	if !s.Start(host) {
		t.Fatal("Start failed")
	}
	pushFrames(s, 90)
	s.Stop(1)

	segs := s.Segments()
	if len(segs) != 2 || segs[0].SequenceNum != 1 {
		t.Fatalf("Expected segments 1 and 2 in the window, got %+v", segs)
	}
	if ok, _ := store.Exists(ctx, "rec/segment_0.flv"); ok {
		t.Error("Expected the evicted segment to be deleted")
	}
	files, _ := store.List(ctx, "rec")
	if len(files) != 3 {
		t.Errorf("Expected two segments and the index, got %v", files)
	}
}

func TestRecordSinkStartFailures(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir(), logging.Discard())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	t.Run("encoders", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		venc, aenc := testEncoders()
		host := newHost(ctrl, venc, aenc)
		host.EXPECT().InitializeEncoders(gomock.Any()).Return(false)

		if newRecordSink(t, store, 0).Start(host) {
			t.Error("Expected Start to fail")
		}
	})

	t.Run("capture", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		venc, aenc := testEncoders()
		host := newHost(ctrl, venc, aenc)
		host.EXPECT().InitializeEncoders(gomock.Any()).Return(true)
		host.EXPECT().BeginDataCapture(gomock.Any()).Return(false)

		s := newRecordSink(t, store, 0)
		if s.Start(host) {
			t.Error("Expected Start to fail when capture cannot begin")
		}
		s.EncodedPacket(videoPacket(0, true))
		if len(s.Segments()) != 0 {
			t.Error("Nothing should be recorded after a failed start")
		}
	})

	t.Run("closed", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		host := NewMockHost(ctrl)

		s := newRecordSink(t, store, 0)
		s.Close()
		if s.Start(host) {
			t.Error("A closed sink must not start")
		}
	})
}

// fullStorage fails every write as a full disk would
type fullStorage struct {
	storage.Storage
}

func (fullStorage) Write(context.Context, string, []byte) error {
	return fmt.Errorf("write: %w", syscall.ENOSPC)
}

func TestRecordSinkWriteFailureSignalsStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	venc, aenc := testEncoders()
	host := newHost(ctrl, venc, aenc)
	expectStart(host)

	codes := make(chan models.StopCode, 1)
	host.EXPECT().SignalStop(gomock.Any()).Do(func(code models.StopCode) {
		codes <- code
	})

	s := newRecordSink(t, fullStorage{}, 0)
	if !s.Start(host) {
		t.Fatal("Start failed")
	}
	pushFrames(s, 31)

	select {
	case code := <-codes:
		if code != models.StopNoSpace {
			t.Errorf("Expected no_space, got %s", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for SignalStop")
	}

	// the failed session is over; Stop has nothing left to do
	s.Stop(1)
	s.EncodedPacket(videoPacket(40, true))
}
