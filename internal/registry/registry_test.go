package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/mock/gomock"

	"rapidoutput/internal/logging"
	"rapidoutput/internal/media"
	"rapidoutput/internal/output"
	"rapidoutput/internal/sink"
	"rapidoutput/internal/sink/sinkmock"
	"rapidoutput/pkg/models"
)

// rawSink returns a mock raw-video sink that must be closed exactly once
func rawSink(ctrl *gomock.Controller) *sinkmock.MockSink {
	s := sinkmock.NewMockSink(ctrl)
	s.EXPECT().Name().Return("mock").AnyTimes()
	s.EXPECT().Flags().Return(models.FlagVideo).AnyTimes()
	s.EXPECT().TotalBytes().Return(uint64(0)).AnyTimes()
	s.EXPECT().DroppedFrames().Return(0).AnyTimes()
	s.EXPECT().RawVideo(gomock.Any()).AnyTimes()
	s.EXPECT().Close().Return(nil).Times(1)
	return s
}

func create(t *testing.T, r *Registry, name string, s sink.Sink) *output.Output {
	t.Helper()
	out, err := r.Create(output.Config{
		Name:   name,
		Sink:   s,
		Video:  media.NewVideo(640, 360),
		Logger: logging.Discard(),
	})
	if err != nil {
		t.Fatalf("Create %s: %v", name, err)
	}
	return out
}

func TestCreateAndGet(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := New(logging.Discard())

	create(t, r, "b", rawSink(ctrl))
	create(t, r, "a", rawSink(ctrl))
	t.Cleanup(func() { r.Shutdown(context.Background()) })

	out, err := r.Get("a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.Name() != "a" {
		t.Errorf("Expected output a, got %s", out.Name())
	}
	out.Release()

	if _, err := r.Get("missing"); !errors.Is(err, ErrOutputNotFound) {
		t.Errorf("Expected ErrOutputNotFound, got %v", err)
	}

	infos := r.List()
	if len(infos) != 2 || infos[0].Name != "a" || infos[1].Name != "b" {
		t.Errorf("Unexpected listing %+v", infos)
	}
	if infos[0].State != models.OutputStateIdle {
		t.Errorf("Expected idle, got %s", infos[0].State)
	}
}

func TestCreateDuplicate(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := New(logging.Discard())
	create(t, r, "dup", rawSink(ctrl))
	t.Cleanup(func() { r.Shutdown(context.Background()) })

	// the rejected output is released by Create, closing its sink
	_, err := r.Create(output.Config{Name: "dup", Sink: rawSink(ctrl), Logger: logging.Discard()})
	if !errors.Is(err, ErrOutputExists) {
		t.Errorf("Expected ErrOutputExists, got %v", err)
	}
}

func TestRemoveDestroysIdleOutput(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := New(logging.Discard())
	out := create(t, r, "x", rawSink(ctrl))

	if err := r.Remove("x"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !out.Handle().Destroyed() {
		t.Error("Expected the output to be destroyed")
	}
	if _, err := r.Get("x"); !errors.Is(err, ErrOutputNotFound) {
		t.Errorf("Expected ErrOutputNotFound, got %v", err)
	}
	if err := r.Remove("x"); !errors.Is(err, ErrOutputNotFound) {
		t.Errorf("Expected ErrOutputNotFound on second remove, got %v", err)
	}
}

func TestRemoveWhileReferenced(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := New(logging.Discard())
	create(t, r, "held", rawSink(ctrl))

	out, err := r.Get("held")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := r.Remove("held"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if out.Handle().Destroyed() {
		t.Fatal("A held output must survive removal")
	}

	out.Release()
	if !out.Handle().Destroyed() {
		t.Error("Expected the last release to destroy the output")
	}
}

func TestShutdownStopsRunningOutputs(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := New(logging.Discard())

	s := rawSink(ctrl)
	s.EXPECT().Start(gomock.Any()).DoAndReturn(func(h sink.Host) bool {
		return h.BeginDataCapture(0)
	})
	s.EXPECT().Stop(uint64(0)).Times(1)

	out := create(t, r, "live", s)
	create(t, r, "idle", rawSink(ctrl))

	var stopped []models.StopCode
	out.Events().Subscribe(func(ev models.Event) {
		if ev.Type == models.EventStop {
			stopped = append(stopped, ev.Code)
		}
	})

	if !out.Start() {
		t.Fatal("Start failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if len(stopped) != 1 || stopped[0] != models.StopSuccess {
		t.Errorf("Expected one stop(success), got %v", stopped)
	}
	if !out.Handle().Destroyed() {
		t.Error("Expected the output to be destroyed after shutdown")
	}
	if len(r.Names()) != 0 {
		t.Errorf("Expected an empty registry, got %v", r.Names())
	}
}

func TestShutdownReportsStuckOutputs(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := New(logging.Discard())

	release := make(chan struct{})
	closed := make(chan struct{}, 2)
	for _, name := range []string{"a", "b"} {
		s := sinkmock.NewMockSink(ctrl)
		s.EXPECT().Name().Return("mock").AnyTimes()
		s.EXPECT().Flags().Return(models.FlagVideo).AnyTimes()
		s.EXPECT().TotalBytes().Return(uint64(0)).AnyTimes()
		s.EXPECT().DroppedFrames().Return(0).AnyTimes()
		s.EXPECT().RawVideo(gomock.Any()).AnyTimes()
		s.EXPECT().Start(gomock.Any()).DoAndReturn(func(h sink.Host) bool {
			return h.BeginDataCapture(0)
		})
		s.EXPECT().Stop(uint64(0)).Do(func(uint64) { <-release })
		s.EXPECT().Close().DoAndReturn(func() error {
			closed <- struct{}{}
			return nil
		})

		if out := create(t, r, name, s); !out.Start() {
			t.Fatalf("Start %s failed", name)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Shutdown(ctx)

	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("Expected a multierror, got %v", err)
	}
	if len(merr.Errors) != 2 {
		t.Errorf("Expected both outputs reported, got %v", merr.Errors)
	}
	for _, e := range merr.Errors {
		if !errors.Is(e, context.DeadlineExceeded) {
			t.Errorf("Expected a deadline error, got %v", e)
		}
	}

	close(release)
	for i := 0; i < 2; i++ {
		select {
		case <-closed:
		case <-time.After(5 * time.Second):
			t.Fatal("Timed out waiting for the outputs to be destroyed")
		}
	}
}
