package audioio

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestPushSource_Reframes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSamples = 4
	src := NewPushSource(cfg, nil)
	defer src.Close()

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	src.Push([]float32{1, 2, 3})
	src.Push([]float32{4, 5, 6, 7, 8, 9})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for want := float32(1); want <= 5; want += 4 {
		chunk, err := src.Read(ctx)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if len(chunk.Samples) != 4 {
			t.Fatalf("chunk has %d samples, want 4", len(chunk.Samples))
		}
		if chunk.Samples[0] != want {
			t.Errorf("chunk starts with %f, want %f", chunk.Samples[0], want)
		}
	}

	stats := src.Stats()
	if stats.ChunksRead != 2 || stats.Backend != "push" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPushSource_DropsBeforeStart(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSamples = 2
	src := NewPushSource(cfg, nil)
	defer src.Close()

	src.Push([]float32{1, 2, 3, 4})
	if err := src.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case chunk := <-src.Stream():
		t.Errorf("unexpected chunk %v", chunk.Samples)
	default:
	}
}

func TestPushSource_Overrun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSamples = 1
	cfg.QueueDepth = 1
	src := NewPushSource(cfg, nil)
	defer src.Close()

	if err := src.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	src.Push([]float32{1, 2, 3})

	if got := src.Stats().Overruns; got != 2 {
		t.Errorf("Overruns = %d, want 2", got)
	}
}

func TestPushSource_Fail(t *testing.T) {
	src := NewPushSource(DefaultConfig(), nil)
	defer src.Close()

	src.Fail(errors.New("NotAllowedError"))

	err := src.Start(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Start() = %v, want ErrDeviceUnavailable", err)
	}

	src.Recover()
	if err := src.Start(context.Background()); err != nil {
		t.Errorf("Start() after Recover = %v", err)
	}
}

func TestPushSource_FailWhileRunning(t *testing.T) {
	src := NewPushSource(DefaultConfig(), nil)
	defer src.Close()

	if err := src.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	src.Fail(errors.New("track ended"))

	if _, err := src.Read(context.Background()); err != io.EOF {
		t.Errorf("Read() after Fail = %v, want io.EOF", err)
	}
}

func TestPushSource_StopsWithContext(t *testing.T) {
	src := NewPushSource(DefaultConfig(), nil)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	if err := src.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case _, ok := <-src.Stream():
		if ok {
			t.Error("expected closed stream")
		}
	case <-time.After(time.Second):
		t.Fatal("stream not closed after context cancel")
	}
}

func TestPushSource_Closed(t *testing.T) {
	src := NewPushSource(DefaultConfig(), nil)
	src.Close()

	if err := src.Start(context.Background()); err != io.ErrClosedPipe {
		t.Errorf("Start() after Close = %v", err)
	}
}
