// Package gstcam captures a V4L2 webcam through a GStreamer pipeline.
package gstcam

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/dentar/internal/stream"
)

// Config configures the GStreamer v4l2 source.
type Config struct {
	Device string
	Width  int
	Height int
	FPS    float64
	Retry  stream.RetryConfig
}

// Source captures a V4L2 webcam through a GStreamer pipeline:
//
//	v4l2src → videoconvert → videoscale → videorate → capsfilter(RGB) → appsink
type Source struct {
	*stream.Base
	cfg Config

	mu       sync.Mutex
	pipeline *gst.Pipeline

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates cfg. The pipeline is built on Start.
func New(cfg Config) (*Source, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("gstcam: gst device is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("gstcam: invalid gst resolution %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	return &Source{
		Base: stream.NewBase("gst", cfg.Width, cfg.Height, cfg.FPS),
		cfg:  cfg,
	}, nil
}

// rgbCaps builds the appsink caps, handling sub-1 fps as 1/N.
func rgbCaps(width, height int, fps float64) string {
	num, den := 1, 1
	if fps < 1 {
		den = int(1 / fps)
	} else {
		num = int(fps)
	}
	return fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/%d", width, height, num, den)
}

func (g *Source) build() (*gst.Pipeline, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, fmt.Errorf("create v4l2src: %w", err)
	}
	src.SetProperty("device", stream.DevicePath(g.cfg.Device))

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("create videoconvert: %w", err)
	}
	convert.SetProperty("n-threads", 0)

	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("create videoscale: %w", err)
	}
	rate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("create videorate: %w", err)
	}
	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(rgbCaps(g.cfg.Width, g.cfg.Height, g.cfg.FPS)))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	pipeline.AddMany(src, convert, scale, rate, capsfilter, sink.Element)
	if err := gst.ElementLinkMany(src, convert, scale, rate, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("link pipeline: %w", err)
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: g.onNewSample,
	})
	return pipeline, nil
}

// onNewSample copies one RGB buffer into the mailbox. A bad sample is
// skipped rather than ending the stream.
func (g *Source) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gstcam: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstcam: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gstcam: empty buffer received")
		return gst.FlowOK
	}
	pixels, err := packRGB(data, g.cfg.Width, g.cfg.Height)
	buffer.Unmap()
	if err != nil {
		slog.Warn("gstcam: unexpected buffer layout, skipping frame", "error", err)
		return gst.FlowOK
	}

	f := g.Deliver(g.cfg.Width, g.cfg.Height, pixels, time.Now())
	slog.Debug("gstcam: frame captured", "seq", f.Seq, "trace_id", f.TraceID)
	return gst.FlowOK
}

// packRGB copies a mapped buffer into a tightly packed RGB24 slice. Rows in
// GStreamer RGB buffers are padded to 4-byte strides.
func packRGB(data []byte, width, height int) ([]byte, error) {
	row := width * 3
	if len(data) == row*height {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}
	if height == 0 || len(data)%height != 0 {
		return nil, fmt.Errorf("buffer of %d bytes does not fit %dx%d", len(data), width, height)
	}
	stride := len(data) / height
	if stride < row {
		return nil, fmt.Errorf("stride %d shorter than row %d", stride, row)
	}
	out := make([]byte, row*height)
	for y := 0; y < height; y++ {
		copy(out[y*row:(y+1)*row], data[y*stride:y*stride+row])
	}
	return out, nil
}

func (g *Source) play(ctx context.Context) error {
	pipeline, err := g.build()
	if err != nil {
		return err
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("set pipeline playing: %w", err)
	}
	g.mu.Lock()
	g.pipeline = pipeline
	g.mu.Unlock()

	slog.Info("gstcam: gst pipeline playing",
		"device", stream.DevicePath(g.cfg.Device),
		"caps", rgbCaps(g.cfg.Width, g.cfg.Height, g.cfg.FPS),
	)
	return nil
}

func (g *Source) Start(ctx context.Context) error {
	if g.Stopped() {
		return stream.ErrClosed
	}
	if err := stream.OpenWithRetry(ctx, g.Name(), g.cfg.Retry, g.Reopens(), g.play); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.wg.Add(1)
	go g.monitor(runCtx)
	return nil
}

// monitor watches the bus and rebuilds the pipeline on error or EOS.
func (g *Source) monitor(ctx context.Context) {
	defer g.wg.Done()

	for ctx.Err() == nil {
		g.mu.Lock()
		pipeline := g.pipeline
		g.mu.Unlock()
		if pipeline == nil {
			return
		}

		msg := pipeline.GetPipelineBus().TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS, gst.MessageError:
			if msg.Type() == gst.MessageError {
				gerr := msg.ParseError()
				slog.Error("gstcam: gst pipeline error", "error", gerr.Error(), "debug", gerr.DebugString())
			} else {
				slog.Warn("gstcam: gst end of stream")
			}
			g.teardown()
			if err := stream.OpenWithRetry(ctx, g.Name(), g.cfg.Retry, g.Reopens(), g.play); err != nil {
				slog.Error("gstcam: gst source lost", "error", err)
				return
			}
		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, next := msg.ParseStateChanged()
				slog.Debug("gstcam: gst state changed", "from", old, "to", next)
			}
		}
	}
}

func (g *Source) teardown() {
	g.mu.Lock()
	pipeline := g.pipeline
	g.pipeline = nil
	g.mu.Unlock()
	if pipeline != nil {
		if err := pipeline.SetState(gst.StateNull); err != nil {
			slog.Debug("gstcam: gst teardown failed (ignored)", "error", err)
		}
	}
}

func (g *Source) Stop() error {
	if !g.MarkStopped() {
		return nil
	}
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
	g.teardown()
	slog.Info("gstcam: gst source stopped", "frames", g.Frames(), "reopens", g.Reopens().Load())
	return nil
}
