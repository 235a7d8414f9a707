// Package gocvcam reads a webcam through OpenCV's VideoCapture.
package gocvcam

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/e7canasta/dentar/internal/stream"
)

// maxReadFailures is how many consecutive empty reads trigger a reopen.
const maxReadFailures = 30

// Config configures the OpenCV webcam source.
type Config struct {
	Device string // index ("0") or path/URL
	Width  int
	Height int
	FPS    float64
	Retry  stream.RetryConfig
}

// Source reads a webcam through OpenCV's VideoCapture.
type Source struct {
	*stream.Base
	cfg Config

	capMu   sync.Mutex
	capture *gocv.VideoCapture

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates cfg. The device is opened on Start.
func New(cfg Config) (*Source, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("gocvcam: camera device is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("gocvcam: invalid camera resolution %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	return &Source{
		Base: stream.NewBase("gocv", cfg.Width, cfg.Height, cfg.FPS),
		cfg:  cfg,
	}, nil
}

func (c *Source) open(ctx context.Context) error {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if idx, convErr := strconv.Atoi(c.cfg.Device); convErr == nil {
		vc, err = gocv.OpenVideoCapture(idx)
	} else {
		vc, err = gocv.OpenVideoCapture(c.cfg.Device)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", c.cfg.Device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("open %s: device not opened", c.cfg.Device)
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(c.cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(c.cfg.Height))
	vc.Set(gocv.VideoCaptureFPS, c.cfg.FPS)

	c.capMu.Lock()
	old := c.capture
	c.capture = vc
	c.capMu.Unlock()
	if old != nil {
		old.Close()
	}

	slog.Info("gocvcam: camera opened",
		"device", c.cfg.Device,
		"width", vc.Get(gocv.VideoCaptureFrameWidth),
		"height", vc.Get(gocv.VideoCaptureFrameHeight),
		"fps", vc.Get(gocv.VideoCaptureFPS),
	)
	return nil
}

func (c *Source) Start(ctx context.Context) error {
	if c.Stopped() {
		return stream.ErrClosed
	}
	if err := stream.OpenWithRetry(ctx, c.Name(), c.cfg.Retry, c.Reopens(), c.open); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.captureLoop(runCtx)
	return nil
}

func (c *Source) captureLoop(ctx context.Context) {
	defer c.wg.Done()

	bgr := gocv.NewMat()
	defer bgr.Close()
	rgb := gocv.NewMat()
	defer rgb.Close()

	failures := 0
	for ctx.Err() == nil {
		c.capMu.Lock()
		vc := c.capture
		ok := vc != nil && vc.Read(&bgr)
		c.capMu.Unlock()
		captured := time.Now()

		if !ok || bgr.Empty() {
			failures++
			if failures < maxReadFailures {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			slog.Warn("gocvcam: camera read failing, reopening", "device", c.cfg.Device, "failures", failures)
			if err := stream.OpenWithRetry(ctx, c.Name(), c.cfg.Retry, c.Reopens(), c.open); err != nil {
				slog.Error("gocvcam: camera lost", "device", c.cfg.Device, "error", err)
				return
			}
			failures = 0
			continue
		}
		failures = 0

		gocv.CvtColor(bgr, &rgb, gocv.ColorBGRToRGB)
		f := c.Deliver(rgb.Cols(), rgb.Rows(), rgb.ToBytes(), captured)
		slog.Debug("gocvcam: frame captured", "seq", f.Seq, "trace_id", f.TraceID)
	}
}

func (c *Source) Stop() error {
	if !c.MarkStopped() {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	c.capMu.Lock()
	defer c.capMu.Unlock()
	if c.capture == nil {
		return nil
	}
	err := c.capture.Close()
	c.capture = nil

	slog.Info("gocvcam: camera stopped", "device", c.cfg.Device, "frames", c.Frames())
	return err
}
