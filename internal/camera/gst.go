package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/claude/repquest/internal/pose"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// GstOpener opens V4L2 devices through a GStreamer pipeline:
//
//	v4l2src → videoconvert → capsfilter(RGB[, width, height]) → appsink
type GstOpener struct {
	// Devices maps a facing to its device node, e.g. "/dev/video0".
	Devices map[Facing]string
	// DefaultDevice and DefaultFacing are used for unconstrained profiles.
	DefaultDevice string
	DefaultFacing Facing
	// FirstFrameTimeout bounds how long a profile may take to deliver a frame.
	FirstFrameTimeout time.Duration
	Log               *slog.Logger
}

var gstInit sync.Once

// Open builds and starts a pipeline for the profile. The profile is rejected
// if the device is unknown, caps cannot be negotiated, or no frame arrives in
// time.
func (o *GstOpener) Open(ctx context.Context, p Profile) (Stream, error) {
	gstInit.Do(func() { gst.Init(nil) })

	device, facing := o.DefaultDevice, o.DefaultFacing
	if p.Facing != FacingAny {
		d, ok := o.Devices[p.Facing]
		if !ok || d == "" {
			return nil, fmt.Errorf("no %s-facing device configured", p.Facing)
		}
		device, facing = d, p.Facing
	}
	if device == "" {
		return nil, fmt.Errorf("no default device configured")
	}

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}
	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, fmt.Errorf("creating v4l2src: %w", err)
	}
	src.SetProperty("device", device)

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("creating videoconvert: %w", err)
	}
	filter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("creating capsfilter: %w", err)
	}
	caps := "video/x-raw,format=RGB"
	if p.Width > 0 && p.Height > 0 {
		caps = fmt.Sprintf("%s,width=%d,height=%d", caps, p.Width, p.Height)
	}
	filter.SetProperty("caps", gst.NewCapsFromString(caps))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("creating appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	if err := pipeline.AddMany(src, convert, filter, sink.Element); err != nil {
		return nil, fmt.Errorf("adding elements: %w", err)
	}
	if err := gst.ElementLinkMany(src, convert, filter, sink.Element); err != nil {
		return nil, fmt.Errorf("linking elements: %w", err)
	}

	s := &gstStream{
		pipeline: pipeline,
		facing:   facing,
		width:    p.Width,
		height:   p.Height,
		frames:   make(chan pose.Frame, 1),
		errs:     make(chan error, 1),
	}
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("starting pipeline: %w", err)
	}
	go s.watchBus()

	timeout := o.FirstFrameTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := s.Frame(waitCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("waiting for first frame on %s: %w", device, err)
	}

	if o.Log != nil {
		o.Log.Debug("gstreamer pipeline playing", "device", device, "caps", caps)
	}
	return s, nil
}

type gstStream struct {
	pipeline *gst.Pipeline
	facing   Facing
	width    int
	height   int

	seq    atomic.Uint64
	frames chan pose.Frame // holds only the newest frame
	errs   chan error
	closed atomic.Bool
	once   sync.Once
}

func (s *gstStream) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	// GStreamer reuses the buffer once unmapped.
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	width, height := s.width, s.height
	if width == 0 || height == 0 {
		width, height = sampleSize(sample)
	}

	f := pose.Frame{
		Seq:      s.seq.Add(1),
		Width:    width,
		Height:   height,
		Format:   "RGB",
		Data:     frameData,
		Captured: time.Now(),
	}
	select {
	case <-s.frames:
	default:
	}
	select {
	case s.frames <- f:
	default:
	}
	return gst.FlowOK
}

// sampleSize reads the negotiated dimensions from the sample caps.
func sampleSize(sample *gst.Sample) (int, int) {
	caps := sample.GetCaps()
	if caps == nil || caps.GetSize() == 0 {
		return 0, 0
	}
	st := caps.GetStructureAt(0)
	w, errW := st.GetValue("width")
	h, errH := st.GetValue("height")
	if errW != nil || errH != nil {
		return 0, 0
	}
	wi, _ := w.(int)
	hi, _ := h.(int)
	return wi, hi
}

func (s *gstStream) watchBus() {
	bus := s.pipeline.GetPipelineBus()
	for !s.closed.Load() {
		msg := bus.TimedPop(100 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			select {
			case s.errs <- fmt.Errorf("%w: pipeline error: %s", ErrUnavailable, gerr.Error()):
			default:
			}
			return
		case gst.MessageEOS:
			select {
			case s.errs <- fmt.Errorf("%w: end of stream", ErrUnavailable):
			default:
			}
			return
		}
	}
}

func (s *gstStream) Frame(ctx context.Context) (pose.Frame, error) {
	select {
	case f := <-s.frames:
		// Put it back so the next tick sees a frame even if none arrived since.
		select {
		case s.frames <- f:
		default:
		}
		return f, nil
	case err := <-s.errs:
		select {
		case s.errs <- err:
		default:
		}
		return pose.Frame{}, err
	case <-ctx.Done():
		return pose.Frame{}, ctx.Err()
	}
}

func (s *gstStream) Facing() Facing { return s.facing }

func (s *gstStream) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		err = s.pipeline.SetState(gst.StateNull)
	})
	return err
}
