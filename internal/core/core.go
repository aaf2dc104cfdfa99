// Package core wires components A-H (internal/wire, internal/transport,
// internal/tilecodec, internal/workerpool, internal/scrolldetect,
// internal/pipeline, internal/drawres, internal/drain) into the single
// handle an external frame producer drives. The producer-facing contract
// is expressed with golang.org/x/mobile/event/size and
// golang.org/x/mobile/event/paint, the same damage/resize vocabulary the
// teacher's screenImpl/windowImpl pair consumes; keyboard and mouse input
// translation (golang.org/x/mobile/event/key, .../mouse) stay out of
// scope, matching spec.md's input-translation non-goal.
package core

import (
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/mobile/event/paint"
	"golang.org/x/mobile/event/size"

	"github.com/driusan/p9drawbridge/internal/drain"
	"github.com/driusan/p9drawbridge/internal/drawres"
	"github.com/driusan/p9drawbridge/internal/pipeline"
	"github.com/driusan/p9drawbridge/internal/transport"
	"github.com/driusan/p9drawbridge/internal/wire"
	"github.com/driusan/p9drawbridge/internal/workerpool"
)

// Sentinel errors. checkDrainErrors (reached through Err) returns
// ErrUnknownID, ErrShortWrite and ErrWindowDeleted for the matching
// remote-error flags; ErrNoScreen and ErrFrameQueueFull are declared but
// not returned anywhere in this package.
var (
	ErrNoScreen       = errors.New("core: no screen attached")
	ErrFrameQueueFull = errors.New("core: frame queue full")
	ErrShortWrite     = errors.New("core: remote reported a short write")
	ErrUnknownID      = errors.New("core: remote reported an unknown resource id")
	ErrWindowDeleted  = errors.New("core: remote window was deleted")
)

// Config bundles everything Open needs to bring a bridge session up.
type Config struct {
	// RW is the already-opened stream to the remote drawing service (a
	// Plan 9 /dev/draw/N/data file, or any other io.ReadWriteCloser).
	RW io.ReadWriteCloser
	// ProcFD/FDPath, when both non-empty, let transport.Dial discover the
	// iounit via a /proc/$pid/fd-style listing, as the teacher's
	// NewDrawCtrler does.
	ProcFD, FDPath string

	Fid      uint32
	RootName string
	Bounds   image.Rectangle

	WorkerCount     int
	AlphaDelta      bool
	ScrollDetection bool

	Log zerolog.Logger
}

// Core is the single handle the external producer drives: EnqueueFrame
// submits pixels, HandleSizeEvent/HandlePaintEvent react to the
// compositor's damage contract, and Close tears everything down, starting
// with the pipeline.
type Core struct {
	conn   *transport.Conn
	drn    *drain.Drain
	res    *drawres.Resources
	pool   *workerpool.Pool
	pl     *pipeline.Pipeline
	fid    uint32
	rootNm string
	log    zerolog.Logger
}

// Open dials the transport, allocates the initial draw resources, and
// starts the drain loop and pipeline send thread.
func Open(cfg Config) (*Core, error) {
	conn, err := transport.Dial(cfg.RW, cfg.ProcFD, cfg.FDPath)
	if err != nil {
		return nil, fmt.Errorf("core: dial transport: %w", err)
	}

	d := drain.New(conn, cfg.Log)
	d.Start()

	res, err := drawres.New(conn, d, cfg.Fid, cfg.RootName, cfg.Bounds, cfg.Log)
	if err != nil {
		d.Stop()
		return nil, fmt.Errorf("core: allocate resources: %w", err)
	}

	setOp := make([]byte, 2)
	n := wire.PutSetOp(setOp, true)
	if _, err := conn.WriteRequest(cfg.Fid, 0, setOp[:n]); err != nil {
		d.Stop()
		return nil, fmt.Errorf("core: set compositing op: %w", err)
	}
	d.Notify()

	pool := workerpool.New(cfg.WorkerCount)
	pl := pipeline.New(pipeline.Config{
		Conn:              conn,
		Fid:               cfg.Fid,
		Resources:         res,
		Drain:             d,
		Pool:              pool,
		Log:               cfg.Log,
		AlphaDeltaAllowed: cfg.AlphaDelta,
		ScrollDetection:   cfg.ScrollDetection,
	})

	return &Core{
		conn:   conn,
		drn:    d,
		res:    res,
		pool:   pool,
		pl:     pl,
		fid:    cfg.Fid,
		rootNm: cfg.RootName,
		log:    cfg.Log,
	}, nil
}

// EnqueueFrame submits a new XRGB32 frame for delivery; it is safe to
// call from the producer's render loop without blocking on the network.
func (c *Core) EnqueueFrame(pix []byte, stride, w, h int) {
	c.pl.EnqueueFrame(pix, stride, w, h)
}

// HandleSizeEvent reacts to a compositor resize by pausing the drain
// loop for a quiescent window, reallocating the draw resources at the
// new bounds, and resuming. It mirrors the teacher's
// repositionWindow/ReallocScreen sequencing.
func (c *Core) HandleSizeEvent(e size.Event) error {
	c.drn.Pause()
	defer c.drn.Resume()

	bounds := image.Rect(0, 0, e.WidthPx, e.HeightPx)
	if err := c.res.Resize(bounds); err != nil {
		return fmt.Errorf("core: handle size event: %w", err)
	}
	return nil
}

// HandlePaintEvent is a no-op hook for the external damage contract:
// unlike the teacher's windowImpl, which must redraw synchronously on a
// paint.Event, this bridge drives delivery entirely from EnqueueFrame and
// only needs the event type to satisfy the same compositor contract.
func (c *Core) HandlePaintEvent(paint.Event) {}

// checkDrainErrors inspects the drain loop's recovered error flags after
// a frame delivery and maps them onto the sentinel errors, recovering
// drawres state for the id-divergence case before returning.
func (c *Core) checkDrainErrors() error {
	if c.drn.Fatal() != nil {
		return fmt.Errorf("core: transport failed: %w", c.drn.Fatal())
	}
	if c.drn.UnknownID {
		if err := c.res.RecoverUnknownID(c.rootNm); err != nil {
			c.drn.ResetFlags()
			return fmt.Errorf("core: recover from unknown id: %w", err)
		}
		c.drn.ResetFlags()
		return ErrUnknownID
	}
	if c.drn.ShortWrite {
		c.drn.ResetFlags()
		return ErrShortWrite
	}
	if c.drn.WindowDeleted {
		c.drn.ResetFlags()
		return ErrWindowDeleted
	}
	return nil
}

// Err checks the drain loop's state: it returns the transport failure if
// the loop stopped on one; otherwise it maps the first set error flag onto
// its sentinel error, re-binding the draw resources first in the
// unknown-id case, and clears the flags. It returns nil when nothing is
// set.
func (c *Core) Err() error { return c.checkDrainErrors() }

// Close tears the session down: pipeline first (so no new writes are
// issued), then the drain loop, then the draw resources, then the
// transport connection and worker pool.
func (c *Core) Close() error {
	c.pl.Close()
	c.drn.Stop()
	resErr := c.res.Close()
	c.pool.Close()
	connErr := c.conn.Close()
	if resErr != nil {
		return resErr
	}
	return connErr
}
