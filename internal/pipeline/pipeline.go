// Package pipeline is the frame pipeline: the zero-copy hand-off between
// the frame producer and a dedicated send thread, dirty-tile tracking,
// scroll detection, adaptive tile encoding via internal/tilecodec fanned
// out over internal/workerpool, and batched delivery over
// internal/transport paced by internal/drain. It plays the role the
// teacher's windowImpl.Upload/Publish pair plays for a single shiny
// texture, generalized to a continuous video-like frame source.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/rs/zerolog"

	"github.com/driusan/p9drawbridge/internal/drain"
	"github.com/driusan/p9drawbridge/internal/drawres"
	"github.com/driusan/p9drawbridge/internal/scrolldetect"
	"github.com/driusan/p9drawbridge/internal/tilecodec"
	"github.com/driusan/p9drawbridge/internal/transport"
	"github.com/driusan/p9drawbridge/internal/wire"
	"github.com/driusan/p9drawbridge/internal/workerpool"
)

// AlphaDeltaMode is the alpha-delta encoder's enable state machine: it
// starts Disabled and, when the operator allows alpha-delta at all,
// switches to Enabled after the first frame diffed against an existing
// reference delivers at least one tile without a transport error. The
// first full frame of a given size does not enable it, and nothing
// switches it back to Disabled.
type AlphaDeltaMode int

const (
	AlphaDeltaDisabled AlphaDeltaMode = iota
	AlphaDeltaEnabled
)

// maxThrottlePending bounds how many pipelined writes can be outstanding
// before the send thread blocks on the drain loop. The throttle is
// applied before compression is dispatched for a frame's dirty tiles,
// not after each batch is flushed, so a wedged or slow remote side
// stalls the send thread before it spends worker-pool time and memory
// encoding tiles it can't yet deliver, capping both in-flight write
// count and the compressed-result buffers held pending delivery.
const maxThrottlePending = 2

// Frame is one producer-submitted frame: XRGB32 pixels, stride in bytes.
type Frame struct {
	Pix    []byte
	Stride int
	W, H   int
}

// Pipeline owns the triple-buffered hand-off and the send thread.
type Pipeline struct {
	mu         sync.Mutex
	cond       *sync.Cond
	bufs       [3]Frame
	pendingIdx int // index of the latest complete, not-yet-claimed frame, or -1
	sendIdx    int // index currently owned by the send thread, or -1
	closing    bool

	prev       []byte // previous-frame reference, same layout as the current frame
	prevW      int
	prevH      int
	prevStride int

	pool      *workerpool.Pool
	compByWkr []*tilecodec.Compressor

	conn  *transport.Conn
	fid   uint32
	res   *drawres.Resources
	drn   *drain.Drain
	log   zerolog.Logger
	mode  AlphaDeltaMode
	alpha bool // operator override: whether alpha-delta is permitted at all

	scrollEnabled bool

	// ctx is checked when processFrame starts and bounds the drain
	// throttle wait, following the pack's oov-downscale handle.Wait(ctx)
	// cancellation style; worker-pool dispatches do not observe it.
	// Close cancels it only after the send thread has exited, so it never
	// interrupts a frame already being processed.
	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup
}

// Config bundles the wiring New needs.
type Config struct {
	Conn              *transport.Conn
	Fid               uint32
	Resources         *drawres.Resources
	Drain             *drain.Drain
	Pool              *workerpool.Pool
	Log               zerolog.Logger
	AlphaDeltaAllowed bool
	ScrollDetection   bool
}

// New constructs a Pipeline and starts its send thread.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		pendingIdx:    -1,
		sendIdx:       -1,
		pool:          cfg.Pool,
		conn:          cfg.Conn,
		fid:           cfg.Fid,
		res:           cfg.Resources,
		drn:           cfg.Drain,
		log:           cfg.Log,
		alpha:         cfg.AlphaDeltaAllowed,
		scrollEnabled: cfg.ScrollDetection,
	}
	p.cond = sync.NewCond(&p.mu)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.compByWkr = make([]*tilecodec.Compressor, cfg.Pool.Size())
	for i := range p.compByWkr {
		p.compByWkr[i] = tilecodec.NewCompressor()
	}
	p.wg.Add(1)
	go p.sendLoop()
	return p
}

// EnqueueFrame hands a new frame to the pipeline, copying pix into a free
// triple-buffer slot. If the send thread hasn't yet claimed the previous
// pending frame, that frame is discarded in favor of the new one: the
// pipeline only ever delivers the most recent frame, never a backlog.
func (p *Pipeline) EnqueueFrame(pix []byte, stride, w, h int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing {
		return
	}

	freeIdx := -1
	for i := 0; i < 3; i++ {
		if i != p.pendingIdx && i != p.sendIdx {
			freeIdx = i
			break
		}
	}
	buf := p.bufs[freeIdx].Pix
	if cap(buf) < len(pix) {
		buf = make([]byte, len(pix))
	}
	buf = buf[:len(pix)]
	copy(buf, pix)
	p.bufs[freeIdx] = Frame{Pix: buf, Stride: stride, W: w, H: h}
	p.pendingIdx = freeIdx
	p.cond.Broadcast()
}

// Close stops the send thread and waits for it to exit. The frame
// currently in flight, if any, is allowed to finish delivering before
// cancel fires, so a partially-batched write is never abandoned
// mid-flush; cancel only short-circuits the drain throttle wait a
// subsequent frame would otherwise block on.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closing = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Pipeline) sendLoop() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for !p.closing && p.pendingIdx < 0 {
			p.cond.Wait()
		}
		if p.closing && p.pendingIdx < 0 {
			p.mu.Unlock()
			return
		}
		idx := p.pendingIdx
		p.pendingIdx = -1
		p.sendIdx = idx
		frame := p.bufs[idx]
		p.mu.Unlock()

		if err := p.processFrame(frame); err != nil {
			p.log.Error().Err(err).Msg("pipeline: frame processing failed")
		}

		p.mu.Lock()
		p.sendIdx = -1
		p.mu.Unlock()
	}
}

// dispatchCtx returns the pipeline's cancellation context, defaulting to
// context.Background() for bare Pipeline values constructed directly by
// tests that exercise the triple-buffer hand-off without a running send
// thread.
func (p *Pipeline) dispatchCtx() context.Context {
	if p.ctx != nil {
		return p.ctx
	}
	return context.Background()
}

// processFrame implements the per-frame steps: dirty-tile detection
// (optionally scroll-adjusted), adaptive encoding fanned out over the
// worker pool, and batched delivery.
func (p *Pipeline) processFrame(f Frame) error {
	if err := p.dispatchCtx().Err(); err != nil {
		return err
	}
	if p.prev == nil || p.prevW != f.W || p.prevH != f.H {
		p.initReference(f)
		return p.sendFullFrame(f)
	}

	if p.scrollEnabled {
		p.applyScrollDetection(f)
	}

	tiles := p.dirtyTiles(f)
	if len(tiles) == 0 {
		return nil
	}
	if err := p.drn.ThrottleContext(p.dispatchCtx(), maxThrottlePending); err != nil {
		return fmt.Errorf("pipeline: throttle: %w", err)
	}
	results := p.encodeTiles(f, tiles)
	if err := p.deliver(tiles, results); err != nil {
		return err
	}
	p.updateReference(f, tiles)
	if p.mode == AlphaDeltaDisabled && p.alpha {
		p.mode = AlphaDeltaEnabled
	}
	return nil
}

func (p *Pipeline) initReference(f Frame) {
	p.prev = make([]byte, len(f.Pix))
	copy(p.prev, f.Pix)
	p.prevStride, p.prevW, p.prevH = f.Stride, f.W, f.H
}

// sendFullFrame is used for the first frame of a given size (no
// previous-frame reference exists yet, so every tile must be direct-only).
func (p *Pipeline) sendFullFrame(f Frame) error {
	if err := p.drn.ThrottleContext(p.dispatchCtx(), maxThrottlePending); err != nil {
		return fmt.Errorf("pipeline: throttle: %w", err)
	}
	tiles := allTiles(f.W, f.H)
	results := make([]tilecodec.Result, len(tiles))
	p.pool.Dispatch(workerpool.Job{N: len(tiles), Func: func(wid, i int) {
		c := p.compByWkr[wid]
		t := tiles[i]
		results[i] = tilecodec.DirectEncode(c, tilecodec.Tile{
			CurX: t.Min.X, CurY: t.Min.Y, W: t.Dx(), H: t.Dy(),
			Cur: f.Pix, CurStride: f.Stride,
		})
	}})
	return p.deliver(tiles, results)
}

func allTiles(w, h int) []image.Rectangle {
	var tiles []image.Rectangle
	for y := 0; y < h; y += tilecodec.TileSize {
		for x := 0; x < w; x += tilecodec.TileSize {
			tw := min(tilecodec.TileSize, w-x)
			th := min(tilecodec.TileSize, h-y)
			tiles = append(tiles, image.Rect(x, y, x+tw, y+th))
		}
	}
	return tiles
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// dirtyTiles compares f against the previous-frame reference tile by
// tile, returning the rectangles whose pixels differ.
func (p *Pipeline) dirtyTiles(f Frame) []image.Rectangle {
	all := allTiles(f.W, f.H)
	dirty := make([]bool, len(all))
	p.pool.Dispatch(workerpool.Job{N: len(all), Func: func(_, i int) {
		r := all[i]
		dirty[i] = tileDiffers(f, p.prev, p.prevStride, r)
	}})
	var out []image.Rectangle
	for i, d := range dirty {
		if d {
			out = append(out, all[i])
		}
	}
	return out
}

func tileDiffers(f Frame, prev []byte, prevStride int, r image.Rectangle) bool {
	for row := r.Min.Y; row < r.Max.Y; row++ {
		curOff := row*f.Stride + r.Min.X*4
		prevOff := row*prevStride + r.Min.X*4
		w := r.Dx() * 4
		for i := 0; i < w; i++ {
			if f.Pix[curOff+i] != prev[prevOff+i] {
				return true
			}
		}
	}
	return false
}

// applyScrollDetection runs phase-correlation detection across the
// frame's analysis regions and, for each region whose candidate
// displacement survives compression-cost verification, shifts the
// previous-frame reference in place so the subsequent dirty-tile diff
// only has to encode the thin exposed band, not the whole region.
func (p *Pipeline) applyScrollDetection(f Frame) {
	regions := scrolldetect.Detect(f.Pix, p.prev, f.Stride, f.W, f.H, func(n int, work func(int)) {
		p.pool.Dispatch(workerpool.Job{N: n, Func: func(_, i int) { work(i) }})
	})
	comp := tilecodec.NewCompressor()
	for _, r := range regions {
		if !r.Detected {
			continue
		}
		if !scrolldetect.VerifyCost(comp, f.Pix, p.prev, f.Stride, f.W, f.H, r) {
			continue
		}
		rect := [4]int{r.Rect.Min.X, r.Rect.Min.Y, r.Rect.Max.X, r.Rect.Max.Y}
		scrolldetect.ApplyScroll(p.prev, p.prevStride, rect, r.DX, r.DY)
	}
}

func (p *Pipeline) encodeTiles(f Frame, tiles []image.Rectangle) []tilecodec.Result {
	results := make([]tilecodec.Result, len(tiles))
	p.pool.Dispatch(workerpool.Job{N: len(tiles), Func: func(wid, i int) {
		c := p.compByWkr[wid]
		r := tiles[i]
		t := tilecodec.Tile{
			CurX: r.Min.X, CurY: r.Min.Y, W: r.Dx(), H: r.Dy(),
			Cur: f.Pix, CurStride: f.Stride,
		}
		if p.mode == AlphaDeltaEnabled {
			// No scroll hypothesis here: applyScrollDetection already
			// shifted p.prev in place, so the dirty-tile encode always
			// samples both buffers at the same position.
			t.Prev, t.PrevStride = p.prev, p.prevStride
			t.PrevX, t.PrevY = r.Min.X, r.Min.Y
			res, _ := tilecodec.Adaptive(c, t)
			results[i] = res
			return
		}
		results[i] = tilecodec.DirectEncode(c, t)
	}})
	return results
}

// deliver assembles and writes the wire commands for each encoded tile,
// batching consecutive commands into a single transport write while the
// accumulated size stays under the connection's atomic-write unit. The
// outstanding-write bound is enforced by the caller before compression
// is dispatched, not here: by the time a frame's tiles are encoded and
// ready to write, holding the write back any further would only widen
// the window the compressed buffers sit in memory for no benefit.
func (p *Pipeline) deliver(tiles []image.Rectangle, results []tilecodec.Result) error {
	maxBatch := p.conn.MaxAtomicWrite() - 64
	if maxBatch < wire.LenLoadHeader+tilecodec.MaxTileBytes {
		maxBatch = wire.LenLoadHeader + tilecodec.MaxTileBytes
	}

	var batch []byte
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := p.conn.WriteRequest(p.fid, 0, batch); err != nil {
			return fmt.Errorf("pipeline: write batch: %w", err)
		}
		p.drn.Notify()
		batch = batch[:0]
		return nil
	}

	for i, r := range tiles {
		res := results[i]
		imgID := p.res.MainID
		if res.Tag == tilecodec.TagDelta {
			imgID = p.res.DeltaID
		}

		hdr := make([]byte, wire.LenLoadHeader)
		compressed := res.Tag != tilecodec.TagRaw
		n := wire.PutLoadHeader(hdr, compressed, imgID, r)
		cmdLen := n + res.Len
		if res.Tag == tilecodec.TagDelta {
			cmdLen += wire.LenComposite
		}

		if len(batch)+cmdLen > maxBatch {
			if err := flush(); err != nil {
				return err
			}
		}
		batch = append(batch, hdr[:n]...)
		batch = append(batch, res.Buf[:res.Len]...)

		if res.Tag == tilecodec.TagDelta {
			comp := make([]byte, wire.LenComposite)
			cn := wire.PutComposite(comp, p.res.MainID, p.res.DeltaID, p.res.DeltaID, r, r.Min, r.Min)
			batch = append(batch, comp[:cn]...)
		}
	}
	return flush()
}

// updateReference copies the newly-delivered tiles into the
// previous-frame reference so the next frame's diff is against what the
// remote side now actually displays.
func (p *Pipeline) updateReference(f Frame, tiles []image.Rectangle) {
	for _, r := range tiles {
		for row := r.Min.Y; row < r.Max.Y; row++ {
			curOff := row*f.Stride + r.Min.X*4
			prevOff := row*p.prevStride + r.Min.X*4
			w := r.Dx() * 4
			copy(p.prev[prevOff:prevOff+w], f.Pix[curOff:curOff+w])
		}
	}
}
