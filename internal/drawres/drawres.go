// Package drawres manages the small set of remote image resources the
// bridge keeps allocated for the lifetime of a session: the main visible
// image, the alpha-delta overlay image used for delta composites, and the
// name-bound root window image the main image is ultimately composited
// onto. It mirrors the allocate/reattach/free bookkeeping of
// golang.org/x/exp/shiny/driver/devdrawdriver's screenImpl, generalized
// from a single fixed window to a resizable one and backed by
// internal/wire + internal/transport instead of a raw Plan 9 fd.
package drawres

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/driusan/p9drawbridge/internal/tilecodec"
	"github.com/driusan/p9drawbridge/internal/wire"
)

// nameCacheSize bounds the LRU of name -> image ID bindings kept across
// reconnects, so a flapping link doesn't re-issue a name-lookup for every
// window the session has ever attached to.
const nameCacheSize = 64

// Conn is the subset of *transport.Conn the resource manager needs.
type Conn interface {
	WriteRequest(fid uint32, offset uint64, data []byte) (uint16, error)
	MaxAtomicWrite() int
}

// Notifier is the subset of *drain.Drain the resource manager needs: every
// WriteRequest this package issues is pipelined exactly like a pipeline
// tile write, so it must be paired with a Notify call or the drain loop's
// pending count falls out of sync with the responses actually in flight.
type Notifier interface {
	Notify()
}

// Resources holds the image IDs the send thread composites against. Mu
// guards them while allocate, Resize and Close update them; the pipeline
// reads MainID and DeltaID without taking Mu.
type Resources struct {
	Mu sync.Mutex

	RootID  uint32
	MainID  uint32
	DeltaID uint32

	Bounds image.Rectangle
	// BorderFill is a flat-color image the size of Bounds rounded down to
	// the tile grid, recomputed by tileAlignedBorder on every allocation.
	BorderFill *image.RGBA

	nextID uint32
	names  *lru.Cache

	conn Conn
	drn  Notifier
	fid  uint32
	log  zerolog.Logger
}

// New binds image id 0 (the root) to rootName via a name-lookup command
// and allocates the main and delta images sized to bounds. drn is notified
// once per WriteRequest this package issues.
func New(conn Conn, drn Notifier, fid uint32, rootName string, bounds image.Rectangle, log zerolog.Logger) (*Resources, error) {
	cache, err := lru.New(nameCacheSize)
	if err != nil {
		return nil, fmt.Errorf("drawres: new cache: %w", err)
	}
	r := &Resources{
		conn:   conn,
		drn:    drn,
		fid:    fid,
		names:  cache,
		nextID: 1,
		log:    log,
	}
	if err := r.bindName(rootName, 0); err != nil {
		return nil, err
	}
	r.RootID = 0
	if err := r.allocate(bounds); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Resources) allocID() uint32 {
	id := r.nextID
	r.nextID++
	return id
}

// bindName issues a name-lookup command binding id to name, caching the
// result so a later call with the same name skips the round-trip.
func (r *Resources) bindName(name string, id uint32) error {
	if cached, ok := r.names.Get(name); ok {
		_ = cached // bound previously; nothing to send
		return nil
	}
	buf := make([]byte, 6+len(name))
	n, err := wire.PutNameLookup(buf, id, name)
	if err != nil {
		return fmt.Errorf("drawres: name lookup %q: %w", name, err)
	}
	if _, err := r.conn.WriteRequest(r.fid, 0, buf[:n]); err != nil {
		return fmt.Errorf("drawres: send name lookup: %w", err)
	}
	r.drn.Notify()
	r.names.Add(name, id)
	return nil
}

func (r *Resources) allocate(bounds image.Rectangle) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	mainID := r.allocID()
	deltaID := r.allocID()

	buf := make([]byte, wire.LenAllocImage)
	n := wire.PutAllocImage(buf, mainID, 0, 0, wire.ChannelXRGB32, 32, false, bounds, bounds, color.Black)
	if _, err := r.conn.WriteRequest(r.fid, 0, buf[:n]); err != nil {
		return fmt.Errorf("drawres: alloc main image: %w", err)
	}
	r.drn.Notify()

	n = wire.PutAllocImage(buf, deltaID, 0, 0, wire.ChannelARGB32, 32, false, bounds, bounds, color.Transparent)
	if _, err := r.conn.WriteRequest(r.fid, 0, buf[:n]); err != nil {
		return fmt.Errorf("drawres: alloc delta image: %w", err)
	}
	r.drn.Notify()

	r.MainID = mainID
	r.DeltaID = deltaID
	r.Bounds = bounds
	r.BorderFill = tileAlignedBorder(bounds, tilecodec.TileSize, color.Black)
	r.log.Info().Int("main", int(mainID)).Int("delta", int(deltaID)).Str("bounds", bounds.String()).
		Str("border", r.BorderFill.Bounds().String()).
		Msg("drawres: allocated images")
	return nil
}

// Resize frees the current main and delta images and reallocates them at
// the new bounds. Mu is held while the old IDs are read and while
// allocate installs the new ones, not while the free commands are sent.
// Callers must ensure the drain loop is paused (internal/drain.Pause)
// before calling Resize, matching the teacher's
// ReallocScreen-under-reattach sequencing.
func (r *Resources) Resize(bounds image.Rectangle) error {
	r.Mu.Lock()
	oldMain, oldDelta := r.MainID, r.DeltaID
	r.Mu.Unlock()

	buf := make([]byte, wire.LenFreeImage)
	for _, id := range []uint32{oldMain, oldDelta} {
		n := wire.PutFreeImage(buf, id)
		if _, err := r.conn.WriteRequest(r.fid, 0, buf[:n]); err != nil {
			return fmt.Errorf("drawres: free image %d: %w", id, err)
		}
		r.drn.Notify()
	}
	return r.allocate(bounds)
}

// RecoverUnknownID re-binds the root name and reallocates the main and
// delta images from scratch, used when the drain loop observes an
// "unknown id" error indicating the remote side's resource table and the
// bridge's have diverged (e.g. after a remote restart).
func (r *Resources) RecoverUnknownID(rootName string) error {
	r.names.Remove(rootName)
	if err := r.bindName(rootName, 0); err != nil {
		return err
	}
	r.Mu.Lock()
	bounds := r.Bounds
	r.Mu.Unlock()
	return r.allocate(bounds)
}

// Close frees the main and delta images.
func (r *Resources) Close() error {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	buf := make([]byte, wire.LenFreeImage)
	for _, id := range []uint32{r.MainID, r.DeltaID} {
		n := wire.PutFreeImage(buf, id)
		if _, err := r.conn.WriteRequest(r.fid, 0, buf[:n]); err != nil {
			return fmt.Errorf("drawres: free image %d: %w", id, err)
		}
		r.drn.Notify()
	}
	return nil
}
