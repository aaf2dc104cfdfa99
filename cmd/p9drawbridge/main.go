// Command p9drawbridge bridges a local frame source to a remote drawing
// service speaking the p9draw frame-bridge protocol: it opens the
// transport, allocates the draw resources, and pumps stdin as a raw
// XRGB32 frame source until interrupted. It is the composition root for
// internal/core, playing the role golang.org/x/exp/shiny/driver/devdrawdriver's
// Main plays for the teacher: wiring a screen implementation together and
// handing control to a caller-supplied loop.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"image"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/driusan/p9drawbridge/internal/core"
	"github.com/driusan/p9drawbridge/internal/transport"
)

func main() {
	var (
		devicePath  = flag.String("device", "/dev/draw/1/data", "path to the remote drawing service's data file")
		procFD      = flag.String("procfd", "", "path to a /proc/$pid/fd-style listing for iounit discovery (optional)")
		fdPath      = flag.String("fdpath", "", "fd listing entry matching -device (required if -procfd is set)")
		fid         = flag.Uint("fid", 1, "fid to address write requests to")
		rootName    = flag.String("root-name", "/dev/winname", "name bound to resource id 0")
		width       = flag.Int("width", 1024, "frame width in pixels")
		height      = flag.Int("height", 768, "frame height in pixels")
		workers     = flag.Int("workers", 0, "worker pool size override (0 = default: max(1,min(16,NumCPU/2)))")
		alphaDelta  = flag.Bool("alpha-delta", true, "allow alpha-delta tile encoding once the reference frame exists")
		scrollDet   = flag.Bool("scroll-detect", true, "enable FFT phase-correlation scroll detection")
		logLevel    = flag.String("log-level", "info", "log level: debug, info, warn, error")
		frameStride = flag.Int("stride", 0, "bytes per row of the input stream (0 = width*4)")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "p9drawbridge: invalid -log-level %q: %v\n", *logLevel, err)
		os.Exit(2)
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	stride := *frameStride
	if stride == 0 {
		stride = *width * 4
	}

	rw, err := transport.OpenFile(*devicePath)
	if err != nil {
		log.Fatal().Err(err).Str("device", *devicePath).Msg("open remote drawing service")
	}

	c, err := core.Open(core.Config{
		RW:              rw,
		ProcFD:          *procFD,
		FDPath:          *fdPath,
		Fid:             uint32(*fid),
		RootName:        *rootName,
		Bounds:          image.Rect(0, 0, *width, *height),
		WorkerCount:     *workers,
		AlphaDelta:      *alphaDelta,
		ScrollDetection: *scrollDet,
		Log:             log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("open core")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go pumpFrames(os.Stdin, c, stride, *width, *height, log, done)

	select {
	case <-sig:
		log.Info().Msg("p9drawbridge: signal received, shutting down")
	case <-done:
		log.Info().Msg("p9drawbridge: frame source closed, shutting down")
	}

	if err := c.Close(); err != nil {
		log.Error().Err(err).Msg("p9drawbridge: close")
		os.Exit(1)
	}
}

// pumpFrames reads fixed-size raw XRGB32 frames from r and submits each to
// c, closing done when the source is exhausted or errors.
func pumpFrames(r io.Reader, c *core.Core, stride, w, h int, log zerolog.Logger, done chan<- struct{}) {
	defer close(done)
	br := bufio.NewReaderSize(r, stride*h)
	frameLen := stride * h
	buf := make([]byte, frameLen)
	for {
		if _, err := io.ReadFull(br, buf); err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				log.Error().Err(err).Msg("p9drawbridge: read frame")
			}
			return
		}
		c.EnqueueFrame(buf, stride, w, h)
		if err := c.Err(); err != nil {
			log.Warn().Err(err).Msg("p9drawbridge: recovered from remote error")
		}
	}
}
