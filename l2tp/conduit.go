package l2tp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"golang.org/x/sys/unix"
)

var errConduitClosed = errors.New("control conduit closed")

// Conduit reads operator commands from a named pipe.
//
// Each writer's session is read to its end before the pipe is reopened
// for the next writer, so a command written without a trailing newline
// is ended by the writer closing the pipe.
type Conduit struct {
	path   string
	logger log.Logger
	mu     sync.Mutex
	r      *os.File
	closed bool
}

// NewConduit creates the FIFO at path if it doesn't exist, and checks
// that it can be opened for reading.
func NewConduit(path string, logger log.Logger) (*Conduit, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	err := unix.Mkfifo(path, 0600)
	if err != nil && !errors.Is(err, unix.EEXIST) {
		return nil, fmt.Errorf("unable to create %v: %v", path, err)
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("unable to open %v for reading: %v", path, err)
	}
	unix.Close(fd)
	return &Conduit{
		path:   path,
		logger: logger,
	}, nil
}

// open waits for a writer to open the FIFO, and returns the read end.
func (cd *Conduit) open() (*os.File, error) {
	var fd int
	var err error
	for {
		fd, err = unix.Open(cd.path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("unable to open %v: %v", cd.path, err)
	}
	// Non-blocking reads go through the runtime poller, so Close can
	// interrupt them.
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("unable to open %v: %v", cd.path, err)
	}
	f := os.NewFile(uintptr(fd), cd.path)

	cd.mu.Lock()
	defer cd.mu.Unlock()
	if cd.closed {
		f.Close()
		return nil, errConduitClosed
	}
	cd.r = f
	return f, nil
}

func (cd *Conduit) release(f *os.File) {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	if cd.r == f {
		f.Close()
		cd.r = nil
	}
}

// wake releases a reader blocked waiting for a writer.
func (cd *Conduit) wake() {
	fd, err := unix.Open(cd.path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err == nil {
		unix.Close(fd)
	}
}

func deliver(ctx context.Context, lines chan<- string, line string) error {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil
	}
	select {
	case lines <- line:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readSession reads commands from one writer session.  Complete lines
// are delivered as they arrive; any unterminated text is delivered once
// the writer has gone and the read end is closed.
func (cd *Conduit) readSession(ctx context.Context, f *os.File, lines chan<- string) error {
	rd := bufio.NewReader(f)
	for {
		line, err := rd.ReadString('\n')
		if err == nil {
			if err := deliver(ctx, lines, line); err != nil {
				cd.release(f)
				return err
			}
			continue
		}
		cd.release(f)
		if err != io.EOF {
			if !errors.Is(err, os.ErrClosed) {
				level.Debug(cd.logger).Log(
					"message", "control conduit read failed",
					"error", err)
			}
			return nil
		}
		return deliver(ctx, lines, line)
	}
}

// Run reads commands until ctx is cancelled or the conduit is closed,
// sending each line to lines.
func (cd *Conduit) Run(ctx context.Context, lines chan<- string) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
			return
		}
		cd.Close()
		// Run may not have reached its blocking open when Close woke
		// it, so keep waking until it returns.
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				cd.wake()
			}
		}
	}()

	for {
		f, err := cd.open()
		if err != nil {
			if errors.Is(err, errConduitClosed) || ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := cd.readSession(ctx, f, lines); err != nil {
			return err
		}
	}
}

// Close closes the conduit.  The FIFO itself is left in place.
func (cd *Conduit) Close() error {
	cd.mu.Lock()
	if cd.closed {
		cd.mu.Unlock()
		return nil
	}
	cd.closed = true
	if cd.r != nil {
		cd.r.Close()
		cd.r = nil
	}
	cd.mu.Unlock()
	cd.wake()
	return nil
}
