//go:build unix

package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/localvec/codec"
)

// Compile time check to ensure Socket satisfies the Broadcaster interface.
var _ Broadcaster = (*Socket)(nil)

const (
	socketSuffix = ".sock"
	maxDatagram  = 64 << 10
	sendTimeout  = 50 * time.Millisecond
)

// SocketOptions configures a Socket broadcaster.
type SocketOptions struct {
	Options

	// Logger receives delivery failures.
	Logger *slog.Logger
}

// Socket fans events out to every process that bound a unix datagram
// socket in a shared directory. Events published here are delivered to
// local subscribers too.
type Socket struct {
	dir    string
	id     string
	conn   *net.UnixConn
	hub    *Local
	logger *slog.Logger
	codec  codec.Codec

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewSocket binds a socket in dir and starts receiving.
func NewSocket(dir string, optFns ...func(o *SocketOptions)) (*Socket, error) {
	opts := SocketOptions{Options: DefaultOptions}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("broadcast: create directory: %w", err)
	}

	id := uuid.NewString()
	path := filepath.Join(dir, id+socketSuffix)

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("broadcast: listen %s: %w", path, err)
	}

	s := &Socket{
		dir:    dir,
		id:     id,
		conn:   conn,
		hub:    NewLocal(func(o *Options) { *o = opts.Options }),
		logger: opts.Logger,
		codec:  codec.JSON{},
	}

	s.wg.Add(1)

	go s.receive()

	return s, nil
}

// ID returns the socket identity. It doubles as a default event origin.
func (s *Socket) ID() string { return s.id }

func (s *Socket) path() string { return filepath.Join(s.dir, s.id+socketSuffix) }

func (s *Socket) receive() {
	defer s.wg.Done()

	buf := make([]byte, maxDatagram)

	for {
		n, _, err := s.conn.ReadFromUnix(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			s.logger.Warn("broadcast receive failed", "error", err)

			continue
		}

		var e Event
		if err := s.codec.Unmarshal(buf[:n], &e); err != nil {
			s.logger.Warn("broadcast message dropped", "error", err)
			continue
		}

		_ = s.hub.Publish(context.Background(), e)
	}
}

// Publish delivers e locally and sends it to every peer socket.
func (s *Socket) Publish(ctx context.Context, e Event) error {
	if err := s.hub.Publish(ctx, e); err != nil {
		return err
	}

	data, err := s.codec.Marshal(e)
	if err != nil {
		return fmt.Errorf("broadcast: encode event: %w", err)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("broadcast: list peers: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, socketSuffix) || name == s.id+socketSuffix {
			continue
		}

		peer := filepath.Join(s.dir, name)

		_ = s.conn.SetWriteDeadline(time.Now().Add(sendTimeout))

		_, err := s.conn.WriteToUnix(data, &net.UnixAddr{Name: peer, Net: "unixgram"})
		if err == nil {
			continue
		}

		if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT) {
			// Nobody is bound any more; the peer crashed.
			_ = os.Remove(peer)
			continue
		}

		// A full peer queue loses the event, like a full channel.
		s.logger.Debug("broadcast send failed", "peer", peer, "error", err)
	}

	return nil
}

// Subscribe registers a local subscriber.
func (s *Socket) Subscribe(collectionID string) (<-chan Event, func()) {
	return s.hub.Subscribe(collectionID)
}

// Dropped returns the number of events lost to full local buffers.
func (s *Socket) Dropped() uint64 { return s.hub.Dropped() }

// Close unbinds the socket and closes every subscriber.
func (s *Socket) Close() error {
	var err error

	s.closeOnce.Do(func() {
		err = s.conn.Close()
		s.wg.Wait()

		_ = os.Remove(s.path())
		_ = s.hub.Close()
	})

	return err
}
