package port

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket/afpacket"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"icc.tech/svcport/internal/log"
)

// AFPacketConfig configures the AF_PACKET-backed client.
type AFPacketConfig struct {
	Device       string
	SnapLen      int
	BufferSizeMB int
	TimeoutMs    int
}

type captureSession struct {
	handle *afpacket.TPacket

	mu     sync.Mutex
	queue  []Captured
	err    error
	closed bool
	done   chan struct{}
}

// AFPacketClient implements Client on a real Linux interface: TPacket v3
// rings for capture, SIOCSIFFLAGS for the promiscuous flag and a raw
// AF_PACKET socket for transmit.
type AFPacketClient struct {
	cfg     AFPacketConfig
	iface   *net.Interface
	txFD    int
	txAddr  *unix.SockaddrLinklayer
	mu      sync.Mutex
	logger  log.Logger
	streams map[string]*captureSession
}

// NewAFPacketClient opens the transmit socket and resolves the device. The
// calling process owns the interface from this point, which is what
// StateAcquired reports.
func NewAFPacketClient(cfg AFPacketConfig) (*AFPacketClient, error) {
	iface, err := net.InterfaceByName(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("resolve device %q: %w", cfg.Device, err)
	}

	proto := htons(unix.ETH_P_ALL)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(proto))
	if err != nil {
		return nil, fmt.Errorf("open raw socket on %q: %w", cfg.Device, err)
	}
	addr := &unix.SockaddrLinklayer{
		Protocol: proto,
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind raw socket to %q: %w", cfg.Device, err)
	}

	return &AFPacketClient{
		cfg:     cfg,
		iface:   iface,
		txFD:    fd,
		txAddr:  addr,
		logger:  log.GetLogger().WithField("device", cfg.Device),
		streams: make(map[string]*captureSession),
	}, nil
}

// Close stops all capture sessions and releases the transmit socket.
func (c *AFPacketClient) Close() error {
	c.mu.Lock()
	ids := make([]string, 0, len(c.streams))
	for id := range c.streams {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		_ = c.StopCapture(id)
	}
	return unix.Close(c.txFD)
}

func (c *AFPacketClient) Validate(port int, states ...State) error {
	iface, err := net.InterfaceByName(c.cfg.Device)
	if err != nil {
		return fmt.Errorf("port %d (%s): %w", port, c.cfg.Device, err)
	}
	for _, s := range states {
		switch s {
		case StateUp:
			if iface.Flags&net.FlagUp == 0 {
				return fmt.Errorf("port %d (%s) is not up", port, c.cfg.Device)
			}
		case StateAcquired, StateService:
			// Owning the raw socket is acquisition; nothing else
			// arbitrates service traffic on a plain interface.
		}
	}
	return nil
}

func (c *AFPacketClient) GetAttr(port int) (Attrs, error) {
	flags, err := c.ifFlags()
	if err != nil {
		return Attrs{}, fmt.Errorf("port %d: %w", port, err)
	}
	return Attrs{Promiscuous: flags&unix.IFF_PROMISC != 0}, nil
}

func (c *AFPacketClient) SetAttr(port int, attrs Attrs) error {
	flags, err := c.ifFlags()
	if err != nil {
		return fmt.Errorf("port %d: %w", port, err)
	}
	if attrs.Promiscuous {
		flags |= unix.IFF_PROMISC
	} else {
		flags &^= unix.IFF_PROMISC
	}

	ifr, err := unix.NewIfreq(c.cfg.Device)
	if err != nil {
		return fmt.Errorf("port %d: %w", port, err)
	}
	ifr.SetUint16(flags)
	if err := unix.IoctlIfreq(c.txFD, unix.SIOCSIFFLAGS, ifr); err != nil {
		return fmt.Errorf("port %d: set flags on %s: %w", port, c.cfg.Device, err)
	}
	return nil
}

func (c *AFPacketClient) StartCapture(port int, filter string) (string, error) {
	raw, err := CompileFilter(filter)
	if err != nil {
		return "", fmt.Errorf("port %d: %w", port, err)
	}

	frameSize, blockSize, numBlocks, err := recomputeSize(c.cfg.BufferSizeMB, c.cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return "", fmt.Errorf("port %d: %w", port, err)
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(c.cfg.Device),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(time.Duration(c.cfg.TimeoutMs)*time.Millisecond),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return "", fmt.Errorf("port %d: open ring on %s: %w", port, c.cfg.Device, err)
	}
	if raw != nil {
		if err := tp.SetBPF(raw); err != nil {
			tp.Close()
			return "", fmt.Errorf("port %d: attach filter %q: %w", port, filter, err)
		}
	}

	s := &captureSession{handle: tp, done: make(chan struct{})}
	id := uuid.NewString()
	c.mu.Lock()
	c.streams[id] = s
	c.mu.Unlock()

	go c.readLoop(id, s)

	c.logger.WithField("session", id).Debugf("capture started, filter %q", filter)
	return id, nil
}

// readLoop drains the ring into the session queue until the session closes.
func (c *AFPacketClient) readLoop(id string, s *captureSession) {
	defer close(s.done)
	for {
		data, ci, err := s.handle.ReadPacketData()
		if err != nil {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return
			}
			if errors.Is(err, afpacket.ErrTimeout) {
				s.mu.Unlock()
				continue
			}
			s.err = fmt.Errorf("capture %s: %w", id, err)
			s.mu.Unlock()
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.queue = append(s.queue, Captured{
			Data: append([]byte(nil), data...),
			TS:   ci.Timestamp,
		})
		s.mu.Unlock()
	}
}

func (c *AFPacketClient) StopCapture(id string) error {
	c.mu.Lock()
	s, ok := c.streams[id]
	if ok {
		delete(c.streams, id)
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.handle.Close()
	<-s.done

	c.logger.WithField("session", id).Debug("capture stopped")
	return nil
}

func (c *AFPacketClient) FetchCaptured(id string) ([]Captured, error) {
	c.mu.Lock()
	s, ok := c.streams[id]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := s.queue
	s.queue = nil
	return out, nil
}

func (c *AFPacketClient) Transmit(port int, payloads [][]byte, force bool) (time.Time, error) {
	for _, p := range payloads {
		if err := unix.Sendto(c.txFD, p, 0, c.txAddr); err != nil {
			return time.Time{}, fmt.Errorf("port %d: transmit on %s: %w", port, c.cfg.Device, err)
		}
	}
	return time.Now(), nil
}

func (c *AFPacketClient) ifFlags() (uint16, error) {
	ifr, err := unix.NewIfreq(c.cfg.Device)
	if err != nil {
		return 0, err
	}
	if err := unix.IoctlIfreq(c.txFD, unix.SIOCGIFFLAGS, ifr); err != nil {
		return 0, fmt.Errorf("get flags on %s: %w", c.cfg.Device, err)
	}
	return ifr.Uint16(), nil
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}
