package robot

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StreamHandler receives decoded frames from the topic stream. Calls come
// from the stream's reader goroutine.
type StreamHandler interface {
	OnPose(p Pose)
	OnMoveEvent(ev MoveEvent)
}

// Stream keeps a WebSocket connection to the robot's topic stream open,
// reconnecting after reconnectDelay whenever it drops.
type Stream struct {
	url            string
	reconnectDelay time.Duration
	handler        StreamHandler
	log            *zap.Logger
	dialer         *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
	started   atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func NewStream(url string, reconnectDelay time.Duration, h StreamHandler, logger *zap.Logger) *Stream {
	if reconnectDelay <= 0 {
		reconnectDelay = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{
		url:            url,
		reconnectDelay: reconnectDelay,
		handler:        h,
		log:            logger.Named("stream"),
		dialer:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		stopCh:         make(chan struct{}),
		done:           make(chan struct{}),
	}
}

func (s *Stream) Start() {
	if s.started.Swap(true) {
		return
	}
	go s.run()
}

// Stop closes the connection and waits for the reader to exit.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Unlock()
	})
	if s.started.Load() {
		<-s.done
	}
}

func (s *Stream) IsConnected() bool { return s.connected.Load() }

func (s *Stream) run() {
	defer close(s.done)
	for {
		conn, _, err := s.dialer.Dial(s.url, nil)
		if err != nil {
			s.log.Warn("dial failed", zap.String("url", s.url), zap.Error(err))
		} else {
			s.mu.Lock()
			select {
			case <-s.stopCh:
				s.mu.Unlock()
				conn.Close()
				return
			default:
			}
			s.conn = conn
			s.mu.Unlock()

			s.connected.Store(true)
			s.log.Info("connected", zap.String("url", s.url))
			s.readLoop(conn)
			s.connected.Store(false)

			s.mu.Lock()
			s.conn = nil
			s.mu.Unlock()
		}

		select {
		case <-s.stopCh:
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *Stream) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
			default:
				s.log.Warn("read failed", zap.Error(err))
			}
			return
		}
		s.dispatch(data)
	}
}

func (s *Stream) dispatch(data []byte) {
	var hdr frameHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		s.log.Debug("bad frame", zap.Error(err))
		return
	}
	switch hdr.Topic {
	case TopicPose:
		var p Pose
		if err := json.Unmarshal(data, &p); err != nil {
			s.log.Debug("bad pose frame", zap.Error(err))
			return
		}
		s.handler.OnPose(p)
	case TopicMoveEvent:
		var ev MoveEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.ID == "" {
			s.log.Debug("bad move_event frame", zap.ByteString("data", data))
			return
		}
		s.handler.OnMoveEvent(ev)
	}
}
