package messaging

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"robonav/protocol"
)

// StatusFunc reports the current robot-level status for a heartbeat.
type StatusFunc func() protocol.RobotHeartbeat

// Heartbeater publishes robot.heartbeat on the events topic periodically.
type Heartbeater struct {
	client    Publisher
	robotID   string
	topic     string
	interval  time.Duration
	status    StatusFunc
	log       *zap.Logger
	startTime time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewHeartbeater(client Publisher, robotID, eventsTopic string, interval time.Duration, status StatusFunc, logger *zap.Logger) *Heartbeater {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Heartbeater{
		client:   client,
		robotID:  robotID,
		topic:    eventsTopic,
		interval: interval,
		status:   status,
		log:      logger.Named("heartbeat"),
		stopCh:   make(chan struct{}),
	}
}

// Start sends an initial heartbeat and begins the loop.
func (h *Heartbeater) Start() {
	h.startTime = time.Now()
	h.send()
	go h.loop()
}

// Stop halts the heartbeat loop.
func (h *Heartbeater) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

func (h *Heartbeater) send() {
	if !h.client.IsConnected() {
		return
	}
	hb := protocol.RobotHeartbeat{}
	if h.status != nil {
		hb = h.status()
	}
	hb.RobotID = h.robotID
	hb.Uptime = int64(time.Since(h.startTime).Seconds())

	env, err := protocol.NewEnvelope(protocol.TypeRobotHeartbeat,
		protocol.Address{Role: protocol.RoleRobot, Node: h.robotID},
		protocol.Address{Role: protocol.RoleMonitor},
		&hb,
	)
	if err != nil {
		h.log.Warn("build heartbeat", zap.Error(err))
		return
	}
	data, err := env.Encode()
	if err != nil {
		h.log.Warn("encode heartbeat", zap.Error(err))
		return
	}
	if err := h.client.Publish(h.topic, data); err != nil {
		h.log.Warn("send heartbeat", zap.Error(err))
	}
}

func (h *Heartbeater) loop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.send()
		}
	}
}
