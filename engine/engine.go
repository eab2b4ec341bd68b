// Package engine is the explicit context object: it builds every component
// once, connects them through the EventBus and exposes the caller-facing
// operations.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"robonav/config"
	"robonav/devicestate"
	"robonav/door"
	"robonav/elevator"
	"robonav/messaging"
	"robonav/motion"
	"robonav/protocol"
	"robonav/registry"
	"robonav/store"
	"robonav/taskqueue"
)

type LogFunc func(format string, args ...any)

type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	DB         *store.DB
	Gateway    motion.Gateway
	MsgClient  messaging.Transport
	Redis      *devicestate.RedisStore
	Logger     *zap.Logger
}

type Engine struct {
	cfg        *config.Config
	configPath string
	db         *store.DB
	gw         motion.Gateway
	msgClient  messaging.Transport
	log        *zap.Logger
	root       *zap.Logger
	logFn      LogFunc
	now        func() time.Time

	reg       *registry.Registry
	devices   *messaging.DeviceGateway
	doors     *door.Monitor
	nav       *elevator.Navigator
	mover     *motion.Mover
	queue     *taskqueue.Queue
	devState  *devicestate.Manager
	drainer   *messaging.OutboxDrainer
	heartbeat *messaging.Heartbeater
	Events    *EventBus

	cancel context.CancelFunc
	wg     sync.WaitGroup

	healthMu         sync.Mutex
	gatewayConnected bool
	msgConnected     bool
}

func New(c Config) (*Engine, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := c.AppConfig
	e := &Engine{
		cfg:        cfg,
		configPath: c.ConfigPath,
		db:         c.DB,
		gw:         c.Gateway,
		msgClient:  c.MsgClient,
		log:        logger.Named("engine"),
		root:       logger,
		logFn:      logger.Sugar().Infof,
		now:        time.Now,
		reg:        registry.New(),
		Events:     NewEventBus(),
	}

	e.devices = messaging.NewDeviceGateway(c.MsgClient, cfg.Messaging.RobotID,
		cfg.Messaging.CommandPrefix, cfg.Messaging.StatusTopic, logger)
	e.doors = door.New(e.reg, e.devices, cfg.Door, logger)
	e.nav = elevator.New(e.reg, e.devices, c.Gateway, cfg.Navigator, logger)
	e.mover = motion.NewMover(c.Gateway)

	var persister taskqueue.Persister
	if c.DB != nil {
		persister = &taskStore{db: c.DB}
	}
	q, err := taskqueue.New(persister, cfg.Queue.PollInterval, logger)
	if err != nil {
		return nil, err
	}
	e.queue = q
	taskqueue.RegisterDefaultHandlers(q, taskqueue.Deps{
		Mover:           e.mover,
		Navigator:       e.nav,
		Doors:           e.doors,
		DoorOpenTimeout: cfg.Queue.DoorOpenTimeout,
	})

	var statusDB devicestate.StatusWriter
	if c.DB != nil {
		statusDB = c.DB
	}
	e.devState = devicestate.NewManager(e.reg, statusDB, c.Redis, logger)

	if c.DB != nil {
		e.drainer = messaging.NewOutboxDrainer(c.DB, c.MsgClient, cfg.Messaging.OutboxDrainInterval, logger)
	}
	e.heartbeat = messaging.NewHeartbeater(c.MsgClient, cfg.Messaging.RobotID, cfg.Messaging.EventsTopic,
		cfg.Messaging.HeartbeatInterval, e.heartbeatStatus, logger)

	e.doors.SetEmitter(&doorEmitter{bus: e.Events})
	e.nav.SetEmitter(&navigatorEmitter{bus: e.Events})
	e.queue.SetEmitter(&queueEmitter{bus: e.Events})
	return e, nil
}

func (e *Engine) Start() {
	e.wireEventHandlers()
	e.loadDevices()

	if err := e.devState.SyncFromRegistry(); err != nil {
		e.log.Warn("redis sync", zap.Error(err))
	}
	if err := e.queue.Load(); err != nil {
		e.log.Error("restore task queue", zap.Error(err))
	}

	e.gw.Start(&gatewayEmitter{bus: e.Events})
	if err := e.devices.Listen(e); err != nil {
		e.log.Error("subscribe device status", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	for _, run := range []func(context.Context){e.nav.Run, e.doors.Run, e.queue.Run, e.connectionHealthLoop} {
		e.wg.Add(1)
		go func(run func(context.Context)) {
			defer e.wg.Done()
			run(ctx)
		}(run)
	}

	if e.drainer != nil {
		e.drainer.Start()
	}
	e.heartbeat.Start()
	e.checkConnectionStatus()

	e.logFn("engine: started (gateway %s)", e.gw.Name())
}

func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.heartbeat.Stop()
	if e.drainer != nil {
		e.drainer.Stop()
	}
	e.gw.Stop()
	e.logFn("engine: stopped")
}

// Accessors
func (e *Engine) DB() *store.DB                      { return e.db }
func (e *Engine) AppConfig() *config.Config          { return e.cfg }
func (e *Engine) ConfigPath() string                 { return e.configPath }
func (e *Engine) Registry() *registry.Registry       { return e.reg }
func (e *Engine) Doors() *door.Monitor               { return e.doors }
func (e *Engine) Navigator() *elevator.Navigator     { return e.nav }
func (e *Engine) Queue() *taskqueue.Queue            { return e.queue }
func (e *Engine) DeviceState() *devicestate.Manager  { return e.devState }
func (e *Engine) Gateway() motion.Gateway            { return e.gw }
func (e *Engine) MsgClient() messaging.Transport     { return e.msgClient }
func (e *Engine) Logger() *zap.Logger                { return e.root }

func (e *Engine) heartbeatStatus() protocol.RobotHeartbeat {
	st := e.queue.Status()
	return protocol.RobotHeartbeat{
		RunningTask:  st.Running,
		PendingTasks: st.Counts[taskqueue.StatePending],
		SessionState: string(e.nav.State()),
	}
}

func (e *Engine) checkConnectionStatus() {
	e.healthMu.Lock()
	defer e.healthMu.Unlock()

	// Robot
	if err := e.gw.Ping(); err == nil {
		if !e.gatewayConnected {
			e.gatewayConnected = true
			e.Events.Emit(Event{Type: EventGatewayConnected, Payload: ConnectionEvent{Detail: e.gw.Name() + " connected"}})
		}
	} else {
		if e.gatewayConnected {
			e.gatewayConnected = false
			e.Events.Emit(Event{Type: EventGatewayDisconnected, Payload: ConnectionEvent{Detail: err.Error()}})
		}
	}

	// Messaging
	if e.msgClient.IsConnected() {
		if !e.msgConnected {
			e.msgConnected = true
			e.Events.Emit(Event{Type: EventMessagingConnected, Payload: ConnectionEvent{Detail: "messaging connected"}})
		}
	} else {
		if e.msgConnected {
			e.msgConnected = false
			e.Events.Emit(Event{Type: EventMessagingDisconnected, Payload: ConnectionEvent{Detail: "messaging disconnected"}})
		}
	}
}

// Connected reports the last observed robot and messaging connectivity.
func (e *Engine) Connected() (gateway, msg bool) {
	e.healthMu.Lock()
	defer e.healthMu.Unlock()
	return e.gatewayConnected, e.msgConnected
}

func (e *Engine) connectionHealthLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.checkConnectionStatus()
		}
	}
}
