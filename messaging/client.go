package messaging

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	amqp "github.com/rabbitmq/amqp091-go"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"robonav/config"
)

// MessageHandler receives raw payloads for a subscribed topic.
type MessageHandler func(topic string, payload []byte)

// Client is the unified messaging client (MQTT, Kafka or AMQP). Topics are
// written MQTT style ("a/b/c"); Kafka and AMQP see them dot separated.
type Client struct {
	mu       sync.RWMutex
	cfg      *config.MessagingConfig
	backend  string
	log      *zap.Logger
	handlers map[string]MessageHandler

	mqttConn mqtt.Client

	kafkaW      *kafkago.Writer
	kafkaR      []*kafkago.Reader
	kafkaCtx    context.Context
	kafkaCancel context.CancelFunc

	amqpConn *amqp.Connection
	amqpCh   *amqp.Channel
}

// NewClient creates a messaging client based on config.
func NewClient(cfg *config.MessagingConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:      cfg,
		backend:  cfg.Backend,
		log:      logger.Named("messaging"),
		handlers: make(map[string]MessageHandler),
	}
}

// Backend returns the configured backend name.
func (c *Client) Backend() string { return c.backend }

// Connect establishes the messaging connection.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.backend {
	case "mqtt":
		return c.connectMQTT()
	case "kafka":
		return c.connectKafka()
	case "amqp":
		return c.connectAMQP()
	default:
		return fmt.Errorf("unknown messaging backend: %s", c.backend)
	}
}

func (c *Client) connectMQTT() error {
	broker := fmt.Sprintf("tcp://%s:%d", c.cfg.MQTT.Broker, c.cfg.MQTT.Port)
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(c.cfg.MQTT.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(mqtt.Client) {
			c.log.Info("mqtt connected", zap.String("broker", broker))
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.log.Warn("mqtt connection lost", zap.Error(err))
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt connect: timeout to %s", broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.mqttConn = client
	return nil
}

func (c *Client) connectKafka() error {
	if len(c.cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}

	// Verify at least one broker is reachable
	var conn *kafkago.Conn
	var connErr error
	for _, broker := range c.cfg.Kafka.Brokers {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		conn, connErr = kafkago.DialContext(ctx, "tcp", broker)
		cancel()
		if connErr == nil {
			c.log.Info("kafka connected", zap.String("broker", broker))
			break
		}
	}
	if connErr != nil {
		return fmt.Errorf("kafka connect: %w", connErr)
	}
	c.ensureTopics(conn, dotted(c.cfg.StatusTopic), dotted(c.cfg.EventsTopic))
	conn.Close()

	c.kafkaW = &kafkago.Writer{
		Addr:                   kafkago.TCP(c.cfg.Kafka.Brokers...),
		Balancer:               &kafkago.LeastBytes{},
		RequiredAcks:           kafkago.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return nil
}

// ensureTopics creates Kafka topics if they don't already exist. Errors are
// logged, not returned: the broker may auto-create topics anyway.
func (c *Client) ensureTopics(conn *kafkago.Conn, topics ...string) {
	controller, err := conn.Controller()
	if err != nil {
		c.log.Warn("kafka: cannot find controller for topic creation", zap.Error(err))
		return
	}
	controllerAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	controllerConn, err := kafkago.Dial("tcp", controllerAddr)
	if err != nil {
		c.log.Warn("kafka: cannot connect to controller", zap.Error(err))
		return
	}
	defer controllerConn.Close()

	configs := make([]kafkago.TopicConfig, len(topics))
	for i, t := range topics {
		configs[i] = kafkago.TopicConfig{Topic: t, NumPartitions: 1, ReplicationFactor: 1}
	}
	if err := controllerConn.CreateTopics(configs...); err != nil {
		c.log.Warn("kafka: topic auto-create", zap.Error(err))
	}
}

func (c *Client) connectAMQP() error {
	conn, err := amqp.Dial(c.cfg.AMQP.URL)
	if err != nil {
		return fmt.Errorf("amqp connect: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(c.cfg.AMQP.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("amqp declare exchange %s: %w", c.cfg.AMQP.Exchange, err)
	}
	c.amqpConn = conn
	c.amqpCh = ch
	c.log.Info("amqp connected", zap.String("exchange", c.cfg.AMQP.Exchange))
	return nil
}

// Publish sends payload on topic.
func (c *Client) Publish(topic string, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.backend {
	case "mqtt":
		if c.mqttConn == nil || !c.mqttConn.IsConnected() {
			return fmt.Errorf("mqtt not connected")
		}
		token := c.mqttConn.Publish(topic, 1, false, payload)
		if !token.WaitTimeout(5 * time.Second) {
			return fmt.Errorf("mqtt publish %s: timeout", topic)
		}
		return token.Error()
	case "kafka":
		if c.kafkaW == nil {
			return fmt.Errorf("kafka writer not initialized")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return c.kafkaW.WriteMessages(ctx, kafkago.Message{Topic: dotted(topic), Value: payload})
	case "amqp":
		if c.amqpCh == nil || c.amqpCh.IsClosed() {
			return fmt.Errorf("amqp not connected")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return c.amqpCh.PublishWithContext(ctx, c.cfg.AMQP.Exchange, dotted(topic), false, false, amqp.Publishing{
			ContentType: "application/json",
			Body:        payload,
		})
	default:
		return fmt.Errorf("unknown backend: %s", c.backend)
	}
}

// PublishEnvelope encodes and publishes a protocol envelope to the given topic.
func (c *Client) PublishEnvelope(topic string, env interface{ Encode() ([]byte, error) }) error {
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return c.Publish(topic, data)
}

// Subscribe registers a handler for messages on topic.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler

	switch c.backend {
	case "mqtt":
		if c.mqttConn == nil {
			return fmt.Errorf("mqtt not connected")
		}
		token := c.mqttConn.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			handler(msg.Topic(), msg.Payload())
		})
		token.Wait()
		return token.Error()
	case "kafka":
		if c.kafkaW == nil {
			return fmt.Errorf("kafka not connected")
		}
		reader := kafkago.NewReader(kafkago.ReaderConfig{
			Brokers: c.cfg.Kafka.Brokers,
			Topic:   dotted(topic),
			GroupID: c.cfg.Kafka.GroupID,
		})
		c.kafkaR = append(c.kafkaR, reader)
		if c.kafkaCancel == nil {
			c.kafkaCtx, c.kafkaCancel = context.WithCancel(context.Background())
		}
		ctx := c.kafkaCtx
		go func() {
			for {
				msg, err := reader.ReadMessage(ctx)
				if err != nil {
					c.log.Debug("kafka reader stopped", zap.String("topic", topic), zap.Error(err))
					return
				}
				handler(topic, msg.Value)
			}
		}()
		return nil
	case "amqp":
		if c.amqpCh == nil {
			return fmt.Errorf("amqp not connected")
		}
		q, err := c.amqpCh.QueueDeclare("", false, true, true, false, nil)
		if err != nil {
			return fmt.Errorf("amqp declare queue: %w", err)
		}
		if err := c.amqpCh.QueueBind(q.Name, dotted(topic), c.cfg.AMQP.Exchange, false, nil); err != nil {
			return fmt.Errorf("amqp bind %s: %w", topic, err)
		}
		deliveries, err := c.amqpCh.Consume(q.Name, "", true, true, false, false, nil)
		if err != nil {
			return fmt.Errorf("amqp consume: %w", err)
		}
		go func() {
			for d := range deliveries {
				handler(topic, d.Body)
			}
		}()
		return nil
	default:
		return fmt.Errorf("unknown backend: %s", c.backend)
	}
}

// IsConnected returns whether the messaging client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.backend {
	case "mqtt":
		return c.mqttConn != nil && c.mqttConn.IsConnected()
	case "kafka":
		return c.kafkaW != nil
	case "amqp":
		return c.amqpConn != nil && !c.amqpConn.IsClosed()
	default:
		return false
	}
}

// Reconfigure closes the existing connection and reconnects with new config.
// Previously registered subscriptions are restored.
func (c *Client) Reconfigure(cfg *config.MessagingConfig) error {
	c.Close()
	c.mu.Lock()
	c.cfg = cfg
	c.backend = cfg.Backend
	handlers := make(map[string]MessageHandler, len(c.handlers))
	for k, v := range c.handlers {
		handlers[k] = v
	}
	c.mu.Unlock()

	if err := c.Connect(); err != nil {
		return err
	}
	for topic, handler := range handlers {
		if err := c.Subscribe(topic, handler); err != nil {
			c.log.Warn("re-subscribe after reconfigure", zap.String("topic", topic), zap.Error(err))
		}
	}
	return nil
}

// Close shuts down the messaging connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mqttConn != nil {
		c.mqttConn.Disconnect(1000)
		c.mqttConn = nil
	}
	if c.kafkaCancel != nil {
		c.kafkaCancel()
		c.kafkaCancel = nil
	}
	for _, r := range c.kafkaR {
		r.Close()
	}
	c.kafkaR = nil
	if c.kafkaW != nil {
		c.kafkaW.Close()
		c.kafkaW = nil
	}
	if c.amqpCh != nil {
		c.amqpCh.Close()
		c.amqpCh = nil
	}
	if c.amqpConn != nil {
		c.amqpConn.Close()
		c.amqpConn = nil
	}
}

// dotted maps an MQTT style topic to a Kafka topic / AMQP routing key.
// Characters Kafka rejects in topic names (MAC style tokens) become '_'.
func dotted(topic string) string {
	topic = strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		}
		return '_'
	}, topic)
}
