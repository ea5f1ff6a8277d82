package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/henny/internal/feeder"
)

const (
	publishTimeout     = 5 * time.Second
	defaultBufferSize  = 100
	defaultClientID    = "henny"
	reconnectedEventID = "RECONNECTED"
)

// Config configures a RealPublisher.
type Config struct {
	Broker     string
	ClientID   string
	BufferSize int // messages kept while disconnected
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// disconnected are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client

	mu        sync.Mutex
	buffer    *ringBuffer
	commands  *CommandHandler
	connected bool
	everUp    bool
}

// NewRealPublisher creates a publisher for the given broker. The connection
// is established in the background; publishing never waits for it.
func NewRealPublisher(cfg Config) (*RealPublisher, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = defaultClientID
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	p := &RealPublisher{buffer: newRingBuffer(cfg.BufferSize)}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	p.client.Connect()
	return p, nil
}

// HandleCommands subscribes h to TopicCommands on every (re)connect.
func (p *RealPublisher) HandleCommands(h *CommandHandler) {
	p.mu.Lock()
	p.commands = h
	connected := p.connected
	p.mu.Unlock()

	if connected {
		p.subscribe(h)
	}
}

func (p *RealPublisher) subscribe(h *CommandHandler) {
	token := p.client.Subscribe(TopicCommands, 1, func(_ paho.Client, msg paho.Message) {
		payload := msg.Payload()
		// Handle waits for the control loop; keep paho's router free.
		go func() {
			reply := h.Handle(payload)
			if err := p.PublishReply(reply); err != nil {
				log.Printf("mqtt: reply %s: %v", reply.ID, err)
			}
		}()
	})
	if !token.WaitTimeout(publishTimeout) {
		log.Printf("mqtt: subscribe %s timeout", TopicCommands)
		return
	}
	if err := token.Error(); err != nil {
		log.Printf("mqtt: subscribe %s: %v", TopicCommands, err)
	}
}

func (p *RealPublisher) onConnect(_ paho.Client) {
	p.mu.Lock()
	p.connected = true
	reconnect := p.everUp
	p.everUp = true
	pending, dropped := p.buffer.drainAll()
	commands := p.commands
	p.mu.Unlock()

	log.Printf("mqtt: connected, replaying %d buffered messages", len(pending))
	if dropped > 0 {
		log.Printf("mqtt: %d messages dropped while disconnected", dropped)
	}

	// Paho handlers must not block on tokens; finish the work elsewhere.
	go func() {
		if commands != nil {
			p.subscribe(commands)
		}
		for _, m := range pending {
			if err := p.send(m); err != nil {
				log.Printf("mqtt: replay to %s: %v", m.topic, err)
			}
		}
		if reconnect {
			ev := SystemEvent{Timestamp: time.Now(), Event: reconnectedEventID}
			if err := p.PublishSystem(ev); err != nil {
				log.Printf("mqtt: publish %s: %v", reconnectedEventID, err)
			}
		}
	}()
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	log.Printf("mqtt: connection lost: %v", err)
}

// publish sends msg now or buffers it while disconnected.
func (p *RealPublisher) publish(msg bufferedMsg) error {
	p.mu.Lock()
	if !p.connected {
		p.buffer.push(msg)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.send(msg)
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Publish sends a feed event to the MQTT broker. It runs on the control loop
// and does not wait for the broker's acknowledgement; failures are logged.
func (p *RealPublisher) Publish(event feeder.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 1: feed events are the audit trail
	msg := bufferedMsg{topic: TopicEvents, payload: payload, qos: 1}

	p.mu.Lock()
	if !p.connected {
		p.buffer.push(msg)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			log.Printf("mqtt: publish %s %s: timeout", event.Type, event.ID)
			return
		}
		if err := token.Error(); err != nil {
			log.Printf("mqtt: publish %s %s: %v", event.Type, event.ID, err)
		}
	}()
	return nil
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

// PublishReply sends a command reply. Replies are not buffered: a requester
// that lost its connection will retry.
func (p *RealPublisher) PublishReply(reply CommandReply) error {
	payload, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("format reply: %w", err)
	}
	return p.send(bufferedMsg{topic: TopicReplies, payload: payload, qos: 1})
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// Dropped returns how many buffered messages were lost to overflow.
func (p *RealPublisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.droppedTotal()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
