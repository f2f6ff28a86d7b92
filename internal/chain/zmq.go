package chain

import (
	"context"
	"fmt"
	"log/slog"

	zmq "github.com/pebbe/zmq4"
)

// TopicEpoch is the ZMQ topic carrying epoch boundary notifications.
const TopicEpoch = "epoch"

// ZMQNotifier subscribes to chain event notifications. An epoch notification
// triggers a registry resync, reward computation, and weight emission cycle.
type ZMQNotifier struct {
	socket   *zmq.Socket
	endpoint string
	logger   *slog.Logger
}

// NewZMQNotifier creates a new ZMQ notifier
func NewZMQNotifier(endpoint string, logger *slog.Logger) (*ZMQNotifier, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}

	return &ZMQNotifier{
		socket:   socket,
		endpoint: endpoint,
		logger:   logger,
	}, nil
}

// Subscribe subscribes to a specific topic
func (z *ZMQNotifier) Subscribe(topic string) error {
	if err := z.socket.SetSubscribe(topic); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}
	z.logger.Info("subscribed to ZMQ topic", "topic", topic)
	return nil
}

// Connect connects to the ZMQ endpoint
func (z *ZMQNotifier) Connect() error {
	if err := z.socket.Connect(z.endpoint); err != nil {
		return fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", z.endpoint, err)
	}
	z.logger.Info("connected to ZMQ endpoint", "endpoint", z.endpoint)
	return nil
}

// Listen starts listening for ZMQ messages
func (z *ZMQNotifier) Listen(ctx context.Context, handler func(topic string, data []byte) error) error {
	z.logger.Info("starting ZMQ listener")

	for {
		select {
		case <-ctx.Done():
			z.logger.Info("ZMQ listener stopping")
			return ctx.Err()
		default:
		}

		msg, err := z.socket.RecvMessageBytes(zmq.DONTWAIT)
		if err != nil {
			if err.Error() == "resource temporarily unavailable" {
				// No message available, continue
				continue
			}
			z.logger.Error("failed to receive ZMQ message", "error", err)
			continue
		}

		if len(msg) < 2 {
			z.logger.Warn("received malformed ZMQ message", "parts", len(msg))
			continue
		}

		topic := string(msg[0])
		data := msg[1]

		z.logger.Debug("received ZMQ message", "topic", topic, "size", len(data))

		if err := handler(topic, data); err != nil {
			z.logger.Error("failed to handle ZMQ message", "topic", topic, "error", err)
		}
	}
}

// Close closes the ZMQ socket
func (z *ZMQNotifier) Close() error {
	if z.socket != nil {
		return z.socket.Close()
	}
	return nil
}

// EpochHandler dispatches epoch notifications to a callback.
type EpochHandler struct {
	logger  *slog.Logger
	onEpoch func(payload []byte) error
}

// NewEpochHandler creates an epoch notification handler
func NewEpochHandler(logger *slog.Logger) *EpochHandler {
	return &EpochHandler{logger: logger}
}

// SetEpochHandler sets the callback for epoch notifications
func (h *EpochHandler) SetEpochHandler(handler func(payload []byte) error) {
	h.onEpoch = handler
}

// HandleMessage handles a ZMQ message
func (h *EpochHandler) HandleMessage(topic string, data []byte) error {
	switch topic {
	case TopicEpoch:
		h.logger.Info("epoch notification received", "size", len(data))
		if h.onEpoch != nil {
			return h.onEpoch(data)
		}
	default:
		h.logger.Debug("ignoring ZMQ message", "topic", topic)
	}

	return nil
}
