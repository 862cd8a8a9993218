// Package transport wraps the embedded NATS bus used by Tool Dispatch for
// request/reply tool calls. It also names agent inbox and registry
// subjects; agent.send_message and agent.register only persist to storage
// and do not publish on them.
package transport

import (
	"encoding/json"
	"fmt"
	"time"

	nc "github.com/nats-io/nats.go"

	"github.com/cortex-mind/cortex/internal/cortexerr"
)

// Message is a received NATS message with its subject/reply/data.
type Message struct {
	Subject string
	Reply   string
	Data    []byte
}

// Client wraps a NATS connection with convenience pub/sub and
// request/reply helpers, plus reconnect logging.
type Client struct {
	conn     *nc.Conn
	clientID string
}

// NewClient connects to url and identifies itself as clientID (by
// convention, "dispatch" for the Tool Dispatch router, or
// "agent-{AgentId}" for a registered agent's own connection).
func NewClient(url string, clientID string) (*Client, error) {
	opts := []nc.Option{
		nc.Name(clientID),
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(conn *nc.Conn, err error) {
			if err != nil {
				fmt.Printf("[TRANSPORT] %s disconnected: %v\n", clientID, err)
			}
		}),
		nc.ReconnectHandler(func(conn *nc.Conn) {
			fmt.Printf("[TRANSPORT] %s reconnected to %s\n", clientID, conn.ConnectedUrl())
		}),
		nc.ClosedHandler(func(conn *nc.Conn) {
			fmt.Printf("[TRANSPORT] %s connection closed\n", clientID)
		}),
	}

	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, cortexerr.IO(err, "failed to connect to transport bus")
	}
	return &Client{conn: conn, clientID: clientID}, nil
}

// ClientID returns this connection's identity.
func (c *Client) ClientID() string { return c.clientID }

// Close closes the underlying connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// PublishJSON marshals v and publishes it to subject.
func (c *Client) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return cortexerr.Validation("failed to marshal message for %s: %v", subject, err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return cortexerr.IO(err, "failed to publish to %s", subject)
	}
	return nil
}

// Subscribe creates an asynchronous subscription on subject.
func (c *Client) Subscribe(subject string, handler func(Message)) (*nc.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, func(msg *nc.Msg) {
		handler(Message{Subject: msg.Subject, Reply: msg.Reply, Data: msg.Data})
	})
	if err != nil {
		return nil, cortexerr.IO(err, "failed to subscribe to %s", subject)
	}
	return sub, nil
}

// QueueSubscribe creates a load-balanced queue subscription, used by
// Tool Dispatch so multiple dispatch workers can share one subject.
func (c *Client) QueueSubscribe(subject, queue string, handler func(Message)) (*nc.Subscription, error) {
	sub, err := c.conn.QueueSubscribe(subject, queue, func(msg *nc.Msg) {
		handler(Message{Subject: msg.Subject, Reply: msg.Reply, Data: msg.Data})
	})
	if err != nil {
		return nil, cortexerr.IO(err, "failed to queue-subscribe to %s", subject)
	}
	return sub, nil
}

// RequestJSON marshals req, sends it to subject, and unmarshals the reply
// into resp, the request/reply half of the Tool Dispatch surface.
func (c *Client) RequestJSON(subject string, req, resp any, timeout time.Duration) error {
	data, err := json.Marshal(req)
	if err != nil {
		return cortexerr.Validation("failed to marshal request for %s: %v", subject, err)
	}
	msg, err := c.conn.Request(subject, data, timeout)
	if err != nil {
		if err == nc.ErrTimeout {
			return cortexerr.Timeout("tool request to %s timed out", subject)
		}
		return cortexerr.IO(err, "request to %s failed", subject)
	}
	if err := json.Unmarshal(msg.Data, resp); err != nil {
		return cortexerr.Storage(err, "failed to unmarshal response from %s", subject)
	}
	return nil
}

// Respond replies to an inbound request's Reply subject with a
// JSON-marshaled v.
func (c *Client) Respond(reply string, v any) error {
	if reply == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return cortexerr.Validation("failed to marshal response: %v", err)
	}
	if err := c.conn.Publish(reply, data); err != nil {
		return cortexerr.IO(err, "failed to publish reply to %s", reply)
	}
	return nil
}

// Flush blocks until every buffered outbound message reaches the server.
func (c *Client) Flush() error {
	if err := c.conn.Flush(); err != nil {
		return cortexerr.IO(err, "flush failed")
	}
	return nil
}
