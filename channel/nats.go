package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// NATS is a channel that receives messages on a NATS subject and replies on
// each message's reply subject. The frame list travels msgpack-encoded in
// the message body.
type NATS struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	pending *nats.Msg
	ctx     context.Context
	cancel  context.CancelFunc
	logger  zerolog.Logger
}

// ConnectNATS opens a NATS channel subscribed to the given subject.
func ConnectNATS(url, name, subject string, logger zerolog.Logger) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("channel disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("channel reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect channel: %w", err)
	}

	sub, err := conn.SubscribeSync(subject)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to %q: %w", subject, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger.Debug().Str("subject", subject).Msg("channel subscribed")
	return &NATS{conn: conn, sub: sub, ctx: ctx, cancel: cancel, logger: logger}, nil
}

// Recv blocks until the next message arrives on the subject. Messages whose
// body does not decode to a frame list are dropped.
func (c *NATS) Recv() ([][]byte, error) {
	for {
		msg, err := c.sub.NextMsgWithContext(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return nil, ErrClosed
			}
			return nil, err
		}

		var frames [][]byte
		if err := msgpack.Unmarshal(msg.Data, &frames); err != nil {
			c.logger.Warn().Err(err).Msg("dropping message with invalid frame encoding")
			continue
		}
		c.pending = msg
		return frames, nil
	}
}

// Send publishes the reply to the reply subject of the message returned by
// the last Recv.
func (c *NATS) Send(frames [][]byte) error {
	if c.pending == nil || c.pending.Reply == "" {
		return fmt.Errorf("no reply subject for outbound message")
	}
	data, err := msgpack.Marshal(frames)
	if err != nil {
		return err
	}
	reply := c.pending.Reply
	c.pending = nil
	return c.conn.Publish(reply, data)
}

// Close drains the subscription and closes the connection.
func (c *NATS) Close() error {
	c.cancel()
	err := c.sub.Unsubscribe()
	c.conn.Close()
	return err
}
