package connect

import (
	"context"
	"time"

	"github.com/signalsfoundry/rti/message"
)

// MessageSender is the sending half of a connect.
type MessageSender interface {
	Send(message.Message) error
	Close()
}

// MessageReceiver is the receiving half of a connect.
type MessageReceiver interface {
	Receive(ctx context.Context) (message.Message, bool)
	ReceiveTimeout(d time.Duration) (message.Message, bool)
	TryReceive() (message.Message, bool)
	Empty() bool
	IsOpen() bool
	Close()
}

// MessageQueue carries messages in one direction. It satisfies both
// MessageSender and MessageReceiver.
type MessageQueue = Queue[message.Message]

// NewMessageQueue returns an open message queue.
func NewMessageQueue() *MessageQueue { return NewQueue[message.Message]() }

// Connect is one end of a bidirectional link.
type Connect struct {
	Sender   MessageSender
	Receiver MessageReceiver
}

// Close shuts both directions.
func (c *Connect) Close() {
	if c.Sender != nil {
		c.Sender.Close()
	}
	if c.Receiver != nil {
		c.Receiver.Close()
	}
}

// NewPipe returns the two ends of an in-process link: what one end sends
// the other receives.
func NewPipe() (*Connect, *Connect) {
	ab := NewMessageQueue()
	ba := NewMessageQueue()
	return &Connect{Sender: ab, Receiver: ba}, &Connect{Sender: ba, Receiver: ab}
}

// SenderFunc adapts a function to MessageSender. Close is a no-op.
type SenderFunc func(message.Message) error

func (f SenderFunc) Send(m message.Message) error { return f(m) }
func (f SenderFunc) Close()                       {}
