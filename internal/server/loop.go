package server

import (
	"context"
	"errors"
	"slices"

	"github.com/signalsfoundry/rti/internal/connect"
	"github.com/signalsfoundry/rti/internal/logging"
	"github.com/signalsfoundry/rti/message"
	"github.com/signalsfoundry/rti/model"
)

// ErrStopped is returned when the loop no longer accepts work.
var ErrStopped = errors.New("server loop stopped")

// Loop serialises all access to a Node on one goroutine. Each attached
// connect gets a pump goroutine that feeds its messages into the loop.
type Loop struct {
	node  *Node
	inbox *connect.Queue[func()]
}

// NewLoop wraps node. Call Run to start processing.
func NewLoop(node *Node) *Loop {
	return &Loop{node: node, inbox: connect.NewQueue[func()]()}
}

// Node returns the wrapped node. Only touch it from inside Do.
func (l *Loop) Node() *Node { return l.node }

// Run processes work until ctx ends, then erases every connect.
func (l *Loop) Run(ctx context.Context) error {
	l.node.log.Info(ctx, "server loop started")
	for {
		fn, ok := l.inbox.Receive(ctx)
		if !ok {
			break
		}
		fn()
	}
	l.inbox.Close()

	handles := make([]model.ConnectHandle, 0, len(l.node.connects))
	for h := range l.node.connects {
		handles = append(handles, h)
	}
	slices.Sort(handles)
	for _, h := range handles {
		if l.node.HasConnect(h) {
			l.node.EraseConnect(h)
		}
	}
	l.node.log.Info(context.Background(), "server loop stopped")
	return ctx.Err()
}

// Do runs fn on the loop goroutine and waits for it.
func (l *Loop) Do(ctx context.Context, fn func(*Node)) error {
	done := make(chan struct{})
	if err := l.inbox.Send(func() {
		defer close(done)
		fn(l.node)
	}); err != nil {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-l.inbox.Done():
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// linkSender closes the inbound half together with the outbound half so
// the pump of an erased connect ends.
type linkSender struct {
	connect.MessageSender
	recv connect.MessageReceiver
}

func (s linkSender) Close() {
	s.MessageSender.Close()
	s.recv.Close()
}

// Attach registers a downstream connect and starts pumping its messages.
func (l *Loop) Attach(ctx context.Context, c *connect.Connect, clientOptions map[string][]string) (model.ConnectHandle, error) {
	return l.attach(ctx, c, clientOptions, false)
}

// AttachParent registers the upstream connect.
func (l *Loop) AttachParent(ctx context.Context, c *connect.Connect, parentOptions map[string][]string) (model.ConnectHandle, error) {
	return l.attach(ctx, c, parentOptions, true)
}

func (l *Loop) attach(ctx context.Context, c *connect.Connect, opts map[string][]string, parent bool) (model.ConnectHandle, error) {
	var h model.ConnectHandle
	sender := linkSender{MessageSender: c.Sender, recv: c.Receiver}
	err := l.Do(ctx, func(n *Node) {
		if parent {
			h = n.InsertParentConnect(sender, opts)
		} else {
			h = n.InsertConnect(sender, opts)
		}
	})
	if err != nil {
		return 0, err
	}
	go l.pump(h, c.Receiver)
	return h, nil
}

// Connect opens an in-process link to the node and returns the far end.
func (l *Loop) Connect(ctx context.Context, clientOptions map[string][]string) (*connect.Connect, error) {
	near, far := connect.NewPipe()
	if _, err := l.Attach(ctx, near, clientOptions); err != nil {
		return nil, err
	}
	return far, nil
}

// ConnectParent links this loop's node below parent in process.
func (l *Loop) ConnectParent(ctx context.Context, parent *Loop, options map[string][]string) error {
	near, far := connect.NewPipe()
	if _, err := parent.Attach(ctx, far, options); err != nil {
		return err
	}
	_, err := l.AttachParent(ctx, near, options)
	return err
}

func (l *Loop) pump(h model.ConnectHandle, recv connect.MessageReceiver) {
	for {
		msg, ok := recv.Receive(context.Background())
		if !ok {
			break
		}
		m := msg
		if err := l.inbox.Send(func() { l.dispatch(h, m) }); err != nil {
			return
		}
	}
	_ = l.inbox.Send(func() {
		if l.node.HasConnect(h) {
			l.node.log.Debug(context.Background(), "connect closed by peer", logging.Connect(h))
			l.node.EraseConnect(h)
		}
	})
}

func (l *Loop) dispatch(h model.ConnectHandle, m message.Message) {
	if !l.node.HasConnect(h) {
		return
	}
	_ = l.node.DispatchMessage(m, h)
}
