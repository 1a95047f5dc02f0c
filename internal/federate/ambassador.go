// Package federate is the federate side of the RTI: an Ambassador that
// talks to a server node over a connect, and the generic Federate that
// keeps the local view of one joined federation (time management,
// ownership, regions, declarations) and hands callbacks to the
// application.
package federate

import (
	"context"
	"errors"
	"time"

	"github.com/signalsfoundry/rti/internal/connect"
	"github.com/signalsfoundry/rti/internal/logging"
	"github.com/signalsfoundry/rti/kb"
	"github.com/signalsfoundry/rti/message"
	"github.com/signalsfoundry/rti/model"
)

// Ambassador owns the connect to a server node. Messages that arrive while
// a blocking call waits for its response are kept in order and handed out
// by the next receive.
type Ambassador struct {
	conn    *connect.Connect
	log     logging.Logger
	backlog []message.Message
	lost    bool
}

// NewAmbassador wraps conn. A nil logger discards output.
func NewAmbassador(conn *connect.Connect, log logging.Logger) *Ambassador {
	if log == nil {
		log = logging.Noop()
	}
	return &Ambassador{conn: conn, log: log}
}

// Connected reports whether the connect is still usable.
func (a *Ambassador) Connected() bool {
	return !a.lost && a.conn != nil && a.conn.Receiver.IsOpen()
}

// Close shuts the connect. The server resigns any federate still joined
// through it.
func (a *Ambassador) Close() {
	if a.conn != nil {
		a.conn.Close()
	}
	a.lost = true
}

func (a *Ambassador) send(m message.Message) error {
	if a.lost || a.conn == nil {
		return model.Errorf(model.NotConnected, "connect closed")
	}
	if err := a.conn.Sender.Send(m); err != nil {
		if errors.Is(err, connect.ErrClosed) {
			return model.Errorf(model.NotConnected, "connect closed")
		}
		return model.Errorf(model.RTIinternalError, "send %s: %v", m.Kind(), err)
	}
	return nil
}

// poll returns the next message without blocking.
func (a *Ambassador) poll() (message.Message, bool) {
	if len(a.backlog) > 0 {
		m := a.backlog[0]
		a.backlog[0] = nil
		a.backlog = a.backlog[1:]
		return m, true
	}
	if a.conn == nil {
		return nil, false
	}
	return a.conn.Receiver.TryReceive()
}

// receive waits at most d for the next message.
func (a *Ambassador) receive(d time.Duration) (message.Message, bool) {
	if m, ok := a.poll(); ok {
		return m, true
	}
	if a.conn == nil || d <= 0 {
		return nil, false
	}
	return a.conn.Receiver.ReceiveTimeout(d)
}

// await blocks until a message accepted by match arrives. Everything else
// is queued on the backlog.
func (a *Ambassador) await(ctx context.Context, match func(message.Message) bool) (message.Message, error) {
	for i, m := range a.backlog {
		if match(m) {
			a.backlog = append(a.backlog[:i], a.backlog[i+1:]...)
			return m, nil
		}
	}
	for {
		m, ok := a.conn.Receiver.Receive(ctx)
		if !ok {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			a.lost = true
			return nil, model.Errorf(model.NotConnected, "connect closed while waiting")
		}
		if match(m) {
			return m, nil
		}
		if lost, ok := m.(*message.ConnectionLost); ok {
			a.backlog = append(a.backlog, m)
			return nil, model.Errorf(model.NotConnected, "connection lost: %s", lost.Reason)
		}
		a.backlog = append(a.backlog, m)
	}
}

// request sends a correlated request and waits for its response.
func (a *Ambassador) request(ctx context.Context, id message.RequestID, m message.Message) (message.Response, error) {
	if err := a.send(m); err != nil {
		return nil, err
	}
	resp, err := a.await(ctx, func(m message.Message) bool {
		r, ok := m.(message.Response)
		return ok && r.ID() == id
	})
	if err != nil {
		return nil, err
	}
	return resp.(message.Response), nil
}

// CreateFederationExecution creates a federation from inline modules and
// catalogue designators. An empty time implementation selects
// HLAfloat64Time.
func (a *Ambassador) CreateFederationExecution(ctx context.Context, name, timeImplementation string, modules []*kb.Module, designators ...string) error {
	id := message.NewRequestID()
	resp, err := a.request(ctx, id, &message.CreateFederationExecutionRequest{
		Correlation:        message.Correlation{RequestID: id},
		Name:               name,
		TimeImplementation: timeImplementation,
		Modules:            modules,
		Designators:        designators,
	})
	if err != nil {
		return err
	}
	if err := resp.Failure(); err != nil {
		return err
	}
	a.log.Info(ctx, "federation created", logging.Federation(name))
	return nil
}

// DestroyFederationExecution removes a federation nobody is joined to.
func (a *Ambassador) DestroyFederationExecution(ctx context.Context, name string) error {
	id := message.NewRequestID()
	resp, err := a.request(ctx, id, &message.DestroyFederationExecutionRequest{
		Correlation: message.Correlation{RequestID: id},
		Name:        name,
	})
	if err != nil {
		return err
	}
	if err := resp.Failure(); err != nil {
		return err
	}
	a.log.Info(ctx, "federation destroyed", logging.Federation(name))
	return nil
}
