package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/test/bufconn"

	"github.com/signalsfoundry/rti/internal/connect"
	"github.com/signalsfoundry/rti/internal/federate"
	"github.com/signalsfoundry/rti/internal/logging"
	"github.com/signalsfoundry/rti/internal/server"
	"github.com/signalsfoundry/rti/kb"
	"github.com/signalsfoundry/rti/message"
	"github.com/signalsfoundry/rti/model"
	"github.com/signalsfoundry/rti/timectrl"
)

type (
	clock = timectrl.Float64Time
	span  = timectrl.Float64Interval
)

func greetingModule() *kb.Module {
	return &kb.Module{
		Name:               "greetings",
		InteractionClasses: []kb.InteractionClassDef{{Name: "Greeting", Parameters: []string{"Text"}}},
	}
}

func startLoop(t *testing.T, name string) *server.Loop {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	l := server.NewLoop(server.NewNode(logging.Noop(), server.WithName(name)))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l
}

// recordingAttacher remembers what each attached stream carried.
type recordingAttacher struct {
	*server.Loop

	mu       sync.Mutex
	handles  []model.ConnectHandle
	options  []map[string][]string
	requests []string
}

func (r *recordingAttacher) Attach(ctx context.Context, c *connect.Connect, opts map[string][]string) (model.ConnectHandle, error) {
	h, err := r.Loop.Attach(ctx, c, opts)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles = append(r.handles, h)
	r.options = append(r.options, opts)
	r.requests = append(r.requests, logging.RequestIDFromContext(ctx))
	return h, err
}

func (r *recordingAttacher) attached() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

func (r *recordingAttacher) handle(i int) model.ConnectHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[i]
}

// serve exposes a over an in-memory listener and returns a client for it.
func serve(t *testing.T, a Attacher) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := NewServer(a, logging.Noop())
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	c, err := Dial("passthrough:///bufnet", logging.Noop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func ambassador(t *testing.T, c *Client) *federate.Ambassador {
	t.Helper()
	conn, err := c.Connect(context.Background(), nil)
	require.NoError(t, err)
	amb := federate.NewAmbassador(conn, logging.Noop())
	t.Cleanup(amb.Close)
	return amb
}

func TestCodecRoundTripsEnvelope(t *testing.T) {
	c := encoding.GetCodec(CodecName)
	require.NotNil(t, c)

	in, err := message.Seal(&message.CreateFederationExecutionRequest{Name: "fed", TimeImplementation: model.HLAfloat64Time})
	require.NoError(t, err)
	data, err := c.Marshal(in)
	require.NoError(t, err)

	var out message.Envelope
	require.NoError(t, c.Unmarshal(data, &out))
	m, err := out.Open()
	require.NoError(t, err)
	req, ok := m.(*message.CreateFederationExecutionRequest)
	require.True(t, ok)
	require.Equal(t, "fed", req.Name)
	require.Equal(t, model.HLAfloat64Time, req.TimeImplementation)

	_, err = c.Marshal("not an envelope")
	require.Error(t, err)
}

func TestInteractionCrossesStreams(t *testing.T) {
	c := serve(t, startLoop(t, "root"))
	ctx := context.Background()

	require.NoError(t, ambassador(t, c).CreateFederationExecution(ctx, "fed", "", []*kb.Module{greetingModule()}))

	var got []string
	cb := federate.Callbacks[clock]{
		ReceiveInteraction: func(r federate.Receipt[clock]) { got = append(got, string(r.Tag)) },
	}
	sub, err := federate.Join[clock, span](ctx, ambassador(t, c), timectrl.Float64Factory{}, "fed", "sub", "test", cb)
	require.NoError(t, err)
	pub, err := federate.Join[clock, span](ctx, ambassador(t, c), timectrl.Float64Factory{}, "fed", "pub", "test", federate.Callbacks[clock]{})
	require.NoError(t, err)

	greeting, err := sub.ObjectModel().InteractionClassByName("Greeting")
	require.NoError(t, err)
	require.NoError(t, sub.SubscribeInteractionClass(greeting))
	require.NoError(t, pub.PublishInteractionClass(greeting))

	// The subscription travels on another stream, so resend until it lands.
	deadline := time.Now().Add(3 * time.Second)
	for len(got) == 0 && time.Now().Before(deadline) {
		require.NoError(t, pub.SendInteraction(greeting, nil, []byte("hello")))
		_, err := pub.Tick(5 * time.Millisecond)
		require.NoError(t, err)
		_, err = sub.Tick(20 * time.Millisecond)
		require.NoError(t, err)
	}
	require.NotEmpty(t, got)
	require.Equal(t, "hello", got[0])

	require.NoError(t, pub.ResignFederationExecution(ctx, model.ResignNoAction))
	require.NoError(t, sub.ResignFederationExecution(ctx, model.ResignNoAction))
	require.NoError(t, ambassador(t, c).DestroyFederationExecution(ctx, "fed"))
}

func TestOptionsAndRequestIDReachNode(t *testing.T) {
	rec := &recordingAttacher{Loop: startLoop(t, "root")}
	c := serve(t, rec)

	ctx := logging.ContextWithRequestID(context.Background(), "req-42")
	conn, err := c.Connect(ctx, map[string][]string{"Federate-Type": {"viewer", "logger"}})
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return rec.attached() == 1 }, 3*time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	require.Equal(t, map[string][]string{"federate-type": {"viewer", "logger"}}, rec.options[0])
	require.Equal(t, "req-42", rec.requests[0])
	rec.mu.Unlock()

	h := rec.handle(0)
	var opts map[string][]string
	require.NoError(t, rec.Do(context.Background(), func(n *server.Node) { opts = n.ConnectOptions(h) }))
	require.Equal(t, []string{"viewer", "logger"}, opts["federate-type"])
}

func TestClosingClientConnectErasesServerConnect(t *testing.T) {
	rec := &recordingAttacher{Loop: startLoop(t, "root")}
	c := serve(t, rec)

	amb := ambassador(t, c)
	require.NoError(t, amb.CreateFederationExecution(context.Background(), "fed", "", []*kb.Module{greetingModule()}))
	require.Equal(t, 1, rec.attached())
	h := rec.handle(0)

	amb.Close()
	require.Eventually(t, func() bool {
		var present bool
		_ = rec.Do(context.Background(), func(n *server.Node) { present = n.HasConnect(h) })
		return !present
	}, 3*time.Second, 5*time.Millisecond)
}

func TestServerStopReportsConnectionLost(t *testing.T) {
	l := startLoop(t, "root")
	lis := bufconn.Listen(1 << 20)
	s := NewServer(l, logging.Noop())
	go func() { _ = s.Serve(lis) }()
	c, err := Dial("passthrough:///bufnet", logging.Noop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	amb := ambassador(t, c)
	require.NoError(t, amb.CreateFederationExecution(ctx, "fed", "", []*kb.Module{greetingModule()}))
	lost := false
	f, err := federate.Join[clock, span](ctx, amb, timectrl.Float64Factory{}, "fed", "alpha", "test",
		federate.Callbacks[clock]{ConnectionLost: func(string) { lost = true }})
	require.NoError(t, err)

	s.Stop()
	deadline := time.Now().Add(3 * time.Second)
	for !lost && time.Now().Before(deadline) {
		_, _ = f.Tick(10 * time.Millisecond)
	}
	require.True(t, lost)
}

func TestChildNodeReachesParentOverStream(t *testing.T) {
	parent := startLoop(t, "parent")
	c := serve(t, parent)
	child := startLoop(t, "child")

	opts := map[string][]string{"node": {"child"}}
	up, err := c.Connect(context.Background(), opts)
	require.NoError(t, err)
	_, err = child.AttachParent(context.Background(), up, opts)
	require.NoError(t, err)

	ctx := context.Background()
	local, err := child.Connect(ctx, nil)
	require.NoError(t, err)
	childAmb := federate.NewAmbassador(local, logging.Noop())
	defer childAmb.Close()
	require.NoError(t, childAmb.CreateFederationExecution(ctx, "fed", "", []*kb.Module{greetingModule()}))

	// The federation lives at the root, so a federate attached directly to
	// the parent joins it.
	f, err := federate.Join[clock, span](ctx, ambassador(t, c), timectrl.Float64Factory{}, "fed", "remote", "test", federate.Callbacks[clock]{})
	require.NoError(t, err)
	require.NotZero(t, f.Handle())

	err = childAmb.CreateFederationExecution(ctx, "fed", "", []*kb.Module{greetingModule()})
	require.Equal(t, model.FederationExecutionAlreadyExists, model.KindOf(err))
}
