// Package transport carries RTI messages between processes over a gRPC
// bidirectional stream. Each stream is one connect: the server side
// attaches it to a node loop, the client side hands it to an Ambassador
// or to a child node as its parent link.
package transport

import (
	"context"
	"errors"
	"io"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/rti/internal/connect"
	"github.com/signalsfoundry/rti/internal/logging"
	"github.com/signalsfoundry/rti/message"
	"github.com/signalsfoundry/rti/model"
)

const (
	serviceName   = "rti.v1.Transport"
	connectMethod = "/rti.v1.Transport/Connect"

	// optionPrefix marks metadata keys that carry connect options.
	optionPrefix = "rti-opt-"
)

// Attacher accepts connects arriving from remote peers. *server.Loop
// implements it.
type Attacher interface {
	Attach(ctx context.Context, c *connect.Connect, clientOptions map[string][]string) (model.ConnectHandle, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Attacher)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Connect",
		Handler:       connectHandler,
		ServerStreams: true,
		ClientStreams: true,
	}},
	Metadata: "rti/v1/transport",
}

// Register exposes a on s.
func Register(s *grpc.Server, a Attacher) {
	s.RegisterService(&serviceDesc, a)
}

// NewServer returns a gRPC server with the transport service registered
// for a, tracing through otelgrpc and request ids on every stream. Extra
// options are appended, so further stream interceptors chain after the
// request-id one.
func NewServer(a Attacher, log logging.Logger, opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainStreamInterceptor(RequestIDStreamServerInterceptor(log)),
	}
	s := grpc.NewServer(append(base, opts...)...)
	Register(s, a)
	return s
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	a := srv.(Attacher)
	ctx := stream.Context()
	log := logging.FromContextOr(ctx, nil)

	near, far := connect.NewPipe()
	h, err := a.Attach(ctx, near, optionsFromMetadata(ctx))
	if err != nil {
		return status.Errorf(codes.Unavailable, "attach connect: %v", err)
	}
	log.Info(ctx, "remote connect attached", logging.Connect(h))
	err = pipe(ctx, stream, far)
	log.Info(ctx, "remote connect detached", logging.Connect(h), logging.Err(err))
	return err
}

// Client dials one node and opens connects to it.
type Client struct {
	conn *grpc.ClientConn
	log  logging.Logger
}

// Dial prepares a client for target. No connection is made until the first
// Connect. Extra dial options are appended to the defaults, which use
// plaintext credentials and otelgrpc tracing.
func Dial(target string, log logging.Logger, opts ...grpc.DialOption) (*Client, error) {
	if log == nil {
		log = logging.Noop()
	}
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, log: log}, nil
}

// Close tears down the underlying connection and every connect opened
// through it.
func (c *Client) Close() error { return c.conn.Close() }

// Connect opens a stream to the node and returns the local end of the new
// connect. The stream lives until ctx ends, either end closes, or the
// connection fails; closing the returned connect ends the stream.
func (c *Client) Connect(ctx context.Context, options map[string][]string) (*connect.Connect, error) {
	ctx, cancel := context.WithCancel(ctx)
	ctx = metadata.NewOutgoingContext(ctx, optionsToMetadata(ctx, options))
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], connectMethod)
	if err != nil {
		cancel()
		return nil, err
	}
	near, far := connect.NewPipe()
	go func() {
		defer cancel()
		if err := pipe(ctx, stream, far); err != nil {
			c.log.Warn(ctx, "remote connect ended", logging.String("target", c.conn.Target()), logging.Err(err))
		}
	}()
	return near, nil
}

// msgStream is the part of grpc.ServerStream and grpc.ClientStream the pipe
// needs.
type msgStream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
}

// pipe copies messages between s and c until either side ends. It always
// closes c.
func pipe(ctx context.Context, s msgStream, c *connect.Connect) error {
	defer c.Close()
	recvErr := make(chan error, 1)
	go func() {
		recvErr <- receive(s, c.Sender)
		c.Close()
	}()

	for {
		m, ok := c.Receiver.Receive(ctx)
		if !ok {
			break
		}
		env, err := message.Seal(m)
		if err != nil {
			return status.Errorf(codes.Internal, "%v", err)
		}
		if err := s.SendMsg(env); err != nil {
			return err
		}
	}
	if cs, ok := s.(interface{ CloseSend() error }); ok {
		_ = cs.CloseSend()
	}

	select {
	case err := <-recvErr:
		return err
	default:
		return nil
	}
}

func receive(s msgStream, to connect.MessageSender) error {
	for {
		var env message.Envelope
		if err := s.RecvMsg(&env); err != nil {
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				return nil
			}
			return err
		}
		m, err := env.Open()
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "%v", err)
		}
		if err := to.Send(m); err != nil {
			return nil
		}
	}
}

// optionsToMetadata prefixes every option key and carries the request id
// of ctx, when present, as x-request-id.
func optionsToMetadata(ctx context.Context, options map[string][]string) metadata.MD {
	md := metadata.MD{}
	for k, v := range options {
		md.Append(optionPrefix+k, v...)
	}
	if id := logging.RequestIDFromContext(ctx); id != "" {
		md.Set(requestIDMetadataKey, id)
	}
	return md
}

// optionsFromMetadata recovers connect options from inbound metadata.
// Keys come back lower case.
func optionsFromMetadata(ctx context.Context) map[string][]string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}
	var out map[string][]string
	for k, v := range md {
		name, found := strings.CutPrefix(k, optionPrefix)
		if !found {
			continue
		}
		if out == nil {
			out = make(map[string][]string)
		}
		out[name] = append([]string(nil), v...)
	}
	return out
}
