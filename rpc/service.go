// Package rpc implements the FleetCommandRunner gRPC service without a
// protoc step: every message is a plain Go struct (see messages.go)
// marshaled by a hand-written JSON codec (see codec.go), and the
// service is registered via a hand-written grpc.ServiceDesc instead of
// generated stubs. All business logic stays in dispatcher; this package
// only translates between wire shapes and dispatcher calls and turns
// fcrerr codes into gRPC status details.
package rpc

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nanoncore/fcr/device"
	"github.com/nanoncore/fcr/dispatcher"
	"github.com/nanoncore/fcr/fcrerr"
	"github.com/nanoncore/fcr/session"
)

// DispatcherAPI is the subset of *dispatcher.Dispatcher the server
// drives; it exists so tests can substitute a stub without wiring a
// real session registry.
type DispatcherAPI interface {
	Run(ctx context.Context, rec *device.Record, command string, timeout, openTimeout time.Duration, uuid string) (*session.CommandResult, error)
	RunRaw(ctx context.Context, rec *device.Record, command string, timeout, openTimeout time.Duration, promptRegex *regexp.Regexp, uuid string) (*session.CommandResult, error)
	BulkRun(ctx context.Context, req dispatcher.BulkRunRequest) (dispatcher.BulkRunResponse, error)
	BulkRunLocal(ctx context.Context, req dispatcher.BulkRunRequest) (dispatcher.BulkRunResponse, error)
	OpenSession(ctx context.Context, rec *device.Record, openTimeout, idleTimeout time.Duration, owner session.Owner, uuid string) (int64, error)
	OpenRawSession(ctx context.Context, rec *device.Record, openTimeout, idleTimeout time.Duration, owner session.Owner, uuid string) (int64, error)
	RunSession(ctx context.Context, id int64, owner session.Owner, command string, timeout time.Duration) (*session.CommandResult, error)
	RunRawSession(ctx context.Context, id int64, owner session.Owner, command string, timeout time.Duration, promptRegex *regexp.Regexp) (*session.CommandResult, error)
	CloseSession(ctx context.Context, id int64, owner session.Owner) error
	CloseRawSession(ctx context.Context, id int64, owner session.Owner) error
}

// Server adapts DispatcherAPI to the hand-rolled ServiceDesc below.
type Server struct {
	d DispatcherAPI
}

// serverAPI is the method set the ServiceDesc's handlers dispatch
// against; it exists only so grpc.Server.RegisterService has an
// interface to type-check *Server against, mirroring the role a
// generated *_grpc.pb.go file's unexported server interface plays.
type serverAPI interface {
	run(ctx context.Context, req *RunRequest) (*RunResponse, error)
	runRaw(ctx context.Context, req *RunRequest) (*RunResponse, error)
	bulkRun(ctx context.Context, req *BulkRunRequest) (*BulkRunResponse, error)
	bulkRunLocal(ctx context.Context, req *BulkRunRequest) (*BulkRunResponse, error)
	openSession(ctx context.Context, req *OpenSessionRequest, raw bool) (*OpenSessionResponse, error)
	runSession(ctx context.Context, req *RunSessionRequest, raw bool) (*RunResponse, error)
	closeSession(ctx context.Context, req *CloseSessionRequest, raw bool) (*CloseSessionResponse, error)
}

// NewServer wraps a dispatcher for registration on a *grpc.Server.
func NewServer(d DispatcherAPI) *Server { return &Server{d: d} }

func toRecord(req DeviceRequest) *device.Record {
	return &device.Record{
		Hostname:       req.Hostname,
		Username:       req.Username,
		Password:       req.Password,
		Vendor:         req.Vendor,
		IPAddress:      req.IPAddress,
		MgmtIP:         req.MgmtIP,
		CommandPrompts: req.CommandPrompts,
	}
}

func toCommandResponse(r *session.CommandResult) CommandResponse {
	if r == nil {
		return CommandResponse{}
	}
	return CommandResponse{
		Output:       r.Output,
		Status:       r.Status,
		Command:      r.Command,
		Capabilities: r.Capabilities,
		UUID:         r.UUID,
	}
}

func ownerFromFields(clientIP string, clientPort int) session.Owner {
	return session.Owner{ClientIP: clientIP, ClientPort: clientPort}
}

// ensureUUID stamps a fresh request id onto calls that arrive without
// one, so every session/log line downstream has something to key on
// even when the client didn't set uuid.
func ensureUUID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}

// statusFromErr converts an fcrerr.Error into a grpc status carrying an
// ErrorInfo detail whose Reason is the FcrErrorCode literal name, so a
// client can recover the taxonomy code without parsing the message.
func statusFromErr(err error) error {
	if err == nil {
		return nil
	}
	code := fcrerr.CodeOf(err)
	st := status.New(grpcCodeFor(code), err.Error())
	withDetails, detailErr := st.WithDetails(&errdetails.ErrorInfo{
		Reason: code.String(),
		Domain: "fcr",
	})
	if detailErr != nil {
		return st.Err()
	}
	return withDetails.Err()
}

func grpcCodeFor(code fcrerr.Code) codes.Code {
	switch code {
	case fcrerr.CommandExecutionTimeout, fcrerr.ConnectionTimeoutError, fcrerr.Timeout:
		return codes.DeadlineExceeded
	case fcrerr.Validation, fcrerr.Value, fcrerr.Type, fcrerr.Attribute, fcrerr.Parsing:
		return codes.InvalidArgument
	case fcrerr.Permission:
		return codes.PermissionDenied
	case fcrerr.UnsupportedDevice, fcrerr.UnsupportedCommand, fcrerr.NotImplemented:
		return codes.Unimplemented
	case fcrerr.Lookup:
		return codes.NotFound
	case fcrerr.InstanceOverloaded:
		return codes.ResourceExhausted
	case fcrerr.ConnectionError, fcrerr.DeviceError, fcrerr.CommandExecutionError, fcrerr.StreamReader:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

func (s *Server) run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	rec := toRecord(req.Device)
	reqUUID := ensureUUID(req.UUID)
	var result *session.CommandResult
	var err error
	if req.PromptRegex != "" {
		re, compileErr := regexp.Compile(req.PromptRegex)
		if compileErr != nil {
			return nil, statusFromErr(fcrerr.Wrap(fcrerr.Parsing, compileErr))
		}
		result, err = s.d.RunRaw(ctx, rec, req.Command, req.timeout(), req.openTimeout(), re, reqUUID)
	} else {
		result, err = s.d.Run(ctx, rec, req.Command, req.timeout(), req.openTimeout(), reqUUID)
	}
	if err != nil {
		return nil, statusFromErr(err)
	}
	return &RunResponse{Result: toCommandResponse(result)}, nil
}

func (s *Server) runRaw(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	rec := toRecord(req.Device)
	var re *regexp.Regexp
	if req.PromptRegex != "" {
		compiled, err := regexp.Compile(req.PromptRegex)
		if err != nil {
			return nil, statusFromErr(fcrerr.Wrap(fcrerr.Parsing, err))
		}
		re = compiled
	}
	result, err := s.d.RunRaw(ctx, rec, req.Command, req.timeout(), req.openTimeout(), re, ensureUUID(req.UUID))
	if err != nil {
		return nil, statusFromErr(err)
	}
	return &RunResponse{Result: toCommandResponse(result)}, nil
}

func toDispatcherBulkRequest(req *BulkRunRequest) dispatcher.BulkRunRequest {
	records := make(map[string]*device.Record, len(req.Devices))
	for _, dr := range req.Devices {
		records[dr.Hostname] = toRecord(dr)
	}
	return dispatcher.BulkRunRequest{
		Commands:    req.Commands,
		Records:     records,
		Timeout:     req.timeout(),
		OpenTimeout: req.openTimeout(),
		UUID:        ensureUUID(req.UUID),
	}
}

func toBulkRunResponse(resp dispatcher.BulkRunResponse) *BulkRunResponse {
	out := make(map[string][]CommandResponse, len(resp))
	for hostname, results := range resp {
		converted := make([]CommandResponse, len(results))
		for i := range results {
			converted[i] = toCommandResponse(&results[i])
		}
		out[hostname] = converted
	}
	return &BulkRunResponse{Results: out}
}

func (s *Server) bulkRun(ctx context.Context, req *BulkRunRequest) (*BulkRunResponse, error) {
	dreq := toDispatcherBulkRequest(req)
	resp, err := s.d.BulkRun(ctx, dreq)
	if err != nil {
		return nil, statusFromErr(err)
	}
	return toBulkRunResponse(resp), nil
}

func (s *Server) bulkRunLocal(ctx context.Context, req *BulkRunRequest) (*BulkRunResponse, error) {
	dreq := toDispatcherBulkRequest(req)
	resp, err := s.d.BulkRunLocal(ctx, dreq)
	if err != nil {
		return nil, statusFromErr(err)
	}
	return toBulkRunResponse(resp), nil
}

func (s *Server) openSession(ctx context.Context, req *OpenSessionRequest, raw bool) (*OpenSessionResponse, error) {
	rec := toRecord(req.Device)
	owner := ownerFromFields(req.ClientIP, req.ClientPort)
	reqUUID := ensureUUID(req.UUID)
	var id int64
	var err error
	if raw {
		id, err = s.d.OpenRawSession(ctx, rec, req.openTimeout(), req.idleTimeout(), owner, reqUUID)
	} else {
		id, err = s.d.OpenSession(ctx, rec, req.openTimeout(), req.idleTimeout(), owner, reqUUID)
	}
	if err != nil {
		return nil, statusFromErr(err)
	}
	return &OpenSessionResponse{SessionID: id}, nil
}

func (s *Server) runSession(ctx context.Context, req *RunSessionRequest, raw bool) (*RunResponse, error) {
	owner := ownerFromFields(req.ClientIP, req.ClientPort)
	var result *session.CommandResult
	var err error
	if raw {
		var re *regexp.Regexp
		if req.PromptRegex != "" {
			re, err = regexp.Compile(req.PromptRegex)
			if err != nil {
				return nil, statusFromErr(fcrerr.Wrap(fcrerr.Parsing, err))
			}
		}
		result, err = s.d.RunRawSession(ctx, req.SessionID, owner, req.Command, req.timeout(), re)
	} else {
		result, err = s.d.RunSession(ctx, req.SessionID, owner, req.Command, req.timeout())
	}
	if err != nil {
		return nil, statusFromErr(err)
	}
	return &RunResponse{Result: toCommandResponse(result)}, nil
}

func (s *Server) closeSession(ctx context.Context, req *CloseSessionRequest, raw bool) (*CloseSessionResponse, error) {
	owner := ownerFromFields(req.ClientIP, req.ClientPort)
	var err error
	if raw {
		err = s.d.CloseRawSession(ctx, req.SessionID, owner)
	} else {
		err = s.d.CloseSession(ctx, req.SessionID, owner)
	}
	if err != nil {
		return nil, statusFromErr(err)
	}
	return &CloseSessionResponse{}, nil
}

func decodeInto(dec func(interface{}) error, v interface{}) error {
	return dec(v)
}

func runHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(RunRequest)
	if err := decodeInto(dec, req); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.run(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fcr.FleetCommandRunner/Run"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.run(ctx, req.(*RunRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func runRawHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(RunRequest)
	if err := decodeInto(dec, req); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.runRaw(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fcr.FleetCommandRunner/RunRaw"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.runRaw(ctx, req.(*RunRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func bulkRunHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(BulkRunRequest)
	if err := decodeInto(dec, req); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.bulkRun(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fcr.FleetCommandRunner/BulkRun"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.bulkRun(ctx, req.(*BulkRunRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func bulkRunLocalHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(BulkRunRequest)
	if err := decodeInto(dec, req); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.bulkRunLocal(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fcr.FleetCommandRunner/BulkRunLocal"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.bulkRunLocal(ctx, req.(*BulkRunRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func openSessionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(OpenSessionRequest)
	if err := decodeInto(dec, req); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.openSession(ctx, req, false)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fcr.FleetCommandRunner/OpenSession"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.openSession(ctx, req.(*OpenSessionRequest), false)
	}
	return interceptor(ctx, req, info, handler)
}

func openRawSessionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(OpenSessionRequest)
	if err := decodeInto(dec, req); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.openSession(ctx, req, true)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fcr.FleetCommandRunner/OpenRawSession"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.openSession(ctx, req.(*OpenSessionRequest), true)
	}
	return interceptor(ctx, req, info, handler)
}

func runSessionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(RunSessionRequest)
	if err := decodeInto(dec, req); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.runSession(ctx, req, false)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fcr.FleetCommandRunner/RunSession"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.runSession(ctx, req.(*RunSessionRequest), false)
	}
	return interceptor(ctx, req, info, handler)
}

func runRawSessionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(RunSessionRequest)
	if err := decodeInto(dec, req); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.runSession(ctx, req, true)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fcr.FleetCommandRunner/RunRawSession"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.runSession(ctx, req.(*RunSessionRequest), true)
	}
	return interceptor(ctx, req, info, handler)
}

func closeSessionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(CloseSessionRequest)
	if err := decodeInto(dec, req); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.closeSession(ctx, req, false)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fcr.FleetCommandRunner/CloseSession"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.closeSession(ctx, req.(*CloseSessionRequest), false)
	}
	return interceptor(ctx, req, info, handler)
}

func closeRawSessionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(CloseSessionRequest)
	if err := decodeInto(dec, req); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.closeSession(ctx, req, true)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fcr.FleetCommandRunner/CloseRawSession"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.closeSession(ctx, req.(*CloseSessionRequest), true)
	}
	return interceptor(ctx, req, info, handler)
}

// ServiceDesc is the hand-written stand-in for what protoc-gen-go-grpc
// would normally emit from a .proto file listing these ten RPCs.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "fcr.FleetCommandRunner",
	HandlerType: (*serverAPI)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: runHandler},
		{MethodName: "RunRaw", Handler: runRawHandler},
		{MethodName: "BulkRun", Handler: bulkRunHandler},
		{MethodName: "BulkRunLocal", Handler: bulkRunLocalHandler},
		{MethodName: "OpenSession", Handler: openSessionHandler},
		{MethodName: "OpenRawSession", Handler: openRawSessionHandler},
		{MethodName: "RunSession", Handler: runSessionHandler},
		{MethodName: "RunRawSession", Handler: runRawSessionHandler},
		{MethodName: "CloseSession", Handler: closeSessionHandler},
		{MethodName: "CloseRawSession", Handler: closeRawSessionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fcr.proto",
}

// Register attaches the service to a *grpc.Server already configured
// with grpc.ForceServerCodec(Codec).
func Register(gs *grpc.Server, d DispatcherAPI) {
	gs.RegisterService(&ServiceDesc, NewServer(d))
}
