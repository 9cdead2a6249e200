package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mr1hm/go-emergency-alerts/internal/alerting"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/stats"
)

// AlertServiceServer is the operator-facing gRPC surface. Messages are
// google.protobuf.Struct so clients need no generated stubs.
type AlertServiceServer interface {
	GetDeliveryStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StreamAlertEvents(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

const serviceName = "alerting.v1.AlertService"

var AlertServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AlertServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetDeliveryStatus", Handler: getDeliveryStatusHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamAlertEvents", Handler: streamAlertEventsHandler, ServerStreams: true},
	},
	Metadata: "alerting/v1/alert_service.proto",
}

func getDeliveryStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AlertServiceServer).GetDeliveryStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetDeliveryStatus"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AlertServiceServer).GetDeliveryStatus(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func streamAlertEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(AlertServiceServer).StreamAlertEvents(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

type StatusReader interface {
	GetAlertDeliveryStatus(ctx context.Context, id string) (*stats.DeliveryStatus, error)
}

type Server struct {
	service     StatusReader
	broadcaster *Broadcaster
	grpcServer  *grpc.Server
}

func NewServer(service StatusReader, broadcaster *Broadcaster) *Server {
	return &Server{
		service:     service,
		broadcaster: broadcaster,
	}
}

func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.grpcServer = grpc.NewServer()
	s.grpcServer.RegisterService(&AlertServiceDesc, s)

	slog.Info("gRPC server listening", "addr", addr)
	return s.grpcServer.Serve(lis)
}

func (s *Server) Stop() {
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
}

func (s *Server) GetDeliveryStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["alert_id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "alert_id is required")
	}

	ds, err := s.service.GetAlertDeliveryStatus(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}

	out, err := toStruct(ds)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode delivery status: %v", err)
	}
	return out, nil
}

// StreamAlertEvents sends lifecycle events until the client leaves. Optional
// filters: alert_id, min_severity.
func (s *Server) StreamAlertEvents(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	fields := req.GetFields()
	filter := EventFilter{
		AlertID:     fields["alert_id"].GetStringValue(),
		MinSeverity: models.AlertSeverity(fields["min_severity"].GetStringValue()),
	}
	if filter.MinSeverity != "" && !filter.MinSeverity.Valid() {
		return status.Errorf(codes.InvalidArgument, "unknown severity %q", filter.MinSeverity)
	}

	id, ch := s.broadcaster.Subscribe(filter)
	defer func() {
		if dropped := s.broadcaster.Unsubscribe(id); dropped > 0 {
			slog.Warn("alert stream subscriber fell behind", "subscriber_id", id, "dropped", dropped)
		}
	}()

	slog.Info("client subscribed to alert stream", "subscriber_id", id, "alert_id", filter.AlertID, "min_severity", filter.MinSeverity)

	for {
		select {
		case <-stream.Context().Done():
			slog.Info("client disconnected from alert stream", "subscriber_id", id)
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}

			msg, err := eventToStruct(e)
			if err != nil {
				slog.Error("failed to encode alert event", "error", err, "alert_id", e.AlertID)
				continue
			}
			if err := stream.Send(msg); err != nil {
				slog.Error("failed to send alert event to stream", "error", err, "subscriber_id", id)
				return err
			}
		}
	}
}

func toStatus(err error) error {
	switch {
	case alerting.IsValidation(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, alerting.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, alerting.ErrStateConflict):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Errorf(codes.Internal, "internal error: %v", err)
	}
}

// toStruct goes through JSON so the wire shape matches the HTTP API.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func eventToStruct(e *models.AlertEvent) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"type":      e.Type,
		"alert_id":  e.AlertID,
		"status":    string(e.Status),
		"severity":  string(e.Severity),
		"title":     e.Title,
		"sent":      e.Sent,
		"failed":    e.Failed,
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339),
	})
}
