// Package apm reports gateway call traces to a SkyWalking OAP collector.
// Each translated SIP request becomes one trace segment with an entry span
// for the SIP leg and an exit span for the backend RPC leg.
package apm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	common "skywalking.apache.org/repo/goapi/collect/common/v3"
	agent "skywalking.apache.org/repo/goapi/collect/language/agent/v3"

	"github.com/google/uuid"
)

// gRPC component ID from the SkyWalking component registry.
const componentGRPC = 23

// CallReport captures one complete SIP-to-backend exchange.
type CallReport struct {
	Method     string
	URI        string
	CallID     string
	Endpoint   string
	FullMethod string
	Peer       string

	Start        time.Time
	End          time.Time
	BackendStart time.Time
	BackendEnd   time.Time

	StatusCode int
	Failed     bool
}

// Reporter ships call reports to a tracing backend.
type Reporter interface {
	ReportCall(report CallReport)
	Close() error
}

// NewNoop returns a reporter that discards everything. Used when APM is
// disabled so callers never need a nil check.
func NewNoop() Reporter { return noopReporter{} }

type noopReporter struct{}

func (noopReporter) ReportCall(CallReport) {}
func (noopReporter) Close() error          { return nil }

// SkyWalkingReporter streams trace segments to an OAP collector. Reports are
// queued on a bounded channel and dropped when the collector falls behind,
// tracing must never stall the call path.
type SkyWalkingReporter struct {
	service  string
	instance string

	conn     *grpc.ClientConn
	segments chan *agent.SegmentObject
	ids      *segmentIDGenerator

	closeOnce sync.Once
	done      chan struct{}
}

// NewSkyWalking connects to the collector at endpoint and starts the
// background sender.
func NewSkyWalking(endpoint, service, instance string) (*SkyWalkingReporter, error) {
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial skywalking collector %s: %w", endpoint, err)
	}

	r := &SkyWalkingReporter{
		service:  service,
		instance: instance,
		conn:     conn,
		segments: make(chan *agent.SegmentObject, 256),
		ids:      newSegmentIDGenerator(instance),
		done:     make(chan struct{}),
	}
	go r.sendLoop()
	return r, nil
}

// ReportCall enqueues a segment for the exchange. Never blocks.
func (r *SkyWalkingReporter) ReportCall(report CallReport) {
	select {
	case r.segments <- r.buildSegment(report):
	default:
		slog.Warn("apm segment queue full, dropping segment", "call_id", report.CallID)
	}
}

// Close stops the sender and releases the collector connection.
func (r *SkyWalkingReporter) Close() error {
	r.closeOnce.Do(func() {
		close(r.segments)
		<-r.done
	})
	return r.conn.Close()
}

func (r *SkyWalkingReporter) sendLoop() {
	defer close(r.done)

	client := agent.NewTraceSegmentReportServiceClient(r.conn)

	var stream agent.TraceSegmentReportService_CollectClient
	for seg := range r.segments {
		if stream == nil {
			s, err := client.Collect(context.Background())
			if err != nil {
				slog.Warn("apm collector unreachable, dropping segment", "error", err)
				continue
			}
			stream = s
		}
		if err := stream.Send(seg); err != nil {
			slog.Warn("apm segment send failed", "error", err)
			stream.CloseAndRecv()
			stream = nil
		}
	}
	if stream != nil {
		stream.CloseAndRecv()
	}
}

func (r *SkyWalkingReporter) buildSegment(report CallReport) *agent.SegmentObject {
	entry := &agent.SpanObject{
		SpanId:        0,
		ParentSpanId:  -1,
		StartTime:     report.Start.UnixMilli(),
		EndTime:       report.End.UnixMilli(),
		OperationName: "SIP/" + report.Method,
		SpanType:      agent.SpanType_Entry,
		SpanLayer:     agent.SpanLayer_RPCFramework,
		IsError:       report.Failed,
		Tags: []*common.KeyStringValuePair{
			{Key: "sip.method", Value: report.Method},
			{Key: "sip.uri", Value: report.URI},
			{Key: "sip.call_id", Value: report.CallID},
			{Key: "sip.status", Value: fmt.Sprintf("%d", report.StatusCode)},
		},
	}

	spans := []*agent.SpanObject{entry}
	if report.FullMethod != "" {
		spans = append(spans, &agent.SpanObject{
			SpanId:        1,
			ParentSpanId:  0,
			StartTime:     report.BackendStart.UnixMilli(),
			EndTime:       report.BackendEnd.UnixMilli(),
			OperationName: report.FullMethod,
			Peer:          report.Peer,
			SpanType:      agent.SpanType_Exit,
			SpanLayer:     agent.SpanLayer_RPCFramework,
			ComponentId:   componentGRPC,
			IsError:       report.Failed,
			Tags: []*common.KeyStringValuePair{
				{Key: "endpoint", Value: report.Endpoint},
			},
		})
	}

	return &agent.SegmentObject{
		TraceId:         uuid.NewString(),
		TraceSegmentId:  r.ids.generate(),
		Spans:           spans,
		Service:         r.service,
		ServiceInstance: r.instance,
		IsSizeLimited:   true,
	}
}

// segmentIDGenerator produces instance-scoped unique segment IDs in the
// instanceId.timestamp.sequence form SkyWalking agents use.
type segmentIDGenerator struct {
	instance string
	mu       sync.Mutex
	next     int64
}

func newSegmentIDGenerator(instance string) *segmentIDGenerator {
	return &segmentIDGenerator{instance: instance}
}

func (g *segmentIDGenerator) generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := fmt.Sprintf("%s.%d.%d", g.instance, time.Now().UnixMilli(), g.next)
	g.next++
	return id
}
