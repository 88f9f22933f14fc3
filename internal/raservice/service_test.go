package raservice

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/nrstack/internal/config"
	"github.com/signalsfoundry/nrstack/internal/observability"
	"github.com/signalsfoundry/nrstack/model"
	"github.com/signalsfoundry/nrstack/ra"
	"github.com/signalsfoundry/nrstack/rb"
)

const bufSize = 1 << 20

func startServer(t *testing.T) (*Client, *grpc.ClientConn, *observability.RPCCollector) {
	t.Helper()
	collector, err := observability.NewRPCCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewRPCCollector: %v", err)
	}
	lis := bufconn.Listen(bufSize)
	server := NewServer(NewService(nil), collector, nil)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn), conn, collector
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return s
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestDeriveGrantDownlink(t *testing.T) {
	client, _, collector := startServer(t)
	ctx := metadata.AppendToOutgoingContext(testContext(t), RequestIDHeader, "req-1")

	riv := ra.IntervalToRIV(rb.NewInterval(5, 15), 51)
	var header metadata.MD
	resp, err := client.DeriveGrant(ctx, mustStruct(t, map[string]any{
		"link": "dl",
		"cell": map[string]any{"pci": 7, "nofPrb": 51},
		"dci":  map[string]any{"rnti": 0x4601, "freqField": riv, "mcs": 10},
	}), grpc.Header(&header))
	if err != nil {
		t.Fatalf("DeriveGrant: %v", err)
	}
	if got := header.Get(RequestIDHeader); len(got) != 1 || got[0] != "req-1" {
		t.Fatalf("response %s = %v, want [req-1]", RequestIDHeader, got)
	}

	cell := config.DefaultCell(7)
	want, err := ra.DLDCIToGrant(ra.Request{
		Carrier: cell.Carrier(),
		BWP:     rb.BWP{NofPRB: 51},
		HL:      cell.HLConfig(),
		DCI: model.DCI{Format: model.DCIFormat11, RNTI: 0x4601, RNTIType: model.RNTITypeC,
			SearchSpace: model.SearchSpaceUE, FreqField: riv, MCS: 10, NofLayers: 1},
	})
	if err != nil {
		t.Fatalf("DLDCIToGrant: %v", err)
	}

	got := resp.AsMap()
	if got["link"] != "dl" || got["dciFormat"] != "1_1" || got["mapping"] != "A" {
		t.Fatalf("grant header = %v", got)
	}
	if got["nofPrb"] != float64(10) || got["scramblingId"] != float64(7) {
		t.Fatalf("nofPrb = %v scramblingId = %v", got["nofPrb"], got["scramblingId"])
	}
	prbs := got["prbs"].([]any)
	if len(prbs) != 10 || prbs[0] != float64(5) || prbs[9] != float64(14) {
		t.Fatalf("prbs = %v", prbs)
	}
	tbs := got["tb"].([]any)
	if len(tbs) != 1 {
		t.Fatalf("tb = %v", tbs)
	}
	tb := tbs[0].(map[string]any)
	if tb["tbs"] != float64(want.Grant.TB[0].TBS) || tb["modulation"] != want.Grant.TB[0].Mod.String() {
		t.Fatalf("tb = %v, want tbs %d", tb, want.Grant.TB[0].TBS)
	}
	if _, ok := got["uci"]; ok {
		t.Fatal("downlink grant carries uci")
	}

	if n := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("ResourceAllocation", "DeriveGrant", codes.OK.String())); n != 1 {
		t.Fatalf("request counter = %v, want 1", n)
	}
}

func TestDeriveGrantUplinkWithUCI(t *testing.T) {
	client, _, _ := startServer(t)
	resp, err := client.DeriveGrant(testContext(t), mustStruct(t, map[string]any{
		"link": "ul",
		"dci":  map[string]any{"rnti": 0x4602, "freqField": ra.IntervalToRIV(rb.NewInterval(0, 20), 51), "mcs": 5},
		"uci":  map[string]any{"ack": 2, "csi1": 8},
	}))
	if err != nil {
		t.Fatalf("DeriveGrant: %v", err)
	}
	got := resp.AsMap()
	if got["link"] != "ul" || got["dciFormat"] != "0_1" {
		t.Fatalf("grant = %v", got)
	}
	u, ok := got["uci"].(map[string]any)
	if !ok {
		t.Fatalf("uci missing from %v", got)
	}
	if u["ack"] != float64(2) || u["csi1"] != float64(8) || u["betaAck"].(float64) <= 0 {
		t.Fatalf("uci = %v", u)
	}
}

func TestDeriveGrantErrors(t *testing.T) {
	client, _, _ := startServer(t)
	tests := []struct {
		name string
		req  map[string]any
		code codes.Code
	}{
		{name: "missing rnti", req: map[string]any{"dci": map[string]any{"mcs": 1}}, code: codes.InvalidArgument},
		{name: "bad link", req: map[string]any{"link": "sl", "dci": map[string]any{"rnti": 1}}, code: codes.InvalidArgument},
		{name: "bad format", req: map[string]any{"dci": map[string]any{"rnti": 1, "format": "0_1"}}, code: codes.InvalidArgument},
		{name: "bad cell", req: map[string]any{"cell": map[string]any{"nofPrb": 300}, "dci": map[string]any{"rnti": 1}}, code: codes.InvalidArgument},
		{name: "bwp outside carrier", req: map[string]any{"bwp": map[string]any{"start": 60}, "dci": map[string]any{"rnti": 1}}, code: codes.InvalidArgument},
		{name: "empty riv", req: map[string]any{"dci": map[string]any{"rnti": 1, "freqField": 0xffff}}, code: codes.InvalidArgument},
		{name: "uci on downlink", req: map[string]any{"dci": map[string]any{"rnti": 1}, "uci": map[string]any{"ack": 1}}, code: codes.InvalidArgument},
		{name: "too many layers", req: map[string]any{"dci": map[string]any{"rnti": 1, "freqField": 10, "nofLayers": 4}}, code: codes.Unimplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.DeriveGrant(testContext(t), mustStruct(t, tt.req))
			if status.Code(err) != tt.code {
				t.Fatalf("DeriveGrant error = %v, want code %v", err, tt.code)
			}
		})
	}
}

func TestTransportBlockSize(t *testing.T) {
	client, _, _ := startServer(t)
	resp, err := client.TransportBlockSize(testContext(t), mustStruct(t, map[string]any{
		"mcs": 9, "nofPrb": 20, "symbols": 12, "dmrsPerPrb": 12,
	}))
	if err != nil {
		t.Fatalf("TransportBlockSize: %v", err)
	}
	entry, err := ra.MCSInfo(model.MCSTable1, 9)
	if err != nil {
		t.Fatalf("MCSInfo: %v", err)
	}
	nre := ra.NofREForTBS(20, 12, 12, 0, 0)
	want, err := ra.TBS(ra.TBSParams{NRE: nre, R: entry.R(), Qm: entry.Mod.BitsPerSymbol(), Layers: 1})
	if err != nil {
		t.Fatalf("TBS: %v", err)
	}
	got := resp.AsMap()
	if got["tbs"] != float64(want) || got["nre"] != float64(nre) || got["modulation"] != "QPSK" {
		t.Fatalf("TransportBlockSize = %v, want tbs %d nre %d", got, want, nre)
	}

	_, err = client.TransportBlockSize(testContext(t), mustStruct(t, map[string]any{"mcs": 29, "nofPrb": 20}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("reserved mcs error = %v, want InvalidArgument", err)
	}
	_, err = client.TransportBlockSize(testContext(t), mustStruct(t, map[string]any{"mcs": 1}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("missing nofPrb error = %v, want InvalidArgument", err)
	}
}

func TestHealth(t *testing.T) {
	_, conn, _ := startServer(t)
	resp, err := healthpb.NewHealthClient(conn).Check(testContext(t), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v, want SERVING", resp.GetStatus())
	}
}

func TestParseDCIDefaults(t *testing.T) {
	dci, err := parseDCI(fieldsOf("", mustStruct(t, map[string]any{
		"dci": map[string]any{"rnti": 17},
	})), model.Uplink)
	if err != nil {
		t.Fatalf("parseDCI: %v", err)
	}
	if dci.Format != model.DCIFormat01 || dci.RNTIType != model.RNTITypeC || dci.SearchSpace != model.SearchSpaceUE || dci.NofLayers != 1 || dci.RNTI != 17 {
		t.Fatalf("dci = %+v", dci)
	}
	if _, err := parseDCI(fieldsOf("", mustStruct(t, map[string]any{
		"dci": map[string]any{"rnti": 1.5},
	})), model.Uplink); err == nil {
		t.Fatal("fractional rnti accepted")
	}
}
