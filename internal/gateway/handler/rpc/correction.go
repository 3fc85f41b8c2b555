package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"smartplanning/internal/gateway/run"
)

const (
	CorrectionServiceName = "smartplanning.v1.CorrectionService"

	RunCorrectionProcedure = "/" + CorrectionServiceName + "/RunCorrection"
	GetRunProcedure        = "/" + CorrectionServiceName + "/GetRun"
)

// CorrectionHandler exposes correction runs over Connect. Messages are
// google.protobuf.Struct values carrying the same fields as the JSON API.
type CorrectionHandler struct {
	runs *run.Service
}

func NewCorrectionHandler(runs *run.Service) *CorrectionHandler {
	return &CorrectionHandler{runs: runs}
}

// NewCorrectionServiceHandler returns the mount path and handler of the
// service, in the shape of generated Connect constructors.
func NewCorrectionServiceHandler(h *CorrectionHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	runCorrection := connect.NewUnaryHandler(RunCorrectionProcedure, h.RunCorrection, opts...)
	getRun := connect.NewUnaryHandler(GetRunProcedure, h.GetRun, opts...)
	return "/" + CorrectionServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case RunCorrectionProcedure:
			runCorrection.ServeHTTP(w, r)
		case GetRunProcedure:
			getRun.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// RunCorrection starts a background run. Fields: snapshot_id, max_iterations.
func (h *CorrectionHandler) RunCorrection(_ context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	fields := req.Msg.GetFields()
	snapshotID := strings.TrimSpace(fields["snapshot_id"].GetStringValue())
	if snapshotID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("snapshot_id is required"))
	}
	maxIterations := int(fields["max_iterations"].GetNumberValue())
	if maxIterations < 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("max_iterations must not be negative"))
	}
	rec, err := h.runs.Start(snapshotID, maxIterations)
	var busy *run.BusyError
	if errors.As(err, &busy) {
		return nil, connect.NewError(connect.CodeAlreadyExists, err)
	}
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return respond(rec)
}

// GetRun returns a run record. Fields: run_id.
func (h *CorrectionHandler) GetRun(_ context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	runID := strings.TrimSpace(req.Msg.GetFields()["run_id"].GetStringValue())
	if runID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("run_id is required"))
	}
	rec, err := h.runs.Get(runID)
	if errors.Is(err, run.ErrNotFound) {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return respond(rec)
}

func respond(rec run.Record) (*connect.Response[structpb.Struct], error) {
	msg, err := toStruct(rec)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// toStruct converts v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}
