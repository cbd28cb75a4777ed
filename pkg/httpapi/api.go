package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/retrovue/broadcast-core/internal"
	"github.com/retrovue/broadcast-core/pkg/orchestrator"
	"github.com/retrovue/broadcast-core/pkg/telemetry"
)

type channelInput struct {
	ID string `path:"id" maxLength:"64" example:"retro-1" doc:"Channel id"`
}

type JoinResponse struct {
	Body struct {
		Class         string `json:"class" doc:"EARLY, MID_BLOCK"`
		BlockID       string `json:"blockId" doc:"Block the join landed in"`
		EpochWallMs   int64  `json:"epochWallMs" doc:"Session epoch (the block's start fence)"`
		StartCtMs     int64  `json:"startCtMs" doc:"Content time of the first emitted frame"`
		SegmentIndex  int    `json:"segmentIndex" doc:"Segment the join starts in"`
		AssetOffsetMs int64  `json:"assetOffsetMs" doc:"Play offset into that segment's asset"`
		Reused        bool   `json:"reused" doc:"True when an existing session was reused"`
	}
}

type StatusResponse struct {
	Body struct {
		ChannelID        string `json:"channelId"`
		ExecutingBlockID string `json:"executingBlockId,omitempty"`
		PendingBlockID   string `json:"pendingBlockId,omitempty"`
		GenerationID     uint64 `json:"generationId,omitempty"`
		SessionState     string `json:"sessionState,omitempty"`
	}
}

type horizonBlock struct {
	BlockID      string `json:"blockId"`
	StartUtcMs   int64  `json:"startUtcMs"`
	EndUtcMs     int64  `json:"endUtcMs"`
	GenerationID uint64 `json:"generationId"`
	Segments     int    `json:"segments"`
	Date         string `json:"programmingDayDate"`
}

type HorizonResponse struct {
	Body struct {
		ChannelID string         `json:"channelId"`
		Blocks    []horizonBlock `json:"blocks"`
	}
}

type StopResponse struct {
	Body struct {
		ChannelID string `json:"channelId"`
		Stopped   bool   `json:"stopped"`
	}
}

// humaError maps a runtime fault onto the API's error vocabulary.
func humaError(err error) error {
	var f *orchestrator.Fault
	if !errors.As(err, &f) {
		return huma.Error500InternalServerError(err.Error())
	}
	switch f.Code {
	case telemetry.ProtocolViolation:
		return huma.Error404NotFound(f.Error())
	case telemetry.LookaheadExhausted:
		return huma.Error503ServiceUnavailable(f.Error())
	default:
		return huma.Error409Conflict(f.Error())
	}
}

func createJoinHdlr(s *Server) func(ctx context.Context, input *channelInput) (*JoinResponse, error) {
	return func(ctx context.Context, input *channelInput) (*JoinResponse, error) {
		res, err := s.runtime.Join(ctx, input.ID)
		if err != nil {
			return nil, humaError(err)
		}
		resp := &JoinResponse{}
		resp.Body.Class = string(res.Class)
		resp.Body.BlockID = res.BlockID
		resp.Body.EpochWallMs = res.Params.EpochWallMs
		resp.Body.StartCtMs = res.Params.StartCtMs
		resp.Body.SegmentIndex = res.Params.SegmentIndex
		resp.Body.AssetOffsetMs = res.Params.AssetOffsetMs
		resp.Body.Reused = res.Reused
		return resp, nil
	}
}

func createStatusHdlr(s *Server) func(ctx context.Context, input *channelInput) (*StatusResponse, error) {
	return func(ctx context.Context, input *channelInput) (*StatusResponse, error) {
		st, err := s.runtime.Status(input.ID)
		if err != nil {
			return nil, humaError(err)
		}
		resp := &StatusResponse{}
		resp.Body.ChannelID = st.ChannelID
		resp.Body.ExecutingBlockID = st.ExecutingBlockID
		resp.Body.PendingBlockID = st.PendingBlockID
		resp.Body.GenerationID = st.GenerationID
		resp.Body.SessionState = string(st.SessionState)
		return resp, nil
	}
}

func createHorizonHdlr(s *Server) func(ctx context.Context, input *channelInput) (*HorizonResponse, error) {
	return func(ctx context.Context, input *channelInput) (*HorizonResponse, error) {
		store, ok := s.horizon.Store(input.ID)
		if !ok {
			return nil, huma.Error404NotFound("channel " + input.ID + " not registered")
		}
		resp := &HorizonResponse{}
		resp.Body.ChannelID = input.ID
		for _, e := range store.Snapshot(0, 1<<62) {
			resp.Body.Blocks = append(resp.Body.Blocks, horizonBlock{
				BlockID:      e.BlockID,
				StartUtcMs:   e.StartUtcMs,
				EndUtcMs:     e.EndUtcMs,
				GenerationID: e.GenerationID,
				Segments:     len(e.Segments),
				Date:         e.ProgrammingDayDate,
			})
		}
		return resp, nil
	}
}

func createStopHdlr(s *Server) func(ctx context.Context, input *channelInput) (*StopResponse, error) {
	return func(ctx context.Context, input *channelInput) (*StopResponse, error) {
		if err := s.runtime.StopChannel(input.ID); err != nil {
			return nil, humaError(err)
		}
		resp := &StopResponse{}
		resp.Body.ChannelID = input.ID
		resp.Body.Stopped = true
		return resp, nil
	}
}

func createRouteAPI(s *Server) func(r chi.Router) {
	return func(r chi.Router) {
		cfg := huma.DefaultConfig("Playoutd operations API", internal.GetVersion())
		cfg.Servers = []*huma.Server{{URL: "/api"}}
		cfg.Info.Description = `Operations surface for the channel runtime:
		join a channel (computes the same parameters a viewer join would),
		inspect executing/pending blocks, and read the published horizon.`

		api := humachi.New(r, cfg)

		huma.Register(api, huma.Operation{
			OperationID: "join-channel",
			Method:      http.MethodPost,
			Path:        "/channels/{id}/join",
			Summary:     "Join a channel",
			Tags:        []string{"channels"},
		}, createJoinHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "channel-status",
			Method:      http.MethodGet,
			Path:        "/channels/{id}/status",
			Summary:     "Executing/pending blocks and session state",
			Tags:        []string{"channels"},
		}, createStatusHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "channel-horizon",
			Method:      http.MethodGet,
			Path:        "/channels/{id}/horizon",
			Summary:     "Window-store snapshot",
			Tags:        []string{"channels"},
		}, createHorizonHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "stop-channel",
			Method:      http.MethodPost,
			Path:        "/channels/{id}/stop",
			Summary:     "Stop a channel's session",
			Tags:        []string{"channels"},
		}, createStopHdlr(s))
	}
}
