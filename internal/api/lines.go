package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camss/internal/api/models"
	"github.com/smazurov/camss/internal/capture"
	"github.com/smazurov/camss/internal/metrics"
	"github.com/smazurov/camss/internal/vin"
)

func (s *Server) registerLineRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-lines",
		Method:      http.MethodGet,
		Path:        "/api/lines",
		Summary:     "List lines",
		Description: "Status of every capture line, including running sessions and counters",
		Tags:        []string{"lines"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*models.LineListResponse, error) {
		lines := s.device.Lines()
		resp := &models.LineListResponse{}
		resp.Body.Lines = make([]models.LineData, 0, len(lines))
		for _, l := range lines {
			resp.Body.Lines = append(resp.Body.Lines, s.lineData(l.Status()))
		}
		resp.Body.Count = len(resp.Body.Lines)
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-line",
		Method:      http.MethodGet,
		Path:        "/api/lines/{name}",
		Summary:     "Get line",
		Description: "Status of one capture line",
		Tags:        []string{"lines"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(ctx context.Context, input *models.LineRequest) (*models.LineResponse, error) {
		l, err := s.device.Line(input.Name)
		if err != nil {
			return nil, mapError(err)
		}
		return &models.LineResponse{Body: s.lineData(l.Status())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-line-stream",
		Method:      http.MethodPost,
		Path:        "/api/lines/{name}/stream",
		Summary:     "Start or stop capture",
		Description: "Start a capture session that cycles buffers through the line, or stop the running one",
		Tags:        []string{"lines"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 404, 409, 500},
	}, func(ctx context.Context, input *models.StreamRequest) (*models.StreamResponse, error) {
		resp := &models.StreamResponse{}
		resp.Body.Line = input.Name

		if !input.Body.Enable {
			if _, err := s.device.Line(input.Name); err != nil {
				return nil, mapError(err)
			}
			st, err := s.sessions.Stop(input.Name)
			if errors.Is(err, capture.ErrNoSession) {
				return nil, mapError(err)
			}
			if err != nil {
				// The session is gone either way.
				s.logger.Warn("Capture session stopped with error", "line", input.Name, "error", err)
			}
			resp.Body.Session = st.Session
			resp.Body.Capture = captureData(st)
			return resp, nil
		}

		sess, err := s.sessions.Start(s.baseCtx, input.Name, capture.Options{
			Buffers: input.Body.Buffers,
			Hold:    time.Duration(input.Body.HoldMs) * time.Millisecond,
		})
		if err != nil {
			return nil, mapError(err)
		}
		st := sess.Stats()
		resp.Body.Enabled = true
		resp.Body.Session = st.Session
		resp.Body.Capture = captureData(st)
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "flush-line",
		Method:      http.MethodPost,
		Path:        "/api/lines/{name}/flush",
		Summary:     "Flush line",
		Description: "Return every buffer queued on the line to the capture session",
		Tags:        []string{"lines"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 404, 409},
	}, func(ctx context.Context, input *models.FlushRequest) (*models.FlushResponse, error) {
		outcome := vin.OutcomeError
		if input.Body.Outcome != "" {
			o, err := vin.ParseOutcome(input.Body.Outcome)
			if err != nil || o == vin.OutcomeDone {
				return nil, huma.Error400BadRequest("outcome must be error or queued")
			}
			outcome = o
		}
		if _, err := s.device.Line(input.Name); err != nil {
			return nil, mapError(err)
		}
		sess, ok := s.sessions.Get(input.Name)
		if !ok {
			return nil, mapError(capture.ErrNoSession)
		}
		resp := &models.FlushResponse{}
		resp.Body.Line = input.Name
		resp.Body.Flushed = sess.Flush(outcome)
		return resp, nil
	})
}

func (s *Server) lineData(st vin.LineStatus) models.LineData {
	data := models.LineData{
		ID:            st.ID,
		Name:          st.Name,
		Engine:        st.Engine,
		Channel:       st.Channel.String(),
		Layout:        string(st.Layout),
		StreamCount:   st.StreamCount,
		PowerCount:    st.PowerCount,
		EngineStreams: st.EngineStreams,
		Attached:      st.Attached,
		Output: models.OutputData{
			State:    string(st.Output.State),
			Active:   st.Output.Active,
			Slots:    st.Output.Slots,
			Pending:  st.Output.Pending,
			Ready:    st.Output.Ready,
			HasLast:  st.Output.HasLast,
			Sequence: st.Output.Sequence,
			Session:  st.Output.Session,
		},
	}
	if s.formats != nil {
		f := s.formats.ActiveFormat(st.ID)
		data.Width, data.Height, data.Code = f.Width, f.Height, f.Code
	}
	if s.sessions != nil {
		if sess, ok := s.sessions.Get(st.Name); ok {
			data.Capture = captureData(sess.Stats())
		}
	}
	if c := metrics.GetLineCounters(st.Name); c != nil {
		data.Counters = &models.CountersData{
			Done:         c.Done,
			Errored:      c.Errored,
			Queued:       c.Queued,
			LastSequence: c.LastSequence,
			Faults:       c.Faults,
		}
	}
	return data
}

func captureData(st capture.Stats) *models.CaptureData {
	return &models.CaptureData{
		Buffers:      st.Buffers,
		Delivered:    st.Delivered,
		Errored:      st.Errored,
		Requeued:     st.Requeued,
		Gaps:         st.Gaps,
		LastSequence: st.LastSequence,
		Started:      st.Started.Format(time.RFC3339),
	}
}

// mapError converts pipeline errors to HTTP errors.
func mapError(err error) error {
	switch {
	case errors.Is(err, vin.ErrUnknownLine):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, capture.ErrSessionActive),
		errors.Is(err, capture.ErrNoSession),
		errors.Is(err, vin.ErrBufferBusy),
		errors.Is(err, vin.ErrAttached),
		errors.Is(err, vin.ErrDetached):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, capture.ErrInvalidOptions),
		errors.Is(err, vin.ErrBadPlanes),
		errors.Is(err, vin.ErrZeroAddress):
		return huma.Error400BadRequest(err.Error())
	default:
		return huma.Error500InternalServerError(err.Error())
	}
}
