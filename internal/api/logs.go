package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/camss/internal/api/models"
	"github.com/smazurov/camss/internal/events"
	"github.com/smazurov/camss/internal/logging"
)

func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Log history",
		Description: "Recent log entries from the in-memory history",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *models.LogsRequest) (*models.LogsResponse, error) {
		var entries []logging.LogEntry
		if h := logging.GetHistory(); h != nil {
			switch {
			case input.Since > 0:
				entries = h.Since(input.Since)
			case input.Tail > 0:
				entries = h.Tail(input.Tail)
			default:
				entries = h.ReadAll()
			}
		}
		if input.Since > 0 && input.Tail > 0 && len(entries) > input.Tail {
			entries = entries[len(entries)-input.Tail:]
		}

		resp := &models.LogsResponse{}
		resp.Body.Entries = make([]models.LogEntry, 0, len(entries))
		for _, e := range entries {
			resp.Body.Entries = append(resp.Body.Entries, models.LogEntry{
				Seq:        e.Seq,
				Timestamp:  e.Timestamp.Format(time.RFC3339Nano),
				Level:      e.Level,
				Module:     e.Module,
				Message:    e.Message,
				Attributes: e.Attributes,
			})
		}
		resp.Body.Count = len(resp.Body.Entries)
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-log-levels",
		Method:      http.MethodGet,
		Path:        "/api/logs/levels",
		Summary:     "Log levels",
		Description: "Effective level of every module logger",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*models.LogLevelsResponse, error) {
		resp := &models.LogLevelsResponse{}
		resp.Body.Levels = logging.Levels()
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-log-levels",
		Method:      http.MethodPut,
		Path:        "/api/logs/levels",
		Summary:     "Set log levels",
		Description: "Replace the global level and per-module overrides until the next config reload",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{400, 401},
	}, func(ctx context.Context, input *models.LogLevelsRequest) (*models.LogLevelsResponse, error) {
		if _, ok := logging.ParseLevel(input.Body.Level); !ok {
			return nil, huma.Error400BadRequest("unknown level " + input.Body.Level)
		}
		modules := make([]string, 0, len(input.Body.Modules))
		for module := range input.Body.Modules {
			modules = append(modules, module)
		}
		sort.Strings(modules)
		for _, module := range modules {
			if _, ok := logging.ParseLevel(input.Body.Modules[module]); !ok {
				return nil, huma.Error400BadRequest("unknown level " + input.Body.Modules[module] + " for module " + module)
			}
		}

		logging.SetLevels(input.Body.Level, input.Body.Modules)
		s.logger.Info("Log levels changed", "level", input.Body.Level, "modules", len(modules))

		resp := &models.LogLevelsResponse{}
		resp.Body.Levels = logging.Levels()
		return resp, nil
	})

	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Real-time log streaming via Server-Sent Events. Sends historical logs first, then streams new logs.",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// Subscribe before replaying so nothing falls between the two;
		// duplicates are filtered by sequence.
		eventCh := make(chan any, 256)
		unsubscribe := events.SubscribeToChannel[events.LogEntryEvent](s.eventBus, eventCh)
		defer unsubscribe()

		var lastSeq uint64
		if h := logging.GetHistory(); h != nil {
			for _, entry := range h.ReadAll() {
				if err := send.Data(logEvent(entry)); err != nil {
					return
				}
				lastSeq = entry.Seq
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if e, ok := event.(events.LogEntryEvent); ok && e.Seq <= lastSeq {
					continue
				}
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}

func logEvent(entry logging.LogEntry) events.LogEntryEvent {
	return events.LogEntryEvent{
		Seq:        entry.Seq,
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Level:      entry.Level,
		Module:     entry.Module,
		Message:    entry.Message,
		Attributes: entry.Attributes,
	}
}
