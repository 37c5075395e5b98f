package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/videocap/internal/api/models"
	"github.com/smazurov/videocap/internal/logging"
)

// LogQueryInput filters the log history.
type LogQueryInput struct {
	Limit  int    `query:"limit" minimum:"0" default:"100" doc:"Maximum entries to return, newest kept; 0 returns all"`
	Module string `query:"module" example:"capture" doc:"Only entries from this module"`
	Level  string `query:"level" enum:"debug,info,warn,error" doc:"Only entries at or above this level"`
}

// LogLevelInput changes one module's level.
type LogLevelInput struct {
	Module string `path:"module" example:"capture" doc:"Logger module"`
	Body   struct {
		Level string `json:"level" enum:"debug,info,warn,error" example:"debug" doc:"New level"`
	}
}

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Recent Logs",
		Description: "Recent log records from the in-memory history, oldest first",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, input *LogQueryInput) (*models.LogResponse, error) {
		history := logging.GetHistory()
		entries := history.Entries(0)

		minRank := levelRank[input.Level]
		filtered := make([]logging.Entry, 0, len(entries))
		for _, e := range entries {
			if input.Module != "" && e.Module != input.Module {
				continue
			}
			if input.Level != "" && levelRank[e.Level] < minRank {
				continue
			}
			filtered = append(filtered, e)
		}
		if input.Limit > 0 && len(filtered) > input.Limit {
			filtered = filtered[len(filtered)-input.Limit:]
		}

		return &models.LogResponse{
			Body: models.LogData{Entries: filtered, Count: len(filtered), Limit: history.Cap()},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-log-levels",
		Method:      http.MethodGet,
		Path:        "/api/logs/levels",
		Summary:     "Log Levels",
		Description: "Current level of every logger module",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.LogLevelsResponse, error) {
		return &models.LogLevelsResponse{Body: models.LogLevelsData{Modules: logging.Levels()}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-log-level",
		Method:      http.MethodPut,
		Path:        "/api/logs/levels/{module}",
		Summary:     "Set Log Level",
		Description: "Change one module's level until the next restart or config reload",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{400, 401},
	}, func(_ context.Context, input *LogLevelInput) (*models.LogLevelsResponse, error) {
		if err := logging.SetModuleLevel(input.Module, input.Body.Level); err != nil {
			return nil, huma.Error400BadRequest("Invalid log level", err)
		}
		s.logger.Info("log level changed", "target", input.Module, "level", input.Body.Level)
		return &models.LogLevelsResponse{Body: models.LogLevelsData{Modules: logging.Levels()}}, nil
	})
}
