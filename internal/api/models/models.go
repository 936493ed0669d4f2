// Package models defines the request and response bodies of the HTTP API.
package models

// HealthData reports service liveness.
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// VersionData reports build information.
type VersionData struct {
	Version   string `json:"version" example:"1.2.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"a1b2c3d" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2025-01-27T10:30:00Z" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"42" doc:"Build identifier"`
	Modified  bool   `json:"modified" doc:"Built from a tree with uncommitted changes"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go runtime version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Operating system and architecture"`
}

type VersionResponse struct {
	Body VersionData
}

// LogEntry is one line of the log history.
type LogEntry struct {
	Seq        uint64         `json:"seq" example:"1024" doc:"Sequence number, increasing across the process lifetime"`
	Timestamp  string         `json:"timestamp" example:"2025-01-27T10:30:00.123Z" doc:"Time the record was logged"`
	Level      string         `json:"level" example:"info" enum:"debug,info,warn,error" doc:"Log level"`
	Module     string         `json:"module" example:"vin" doc:"Module that logged the record"`
	Message    string         `json:"message" example:"Stream started" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured attributes"`
}

type LogsRequest struct {
	Tail  int    `query:"tail" minimum:"0" maximum:"10000" default:"200" doc:"Number of newest entries to return, 0 for all"`
	Since uint64 `query:"since" doc:"Only return entries with a sequence number above this"`
}

type LogsData struct {
	Entries []LogEntry `json:"entries" doc:"Log entries, oldest first"`
	Count   int        `json:"count" example:"200" doc:"Number of entries returned"`
}

type LogsResponse struct {
	Body LogsData
}

// LogLevelsData holds the global level and per-module overrides.
type LogLevelsData struct {
	Level   string            `json:"level" example:"info" doc:"Global log level: debug, info, warn or error"`
	Modules map[string]string `json:"modules,omitempty" doc:"Per-module levels"`
}

type LogLevelsRequest struct {
	Body LogLevelsData
}

type LogLevelsResponse struct {
	Body struct {
		Levels map[string]string `json:"levels" doc:"Effective level per module; \"*\" is the global level"`
	}
}
