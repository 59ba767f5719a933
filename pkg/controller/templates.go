package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wrgeorge1983/tom/pkg/parser"
	"github.com/wrgeorge1983/tom/pkg/tomerr"
)

// handleListTemplates implements GET /templates/{engine}, listing every
// index entry for the named engine ("T" or "P").
func (ctl *Controller) handleListTemplates(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	engine := parser.Engine(chi.URLParam(r, "engine"))
	if engine != parser.EngineT && engine != parser.EngineP {
		return nil, tomerr.ValidationError("unknown template engine %q", engine)
	}
	entries, err := ctl.Parser.ListTemplates(engine)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// handleTemplateMatch implements GET /templates/match?platform=&command=,
// reporting which template (if any) the CUSTOM/BUILTIN resolution chain
// would select without running it.
func (ctl *Controller) handleTemplateMatch(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	platform := r.URL.Query().Get("platform")
	command := r.URL.Query().Get("command")
	if command == "" {
		return nil, tomerr.ValidationError("command must not be empty")
	}

	entry, ok, err := ctl.Parser.FindTemplate(platform, command)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, tomerr.TemplateNotFoundError("no template matched platform=%q command=%q", platform, command)
	}
	return entry, nil
}

// parseTestRequest is the body of POST /parse/test, for ad-hoc template
// testing against arbitrary text outside any job.
type parseTestRequest struct {
	RawOutput        string      `json:"raw_output"`
	Command          string      `json:"command"`
	Hostname         string      `json:"hostname"`
	DevicePlatform   string      `json:"device_platform"`
	ExplicitTemplate string      `json:"template"`
	ExplicitEngine   parser.Engine `json:"engine"`
	InlineTemplate   string      `json:"inline_template"`
	IncludeRaw       bool        `json:"include_raw"`
}

func (ctl *Controller) handleParseTest(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	var req parseTestRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if req.RawOutput == "" {
		return nil, tomerr.ValidationError("raw_output must not be empty")
	}

	result, err := ctl.Parser.Parse(parser.Request{
		Hostname:         req.Hostname,
		DevicePlatform:   req.DevicePlatform,
		Command:          req.Command,
		RawOutput:        req.RawOutput,
		ExplicitTemplate: req.ExplicitTemplate,
		ExplicitEngine:   req.ExplicitEngine,
		InlineTemplate:   req.InlineTemplate,
		IncludeRaw:       req.IncludeRaw,
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
