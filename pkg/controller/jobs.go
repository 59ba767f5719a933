package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wrgeorge1983/tom/pkg/parser"
	"github.com/wrgeorge1983/tom/pkg/tomerr"
	"github.com/wrgeorge1983/tom/pkg/types"
)

// jobResponse is the JSON envelope returned by send_command[s] and
// /job/{id}, per the examples in spec §8.4.
type jobResponse struct {
	JobID  string          `json:"job_id"`
	Status types.JobStatus `json:"status"`
	Result *types.JobResult `json:"result,omitempty"`
	Error  *types.JobError  `json:"error,omitempty"`
	Parsed map[string]*parser.Result `json:"parsed,omitempty"`
}

func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return tomerr.ValidationError("invalid request body: %v", err)
	}
	return nil
}

func (ctl *Controller) handleSendCommand(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	name := chi.URLParam(r, "name")
	var req sendCommandRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if err := validateCommand(req.Command); err != nil {
		return nil, err
	}

	desc, err := ctl.Inventory.GetDevice(r.Context(), name)
	if err != nil {
		return nil, err
	}

	spec := types.CommandSpec{Command: req.Command}
	if req.Parse {
		t := true
		spec.Parse = &t
	}
	if req.Parser != "" {
		spec.Parser = &req.Parser
	}
	if req.Template != "" {
		spec.Template = &req.Template
	}
	if req.IncludeRaw {
		t := true
		spec.IncludeRaw = &t
	}

	if err := validateRawOutput(req.commandOptions); err != nil {
		return nil, err
	}

	job, timedOut, err := ctl.dispatch(r.Context(), name, desc, []types.CommandSpec{spec}, req.commandOptions)
	if err != nil {
		return nil, err
	}
	if timedOut {
		return nil, tomerr.TimeoutFailure("job %s did not reach a terminal status within the wait deadline; poll /job/%s", job.ID, job.ID)
	}
	return ctl.renderResponse(r.Context(), job, req.commandOptions)
}

func (ctl *Controller) handleSendCommands(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	name := chi.URLParam(r, "name")
	var req sendCommandsRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if len(req.Commands) == 0 {
		return nil, tomerr.ValidationError("commands must not be empty")
	}
	for _, c := range req.Commands {
		if err := validateCommand(c.Command); err != nil {
			return nil, err
		}
	}

	desc, err := ctl.Inventory.GetDevice(r.Context(), name)
	if err != nil {
		return nil, err
	}

	if err := validateRawOutput(req.commandOptions); err != nil {
		return nil, err
	}

	job, timedOut, err := ctl.dispatch(r.Context(), name, desc, []types.CommandSpec(req.Commands), req.commandOptions)
	if err != nil {
		return nil, err
	}
	if timedOut {
		return nil, tomerr.TimeoutFailure("job %s did not reach a terminal status within the wait deadline; poll /job/%s", job.ID, job.ID)
	}
	return ctl.renderResponse(r.Context(), job, req.commandOptions)
}

// handleRawAdapter returns a handler for /raw/send_via_adapter_{A,B},
// which bypasses inventory entirely: the caller supplies host/driver
// inline (§6).
func (ctl *Controller) handleRawAdapter(adapter types.Adapter) apiHandler {
	return func(w http.ResponseWriter, r *http.Request) (interface{}, error) {
		var req rawAdapterRequest
		if err := decodeBody(r, &req); err != nil {
			return nil, err
		}
		if req.Host == "" {
			return nil, tomerr.ValidationError("host must not be empty")
		}
		if err := validateCommand(req.Command); err != nil {
			return nil, err
		}

		desc := &types.DeviceDescriptor{
			Name:           req.Host,
			Host:           req.Host,
			Port:           req.Port,
			Adapter:        adapter,
			AdapterDriver:  req.Driver,
			AdapterOptions: req.Options,
		}
		if err := desc.Validate(); err != nil {
			return nil, tomerr.ValidationError("%v", err)
		}
		if err := validateRawOutput(req.commandOptions); err != nil {
			return nil, err
		}

		job, timedOut, err := ctl.dispatch(r.Context(), req.Host, desc, []types.CommandSpec{{Command: req.Command}}, req.commandOptions)
		if err != nil {
			return nil, err
		}
		if timedOut {
			return nil, tomerr.TimeoutFailure("job %s did not reach a terminal status within the wait deadline; poll /job/%s", job.ID, job.ID)
		}
		return ctl.renderResponse(r.Context(), job, req.commandOptions)
	}
}

// validateRawOutput enforces that raw_output=true is only ever paired with
// a synchronous (wait=true, the default) request, since raw text rendering
// needs the job's final result immediately (§4.5).
func validateRawOutput(opts commandOptions) error {
	if opts.RawOutput && !opts.wait() {
		return tomerr.ValidationError("raw_output requires wait=true")
	}
	return nil
}

// dispatch builds and enqueues a JobPayload/JobMetadata pair for one
// device, then either waits for the job to reach a terminal status (the
// default, per §6 "wait") or returns immediately with the QUEUED
// snapshot. A true timedOut return means the wait deadline elapsed before
// the job went terminal; the job itself is left QUEUED/ACTIVE and
// pollable via /job/{id} — dispatch never discards it.
func (ctl *Controller) dispatch(ctx context.Context, deviceName string, desc *types.DeviceDescriptor, specs []types.CommandSpec, opts commandOptions) (job *types.Job, timedOut bool, err error) {
	credentialRef, override := resolveCredential(opts, desc.CredentialID)

	payload := types.JobPayload{
		Host:               desc.Host,
		Port:               desc.Port,
		Adapter:            desc.Adapter,
		AdapterDriver:      desc.AdapterDriver,
		Commands:           specs,
		CredentialRef:      credentialRef,
		CredentialOverride: override,
		AdapterOptions:     desc.AdapterOptions,
		RetriesRemaining:   opts.Retries,
		MaxQueueWaitS:      opts.maxQueueWait(),
		TimeoutS:           opts.timeout(),
		UseCache:           opts.useCache(),
		CacheTTLS:          opts.CacheTTLS,
		CacheRefresh:       opts.CacheRefresh,
	}
	meta := types.JobMetadata{
		DeviceName:     deviceName,
		DevicePlatform: devicePlatform(ctx, ctl.Inventory, deviceName),
		Commands:       specs,
		Parse:          opts.Parse,
		Parser:         opts.Parser,
		Template:       opts.Template,
		IncludeRaw:     opts.IncludeRaw,
	}

	id, enqueueErr := ctl.Queue.Enqueue(ctx, payload, meta)
	if enqueueErr != nil {
		return nil, false, tomerr.InternalError(enqueueErr, "enqueue job")
	}

	if !opts.wait() {
		snapshot, pollErr := ctl.Queue.Poll(ctx, id)
		if pollErr != nil {
			return nil, false, tomerr.InternalError(pollErr, "poll job %s", id)
		}
		return snapshot, false, nil
	}

	deadline := time.Duration(opts.maxQueueWait())*time.Second + time.Duration(opts.timeout())*time.Second + 5*time.Second
	result, ok, waitErr := ctl.Queue.Wait(ctx, id, deadline)
	if waitErr != nil {
		return nil, false, tomerr.InternalError(waitErr, "wait for job %s", id)
	}
	if !ok {
		return result, true, nil // deadline elapsed; job left non-terminal, caller polls /job/{id} themselves
	}
	return result, false, nil
}

func (ctl *Controller) handleGetJob(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	id := chi.URLParam(r, "id")
	job, err := ctl.Queue.Poll(r.Context(), id)
	if err != nil {
		return nil, tomerr.NotFoundError("job %s: %v", id, err)
	}

	opts := commandOptions{}
	if r.URL.Query().Get("parse") == "true" {
		opts.Parse = true
	}
	opts.Parser = r.URL.Query().Get("parser")
	opts.Template = r.URL.Query().Get("template")
	if v := r.URL.Query().Get("include_raw"); v != "" {
		opts.IncludeRaw = v == "true"
	}
	return ctl.renderJob(r.Context(), job, opts)
}

// resolveBoolOverride returns override's value if the command set it,
// otherwise fallback (the request/job-level setting).
func resolveBoolOverride(override *bool, fallback bool) bool {
	if override != nil {
		return *override
	}
	return fallback
}

// resolveTemplateOverride applies the CommandSpec > request opts >
// stored job metadata precedence (§9 resolution on per-command parse
// overrides) to pick a command's template/engine.
func resolveTemplateOverride(spec types.CommandSpec, opts commandOptions, meta types.JobMetadata) (template string, engine parser.Engine) {
	switch {
	case spec.Template != nil && *spec.Template != "":
		template = *spec.Template
	case opts.Template != "":
		template = opts.Template
	case meta.Template != "":
		template = meta.Template
	}
	switch {
	case spec.Parser != nil && *spec.Parser != "":
		engine = parser.Engine(*spec.Parser)
	case opts.Parser != "":
		engine = parser.Engine(opts.Parser)
	case meta.Parser != "":
		engine = parser.Engine(meta.Parser)
	}
	return template, engine
}

// renderJob converts a Job snapshot into the JSON envelope, re-parsing
// stored raw output on demand when parse=true is requested at retrieval
// time (§4.4's resolution: parsing is never mandatory at job-completion
// time, only at retrieval). Each command's own Parse/Parser/Template/
// IncludeRaw override, if set, wins over the request-level opts, which in
// turn win over the metadata recorded at dispatch time (§9).
func (ctl *Controller) renderJob(ctx context.Context, job *types.Job, opts commandOptions) (*jobResponse, error) {
	ctl.FailedJobs.Record(job)
	ctl.DeviceHistory.Record(job)
	resp := &jobResponse{JobID: job.ID, Status: job.Status, Result: job.Result, Error: job.Error}
	if job.Result == nil {
		return resp, nil
	}

	resp.Parsed = make(map[string]*parser.Result, len(job.Result.Data))
	for _, spec := range job.Metadata.Commands {
		if !resolveBoolOverride(spec.Parse, opts.Parse || job.Metadata.Parse) {
			continue
		}
		raw, ok := job.Result.Data[spec.Command]
		if !ok {
			continue
		}
		template, engine := resolveTemplateOverride(spec, opts, job.Metadata)
		req := parser.Request{
			Hostname:         job.Metadata.DeviceName,
			DevicePlatform:   job.Metadata.DevicePlatform,
			Command:          spec.Command,
			RawOutput:        raw,
			ExplicitTemplate: template,
			ExplicitEngine:   engine,
			IncludeRaw:       resolveBoolOverride(spec.IncludeRaw, opts.IncludeRaw || job.Metadata.IncludeRaw),
		}
		result, err := ctl.Parser.Parse(req)
		if err != nil {
			if te, ok := tomerr.As(err); ok && te.Kind == tomerr.TemplateNotFound {
				continue // leave this command unparsed rather than failing the whole job retrieval
			}
			return nil, err
		}
		resp.Parsed[spec.Command] = result
	}
	return resp, nil
}

// renderResponse shapes a just-dispatched job's result for send_command[s]
// and the raw adapter endpoints: the JSON envelope by default, or plain
// text when raw_output was requested. raw_output is validated elsewhere
// (validateRawOutput) to always pair with wait=true, so by the time this
// runs the job is expected to already be terminal. A FAILED job still
// renders as plain text when raw_output was requested, per §7: the body
// is the error message and the status is the error kind's mapped code,
// never the JSON envelope.
func (ctl *Controller) renderResponse(ctx context.Context, job *types.Job, opts commandOptions) (interface{}, error) {
	if !opts.RawOutput {
		return ctl.renderJob(ctx, job, opts)
	}
	if job.Status == types.JobStatusFailed {
		ctl.FailedJobs.Record(job)
		ctl.DeviceHistory.Record(job)
		status := http.StatusInternalServerError
		message := "job failed"
		if job.Error != nil {
			status = tomerr.StatusForKind(tomerr.Kind(job.Error.Kind))
			message = job.Error.Message
		}
		return rawError{text: message, status: status}, nil
	}
	if job.Status != types.JobStatusComplete {
		return ctl.renderJob(ctx, job, opts)
	}

	if len(job.Metadata.Commands) == 1 {
		return rawText(job.Result.Data[job.Metadata.Commands[0].Command]), nil
	}

	var b strings.Builder
	for i, spec := range job.Metadata.Commands {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "### %s ###\n", spec.Command)
		b.WriteString(job.Result.Data[spec.Command])
	}
	return rawText(b.String()), nil
}
