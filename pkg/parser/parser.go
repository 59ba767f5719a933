// Package parser implements the two-engine template dispatch described in
// spec §4.4: Engine T (regex-per-field, flat records) and Engine P
// (hierarchical patterns, nested structure), selected by precedence
// EXPLICIT > INLINE > CUSTOM > BUILTIN.
//
// No example in the retrieval pack ships a textfsm- or ttp-style parsing
// library, so both engines are implemented directly against regexp; see
// DESIGN.md for that justification.
package parser

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/wrgeorge1983/tom/pkg/tomerr"
	"github.com/wrgeorge1983/tom/pkg/types"
)

// Engine identifies which template syntax a parse request uses.
type Engine string

const (
	EngineT Engine = "T" // regex-per-field, textfsm-like
	EngineP Engine = "P" // hierarchical pattern, ttp-like
)

// Request describes one parse operation.
type Request struct {
	Hostname       string
	DevicePlatform string
	Command        string
	RawOutput      string

	// ExplicitTemplate, when set, names a template file to load from
	// either the custom or builtin template directory (custom wins if
	// both contain the name). Highest precedence.
	ExplicitTemplate string
	// ExplicitEngine disambiguates ExplicitTemplate's engine when the
	// filename alone doesn't carry an extension convention.
	ExplicitEngine Engine

	// InlineTemplate, when set (and ExplicitTemplate is not), is Engine
	// P template text supplied directly in the request.
	InlineTemplate string

	IncludeRaw bool
}

// Result is the parse response envelope described in spec §4.4.
type Result struct {
	Parsed   interface{} `json:"parsed"`
	Raw      string      `json:"raw,omitempty"`
	Metadata Metadata    `json:"_metadata"`
}

// Metadata reports which template actually produced a Result.
type Metadata struct {
	TemplateSource types.TemplateSource `json:"template_source"`
	TemplateName   string               `json:"template_name"`
}

// Dispatcher resolves and runs templates from the custom and builtin
// template directories described in spec §6 configuration.
type Dispatcher struct {
	CustomDir  string
	BuiltinDir string

	mu    sync.Mutex
	cache map[string]*textFSMTemplate // builtin engine-T templates keyed by filename, loaded lazily
}

// NewDispatcher builds a Dispatcher over the two configured template
// directories.
func NewDispatcher(customDir, builtinDir string) *Dispatcher {
	return &Dispatcher{CustomDir: customDir, BuiltinDir: builtinDir, cache: map[string]*textFSMTemplate{}}
}

// Parse resolves a template by precedence (EXPLICIT > INLINE > CUSTOM >
// BUILTIN) and runs it against req.RawOutput. Template index contents are
// never cached across calls beyond the lifetime of this call, per spec
// §3's TemplateEntry lifecycle note; only compiled builtin Engine T
// templates are memoized, since the builtin library ships with the
// binary and cannot change underneath a running process.
func (d *Dispatcher) Parse(req Request) (*Result, error) {
	if req.ExplicitTemplate != "" {
		return d.parseExplicit(req)
	}
	if req.InlineTemplate != "" {
		return d.parseInline(req)
	}
	if entry, ok, err := d.resolveCustom(req); err != nil {
		return nil, err
	} else if ok {
		return d.runFile(filepath.Join(d.CustomDir, entry.Filename), EngineT, types.TemplateSourceCustom, entry.Filename, req)
	}
	if entry, ok, err := d.resolveBuiltin(req); err != nil {
		return nil, err
	} else if ok {
		return d.runFile(filepath.Join(d.BuiltinDir, entry.Filename), EngineT, types.TemplateSourceBuiltin, entry.Filename, req)
	}
	return nil, tomerr.TemplateNotFoundError("no template matched platform=%q command=%q", req.DevicePlatform, req.Command)
}

func (d *Dispatcher) parseExplicit(req Request) (*Result, error) {
	// custom directory shadows builtin for an explicit filename
	path := filepath.Join(d.CustomDir, req.ExplicitTemplate)
	if !fileExists(path) {
		path = filepath.Join(d.BuiltinDir, req.ExplicitTemplate)
	}
	if !fileExists(path) {
		return nil, tomerr.TemplateNotFoundError("explicit template %q not found", req.ExplicitTemplate)
	}
	engine := req.ExplicitEngine
	if engine == "" {
		engine = templateEngine(req.ExplicitTemplate)
	}
	return d.runFile(path, engine, types.TemplateSourceExplicit, req.ExplicitTemplate, req)
}

func (d *Dispatcher) parseInline(req Request) (*Result, error) {
	tmpl, err := compileTTP(req.InlineTemplate)
	if err != nil {
		return nil, tomerr.ParseFailure(err, "inline template")
	}
	parsed, err := tmpl.Parse(req.RawOutput)
	if err != nil {
		return nil, tomerr.ParseFailure(err, "inline template execution")
	}
	return toResult(parsed, types.TemplateSourceInline, "<inline>", req)
}

func (d *Dispatcher) resolveCustom(req Request) (*types.TemplateEntry, bool, error) {
	return d.resolveFromIndexDir(d.CustomDir, req, types.TemplateSourceCustom)
}

func (d *Dispatcher) resolveBuiltin(req Request) (*types.TemplateEntry, bool, error) {
	return d.resolveFromIndexDir(d.BuiltinDir, req, types.TemplateSourceBuiltin)
}

func (d *Dispatcher) resolveFromIndexDir(dir string, req Request, source types.TemplateSource) (*types.TemplateEntry, bool, error) {
	if dir == "" {
		return nil, false, nil
	}
	f, err := os.Open(filepath.Join(dir, "index.csv"))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, tomerr.InternalError(err, "open template index %s", dir)
	}
	defer f.Close()

	entries, err := loadIndex(f, source)
	if err != nil {
		return nil, false, tomerr.InternalError(err, "load template index %s", dir)
	}
	entry, ok := match(entries, req.Hostname, req.DevicePlatform, req.Command)
	return entry, ok, nil
}

func (d *Dispatcher) runFile(path string, engine Engine, source types.TemplateSource, name string, req Request) (*Result, error) {
	if engine == EngineP {
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, tomerr.TemplateNotFoundError("template %q: %v", name, err)
		}
		tmpl, err := compileTTP(string(text))
		if err != nil {
			return nil, tomerr.ParseFailure(err, "compile template %s", name)
		}
		parsed, err := tmpl.Parse(req.RawOutput)
		if err != nil {
			return nil, tomerr.ParseFailure(err, "execute template %s", name)
		}
		return toResult(parsed, source, name, req)
	}

	// Only the builtin library is memoized: it ships with the binary and
	// cannot change underneath a running process. Custom and explicit
	// templates are re-read and re-compiled on every call, matching the
	// TemplateEntry lifecycle note in spec §3.
	tmpl, err := d.loadTextFSM(path, source == types.TemplateSourceBuiltin)
	if err != nil {
		return nil, err
	}
	parsed, err := tmpl.Parse(req.RawOutput)
	if err != nil {
		return nil, tomerr.ParseFailure(err, "execute template %s", name)
	}
	return toResult(parsed, source, name, req)
}

func (d *Dispatcher) loadTextFSM(path string, memoize bool) (*textFSMTemplate, error) {
	if memoize {
		d.mu.Lock()
		if tmpl, ok := d.cache[path]; ok {
			d.mu.Unlock()
			return tmpl, nil
		}
		d.mu.Unlock()
	}

	text, err := os.ReadFile(path)
	if err != nil {
		return nil, tomerr.TemplateNotFoundError("template %q: %v", path, err)
	}
	tmpl, err := compileTextFSM(string(text))
	if err != nil {
		return nil, tomerr.ParseFailure(err, "compile template %s", path)
	}

	if memoize {
		d.mu.Lock()
		d.cache[path] = tmpl
		d.mu.Unlock()
	}
	return tmpl, nil
}

func toResult(parsed interface{}, source types.TemplateSource, name string, req Request) (*Result, error) {
	res := &Result{
		Parsed:   parsed,
		Metadata: Metadata{TemplateSource: source, TemplateName: name},
	}
	if req.IncludeRaw {
		res.Raw = req.RawOutput
	}
	return res, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FindTemplate reports which template would be chosen for (platform,
// command) without running it — the find_template capability of spec §6,
// and the backing for GET /templates/match. It never considers EXPLICIT or
// INLINE, since both require a per-request value this lookup doesn't have.
func (d *Dispatcher) FindTemplate(platform, command string) (*types.TemplateEntry, bool, error) {
	req := Request{DevicePlatform: platform, Command: command}
	if entry, ok, err := d.resolveCustom(req); err != nil {
		return nil, false, err
	} else if ok {
		return entry, true, nil
	}
	if entry, ok, err := d.resolveBuiltin(req); err != nil {
		return nil, false, err
	} else if ok {
		return entry, true, nil
	}
	return nil, false, nil
}

// ListTemplates returns every index entry for one engine, custom entries
// before builtin. Engine P has no builtin library (spec §4.4), so only
// its custom entries (by the ".ttp" filename convention) are ever
// returned for it.
func (d *Dispatcher) ListTemplates(engine Engine) ([]types.TemplateEntry, error) {
	out, err := d.listIndexDir(d.CustomDir, types.TemplateSourceCustom, engine)
	if err != nil {
		return nil, err
	}
	if engine == EngineT {
		builtin, err := d.listIndexDir(d.BuiltinDir, types.TemplateSourceBuiltin, engine)
		if err != nil {
			return nil, err
		}
		out = append(out, builtin...)
	}
	return out, nil
}

func (d *Dispatcher) listIndexDir(dir string, source types.TemplateSource, engine Engine) ([]types.TemplateEntry, error) {
	if dir == "" {
		return nil, nil
	}
	f, err := os.Open(filepath.Join(dir, "index.csv"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, tomerr.InternalError(err, "open template index %s", dir)
	}
	defer f.Close()

	entries, err := loadIndex(f, source)
	if err != nil {
		return nil, tomerr.InternalError(err, "load template index %s", dir)
	}
	var out []types.TemplateEntry
	for _, e := range entries {
		if templateEngine(e.Filename) == engine {
			out = append(out, e.TemplateEntry)
		}
	}
	return out, nil
}
