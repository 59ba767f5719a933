package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/wrgeorge1983/tom/pkg/inventory"
	"github.com/wrgeorge1983/tom/pkg/tomerr"
	"github.com/wrgeorge1983/tom/pkg/types"
)

// commandOptions is the set of request options recognized by
// send_command[s] per §6, shared across the single- and multi-command
// endpoints and the raw adapter endpoints.
type commandOptions struct {
	Wait          *bool  `json:"wait"`
	RawOutput     bool   `json:"raw_output"`
	TimeoutS      int    `json:"timeout"`
	UseCache      *bool  `json:"use_cache"`
	CacheTTLS     int    `json:"cache_ttl"`
	CacheRefresh  bool   `json:"cache_refresh"`
	Parse         bool   `json:"parse"`
	Parser        string `json:"parser"`
	Template      string `json:"template"`
	IncludeRaw    bool   `json:"include_raw"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	Retries       int    `json:"retries"`
	MaxQueueWaitS int    `json:"max_queue_wait"`
}

func (o commandOptions) wait() bool {
	if o.Wait == nil {
		return true
	}
	return *o.Wait
}

func (o commandOptions) useCache() bool {
	if o.UseCache == nil {
		return true
	}
	return *o.UseCache
}

func (o commandOptions) maxQueueWait() int {
	if o.MaxQueueWaitS <= 0 {
		return 30
	}
	return o.MaxQueueWaitS
}

func (o commandOptions) timeout() int {
	if o.TimeoutS <= 0 {
		return 30
	}
	return o.TimeoutS
}

// sendCommandRequest is the body of POST /device/{name}/send_command.
type sendCommandRequest struct {
	commandOptions
	Command string `json:"command"`
}

// sendCommandsRequest is the body of POST /device/{name}/send_commands.
// Commands accepts either a flat list of strings, sharing the
// request-level options, or a list of per-command objects overriding
// parse/parser/template/include_raw individually (§6 "simple or
// per-command specs").
type sendCommandsRequest struct {
	commandOptions
	Commands commandsField `json:"commands"`
}

type commandsField []types.CommandSpec

func (c *commandsField) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(commandsField, 0, len(raw))
	for _, item := range raw {
		var asString string
		if err := json.Unmarshal(item, &asString); err == nil {
			out = append(out, types.CommandSpec{Command: asString})
			continue
		}
		var spec types.CommandSpec
		if err := json.Unmarshal(item, &spec); err != nil {
			return fmt.Errorf("command entry must be a string or an object: %w", err)
		}
		out = append(out, spec)
	}
	*c = out
	return nil
}

// rawAdapterRequest is the body of POST /raw/send_via_adapter_{A,B},
// bypassing inventory entirely (§6).
type rawAdapterRequest struct {
	commandOptions
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Driver   string            `json:"driver"`
	Command  string            `json:"command"`
	Options  map[string]string `json:"options"`
}

// resolveCredential chooses between an inline username/password override
// and the device's named credential_id, per §6's send_command[s]
// username/password options.
func resolveCredential(opts commandOptions, credentialID string) (string, *types.Credential) {
	if opts.Username != "" {
		return "", &types.Credential{Username: opts.Username, Password: opts.Password}
	}
	return credentialID, nil
}

// devicePlatform best-effort resolves a device's platform string from
// the inventory plugin's native record, since types.DeviceDescriptor
// itself carries no platform field (only adapter_driver, which names the
// transport driver, not the CLI dialect templates key on). Platform
// drives parser template matching (spec §4.4); a plugin that doesn't
// expose it simply yields an empty platform, falling back to
// command-only template matching.
func devicePlatform(ctx context.Context, inv inventory.Plugin, name string) string {
	records, err := inv.ListRaw(ctx, inventory.Filter{"name": "^" + regexp.QuoteMeta(name) + "$"})
	if err != nil || len(records) == 0 {
		return ""
	}
	if platform, ok := records[0]["platform"].(string); ok {
		return platform
	}
	return ""
}

func validateCommand(cmd string) error {
	if cmd == "" {
		return tomerr.ValidationError("command must not be empty")
	}
	return nil
}
