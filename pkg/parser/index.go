package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/wrgeorge1983/tom/pkg/types"
)

// indexEntry is one compiled row of a template index CSV.
type indexEntry struct {
	types.TemplateEntry
	hostnameRe *regexp.Regexp
	platformRe *regexp.Regexp
	commandRe  *regexp.Regexp
}

// loadIndex reads a CSV template index with header "Template, Hostname,
// Platform, Command". All four fields support regular expressions;
// Hostname defaults to ".*" when blank. Matching against platform and
// command is case-insensitive.
func loadIndex(r io.Reader, source types.TemplateSource) ([]indexEntry, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index header: %w", err)
	}
	if err := validateHeader(header); err != nil {
		return nil, err
	}

	var entries []indexEntry
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read index row: %w", err)
		}
		if len(row) != 4 {
			return nil, fmt.Errorf("index row has %d fields, want 4: %v", len(row), row)
		}

		filename := strings.TrimSpace(row[0])
		hostname := strings.TrimSpace(row[1])
		platform := strings.TrimSpace(row[2])
		command := strings.TrimSpace(row[3])
		if hostname == "" {
			hostname = ".*"
		}

		hostnameRe, err := regexp.Compile("(?i)" + hostname)
		if err != nil {
			return nil, fmt.Errorf("compile hostname regex %q: %w", hostname, err)
		}
		platformRe, err := regexp.Compile("(?i)" + platform)
		if err != nil {
			return nil, fmt.Errorf("compile platform regex %q: %w", platform, err)
		}
		commandRe, err := regexp.Compile("(?i)" + command)
		if err != nil {
			return nil, fmt.Errorf("compile command regex %q: %w", command, err)
		}

		entries = append(entries, indexEntry{
			TemplateEntry: types.TemplateEntry{
				Filename:      filename,
				HostnameRegex: hostname,
				PlatformKey:   platform,
				CommandRegex:  command,
				Source:        source,
			},
			hostnameRe: hostnameRe,
			platformRe: platformRe,
			commandRe:  commandRe,
		})
	}
	return entries, nil
}

func validateHeader(header []string) error {
	want := []string{"Template", "Hostname", "Platform", "Command"}
	if len(header) != len(want) {
		return fmt.Errorf("index header has %d columns, want %d", len(header), len(want))
	}
	for i, col := range want {
		if !strings.EqualFold(strings.TrimSpace(header[i]), col) {
			return fmt.Errorf("index header column %d is %q, want %q", i, header[i], col)
		}
	}
	return nil
}

// match returns the first entry whose (hostname, platform, command)
// patterns all match, in file order — first match wins.
func match(entries []indexEntry, hostname, platform, command string) (*types.TemplateEntry, bool) {
	for _, e := range entries {
		if e.hostnameRe.MatchString(hostname) && e.platformRe.MatchString(platform) && e.commandRe.MatchString(command) {
			te := e.TemplateEntry
			return &te, true
		}
	}
	return nil, false
}

// templateEngine infers a template's engine from its filename convention:
// ".ttp" is Engine P, everything else (".textfsm" and otherwise) is Engine
// T, matching the two engines' compiler entry points.
func templateEngine(filename string) Engine {
	if strings.HasSuffix(filename, ".ttp") {
		return EngineP
	}
	return EngineT
}
