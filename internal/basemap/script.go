package basemap

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/woozymasta/basemaphist/internal/config"
)

// apiKeyPlaceholder stands in for the key so it never lands in the script.
const apiKeyPlaceholder = "@@API_KEY@@"

// ScriptExporter writes gdal_translate commands instead of downloading.
type ScriptExporter struct {
	w           io.Writer
	source      Source
	compression string
	mu          sync.Mutex
	header      bool
	commands    int
}

// NewScriptExporter writes a POSIX shell script to w.
func NewScriptExporter(w io.Writer, source Source, compression string) *ScriptExporter {
	source.APIKey = apiKeyPlaceholder
	return &ScriptExporter{w: w, source: source, compression: compression}
}

// Commands returns how many commands were written.
func (s *ScriptExporter) Commands() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commands
}

// Export implements Exporter.
func (s *ScriptExporter) Export(_ context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.header {
		if _, err := fmt.Fprintf(s.w, "#!/bin/sh\n# GDAL commands to retrieve monthly basemaps\n# requires %s in the environment\nset -e\n\n", config.APIKeyName); err != nil {
			return err
		}
		s.header = true
	}

	descriptor, err := s.source.Descriptor(req.Month)
	if err != nil {
		return err
	}
	descriptor = strings.ReplaceAll(shellQuote(descriptor), apiKeyPlaceholder, `'"${`+config.APIKeyName+`}"'`)

	out := req.OutputPath()
	args := make([]string, 0, 16)
	for _, a := range req.TranslateSwitches(s.compression) {
		args = append(args, shellQuote(a))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", out)
	if dir := filepath.Dir(out); dir != "." {
		fmt.Fprintf(&b, "mkdir -p %s\n", shellQuote(dir))
	}
	fmt.Fprintf(&b, "[ -s %s ] || { gdal_translate %s %s %s && mv %s %s; }\n\n",
		shellQuote(out),
		strings.Join(args, " "),
		descriptor,
		shellQuote(out+".part"),
		shellQuote(out+".part"),
		shellQuote(out),
	)

	if _, err := io.WriteString(s.w, b.String()); err != nil {
		return err
	}
	s.commands++
	return nil
}

func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./:=,", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
