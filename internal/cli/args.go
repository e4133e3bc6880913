// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// args.go - Argument parsing for speechrig commands.

package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/unicorn-commander/speechrig/internal/hardware"
)

// =============================================================================
// ARG PARSER
// =============================================================================

// ArgParser handles multiple flag formats consistently:
//   - Long flags: --flag value or --flag=value
//   - Boolean flags: --flag (never consume the next argument)
//   - Positional arguments: arguments without flags
//   - Subcommand: first positional argument
type ArgParser struct {
	subcommand string            // First positional arg (e.g., "install")
	flags      map[string]string // String flags (--key=value)
	boolFlags  map[string]bool   // Boolean flags (--json)
	positional []string          // All positional arguments including subcommand
	raw        []string          // Original raw arguments
}

// NewArgParser creates a parser. Names in boolNames are boolean flags and
// never take the following argument as their value.
//
// Example:
//
//	args := NewArgParser([]string{"--json", "detect", "--probe-timeout", "2s"}, "json")
//	args.Subcommand()            // "detect"
//	args.Flag("probe-timeout")   // "2s"
//	args.BoolFlag("json")        // true
func NewArgParser(raw []string, boolNames ...string) *ArgParser {
	isBool := make(map[string]bool, len(boolNames))
	for _, n := range boolNames {
		isBool[n] = true
	}

	parser := &ArgParser{
		flags:      make(map[string]string),
		boolFlags:  make(map[string]bool),
		positional: make([]string, 0),
		raw:        raw,
	}

	i := 0
	for i < len(raw) {
		arg := raw[i]

		if arg == "--" {
			parser.positional = append(parser.positional, raw[i+1:]...)
			break
		}

		if strings.HasPrefix(arg, "-") && len(arg) > 1 {
			// Handle --flag=value format
			if name, value, ok := strings.Cut(arg, "="); ok {
				flagName := strings.TrimLeft(name, "-")
				if isBool[flagName] && (value == "true" || value == "false") {
					parser.boolFlags[flagName] = value == "true"
				} else {
					parser.flags[flagName] = value
				}
				i++
				continue
			}

			flagName := strings.TrimLeft(arg, "-")
			if !isBool[flagName] && i+1 < len(raw) && !strings.HasPrefix(raw[i+1], "-") {
				parser.flags[flagName] = raw[i+1]
				i += 2
			} else {
				parser.boolFlags[flagName] = true
				i++
			}
			continue
		}

		parser.positional = append(parser.positional, arg)
		i++
	}

	if len(parser.positional) > 0 {
		parser.subcommand = parser.positional[0]
	}

	return parser
}

// Subcommand returns the first positional argument.
func (p *ArgParser) Subcommand() string {
	return p.subcommand
}

// Flag returns the value of a string flag, or "".
func (p *ArgParser) Flag(name string) string {
	return p.flags[strings.TrimLeft(name, "-")]
}

// BoolFlag returns the value of a boolean flag.
func (p *ArgParser) BoolFlag(name string) bool {
	return p.boolFlags[strings.TrimLeft(name, "-")]
}

// HasFlag returns true if the flag exists (either as string or bool flag).
func (p *ArgParser) HasFlag(name string) bool {
	name = strings.TrimLeft(name, "-")
	_, hasString := p.flags[name]
	_, hasBool := p.boolFlags[name]
	return hasString || hasBool
}

// Positional returns the positional argument at index, or "".
func (p *ArgParser) Positional(index int) string {
	if index < 0 || index >= len(p.positional) {
		return ""
	}
	return p.positional[index]
}

// PositionalCount returns the number of positional arguments.
func (p *ArgParser) PositionalCount() int {
	return len(p.positional)
}

// Unknown returns the flags not in known, sorted.
func (p *ArgParser) Unknown(known map[string]bool) []string {
	var out []string
	for name := range p.flags {
		if !known[name] {
			out = append(out, name)
		}
	}
	for name := range p.boolFlags {
		if !known[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Raw returns the original raw arguments.
func (p *ArgParser) Raw() []string {
	return p.raw
}

// =============================================================================
// SPEECHRIG ARGUMENTS
// =============================================================================

// boolFlagNames are the flags that take no value.
var boolFlagNames = []string{
	"json", "verbose", "v", "quiet", "q", "help", "h",
	"prefer-igpu", "no-prefer-npu", "no-cpu-fallback",
}

// valueFlagNames are the flags that take a value.
var valueFlagNames = []string{
	"stt-backend", "stt-variant", "tts-backend", "tts-variant",
	"config-dir", "compose-file", "probe-timeout", "verify-timeout",
}

// Args holds parsed CLI arguments.
type Args struct {
	Command Command

	// Global flags
	JSON    bool
	Verbose bool
	Quiet   bool

	// Selection flags. An empty backend means no override; "auto" clears a
	// pinned backend from config.toml.
	STTBackend    string
	STTVariant    hardware.Variant
	TTSBackend    string
	TTSVariant    hardware.Variant
	PreferIGPU    bool
	NoPreferNPU   bool
	NoCPUFallback bool

	// Settings overrides. Zero values leave the environment settings alone.
	ConfigDir     string
	ComposeFile   string
	ProbeTimeout  time.Duration
	VerifyTimeout time.Duration
}

// Parse parses argv (without the program name).
func Parse(argv []string) (Args, error) {
	p := NewArgParser(argv, boolFlagNames...)

	known := make(map[string]bool, len(boolFlagNames)+len(valueFlagNames))
	for _, n := range boolFlagNames {
		known[n] = true
	}
	for _, n := range valueFlagNames {
		known[n] = true
	}
	if unknown := p.Unknown(known); len(unknown) > 0 {
		return Args{}, NewValidationErrorWithExample("flag", "--"+unknown[0], "unknown flag", "speechrig install --stt-backend igpu")
	}
	for _, n := range boolFlagNames {
		if _, ok := p.flags[n]; ok {
			return Args{}, NewValidationError("flag", "--"+n+"="+p.flags[n], "takes no value")
		}
	}

	a := Args{
		JSON:          p.BoolFlag("json"),
		Verbose:       p.BoolFlag("verbose") || p.BoolFlag("v"),
		Quiet:         p.BoolFlag("quiet") || p.BoolFlag("q"),
		PreferIGPU:    p.BoolFlag("prefer-igpu"),
		NoPreferNPU:   p.BoolFlag("no-prefer-npu"),
		NoCPUFallback: p.BoolFlag("no-cpu-fallback"),
		ConfigDir:     p.Flag("config-dir"),
		ComposeFile:   p.Flag("compose-file"),
	}
	if a.Verbose && a.Quiet {
		return Args{}, NewValidationError("flag", "--verbose --quiet", "mutually exclusive")
	}

	name := p.Subcommand()
	if p.BoolFlag("help") || p.BoolFlag("h") {
		name = "help"
	}
	cmd, ok := LookupCommand(name)
	if !ok {
		return Args{}, NewValidationErrorWithExample("command", name, "unknown command", "speechrig detect")
	}
	a.Command = cmd
	if p.PositionalCount() > 1 && cmd != CmdHelp {
		return Args{}, NewValidationError("argument", p.Positional(1), "unexpected argument")
	}

	var err error
	if a.STTBackend, err = parseBackendFlag(p, "stt-backend"); err != nil {
		return Args{}, err
	}
	if a.TTSBackend, err = parseBackendFlag(p, "tts-backend"); err != nil {
		return Args{}, err
	}
	if a.STTVariant, err = parseVariantFlag(p, "stt-variant"); err != nil {
		return Args{}, err
	}
	if a.TTSVariant, err = parseVariantFlag(p, "tts-variant"); err != nil {
		return Args{}, err
	}
	if a.ProbeTimeout, err = parseDurationFlag(p, "probe-timeout"); err != nil {
		return Args{}, err
	}
	if a.VerifyTimeout, err = parseDurationFlag(p, "verify-timeout"); err != nil {
		return Args{}, err
	}
	for _, n := range []string{"config-dir", "compose-file"} {
		if p.HasFlag(n) && p.Flag(n) == "" {
			return Args{}, NewValidationError(n, "", "requires a value")
		}
	}
	return a, nil
}

func parseBackendFlag(p *ArgParser, name string) (string, error) {
	if !p.HasFlag(name) {
		return "", nil
	}
	v := strings.ToLower(p.Flag(name))
	if v == "auto" {
		return v, nil
	}
	c, err := hardware.ParseClass(v)
	if err != nil {
		return "", NewValidationErrorWithExample(name, p.Flag(name), "unknown backend", "--"+name+" igpu (npu, igpu, dgpu, cpu or auto)")
	}
	return string(c), nil
}

func parseVariantFlag(p *ArgParser, name string) (hardware.Variant, error) {
	if !p.HasFlag(name) {
		return "", nil
	}
	v, err := hardware.ParseVariant(p.Flag(name))
	if err != nil {
		return "", NewValidationErrorWithExample(name, p.Flag(name), "unknown variant", "--"+name+" lite (full or lite)")
	}
	return v, nil
}

func parseDurationFlag(p *ArgParser, name string) (time.Duration, error) {
	if !p.HasFlag(name) {
		return 0, nil
	}
	d, err := time.ParseDuration(p.Flag(name))
	if err != nil || d <= 0 {
		return 0, ErrInvalidFormat(name, p.Flag(name), fmt.Sprintf("--%s 30s (a positive duration)", name))
	}
	return d, nil
}
