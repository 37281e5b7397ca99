package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/nanoncore/fcr/fcrerr"
)

// rawProfile is the on-disk shape of one vendor entry inside a
// vendor-config file: {vendor_name, session_type, supported_sessions,
// prompt_regex, cli_setup, shell_prompts?}. Regexes are plain strings;
// compile turns them into *regexp.Regexp and fills in defaults.
// ClearCommand and DefaultTimeoutMS are FCR extensions beyond the
// documented vendor-config shape, additive rather than a rename of any
// documented field — see DESIGN.md's Open Questions.
type rawProfile struct {
	VendorName        string   `json:"vendor_name"`
	SessionType       string   `json:"session_type"`
	SupportedSessions []string `json:"supported_sessions"`
	PromptRegex       []string `json:"prompt_regex"`
	CliSetup          []string `json:"cli_setup"`
	ShellPrompts      []string `json:"shell_prompts"`
	ClearCommand      string   `json:"clear_command"`
	DefaultTimeoutMS  int64    `json:"default_timeout_ms"`
}

// rawFile is the top-level vendor-config document: {"vendor_config": {name:
// profile, ...}}.
type rawFile struct {
	VendorConfig map[string]rawProfile `json:"vendor_config"`
}

// Registry holds the fleet's compiled vendor profiles, keyed by name.
// It is built once at startup via Load and is read-only thereafter;
// concurrent Get calls need no locking because the backing map is never
// mutated after construction.
type Registry struct {
	profiles map[string]*Profile
}

// Load builds a Registry from the built-in default table overlaid with
// any entries in the vendor-config file at path. An empty path returns
// the defaults unmodified. On a name collision the file's entry always
// wins over the corresponding default, replacing it wholesale rather than
// merging field by field.
func Load(path string) (*Registry, error) {
	profiles := buildDefaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fcrerr.Wrapf(fcrerr.Validation, err, "read vendor config %q", path)
		}

		var doc rawFile
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fcrerr.Wrapf(fcrerr.Validation, err, "parse vendor config %q", path)
		}

		for name, raw := range doc.VendorConfig {
			p, err := compile(name, raw)
			if err != nil {
				return nil, fcrerr.Wrapf(fcrerr.Validation, err, "vendor %q", name)
			}
			profiles[name] = p
		}
	}

	return &Registry{profiles: profiles}, nil
}

// Get returns the profile registered under name, or (nil, false) if no
// such vendor is known.
func (r *Registry) Get(name string) (*Profile, bool) {
	p, ok := r.profiles[name]
	return p, ok
}

// Names returns every registered vendor name, for diagnostics.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		out = append(out, name)
	}
	return out
}

func compile(name string, raw rawProfile) (*Profile, error) {
	// supported_sessions lists the wire-level session families the
	// vendor admits ("ssh", "netconf"); the presence of "netconf"
	// selects the NETCONF transport, matching session_type's fixed
	// value "ssh" staying true of the underlying carrier either way.
	kind := SessionCLI
	for _, s := range raw.SupportedSessions {
		if s == "netconf" {
			kind = SessionNetconf
		}
	}

	p := &Profile{
		Name:        name,
		SessionKind: kind,
	}

	if kind == SessionCLI && len(raw.PromptRegex) == 0 {
		raw.PromptRegex = []string{defaultPromptPattern}
	}

	for _, pat := range raw.PromptRegex {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("compile prompt regex %q: %w", pat, err)
		}
		p.PromptRegexes = append(p.PromptRegexes, re)
	}
	for _, pat := range raw.ShellPrompts {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("compile shell prompt regex %q: %w", pat, err)
		}
		p.ShellPromptRegexes = append(p.ShellPromptRegexes, re)
	}

	p.SetupCommands = raw.CliSetup

	if raw.ClearCommand != "" {
		p.ClearCommand = []byte(raw.ClearCommand)
	} else {
		p.ClearCommand = append([]byte(nil), defaultClearCommand...)
	}

	if raw.DefaultTimeoutMS > 0 {
		p.DefaultTimeout = time.Duration(raw.DefaultTimeoutMS) * time.Millisecond
	} else {
		p.DefaultTimeout = 30 * time.Second
	}

	return p, nil
}
