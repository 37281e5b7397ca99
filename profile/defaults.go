package profile

import (
	"regexp"
	"time"
)

// defaultSource is the unparsed form of the built-in vendor table.
// buildDefaults turns it into Profiles directly; it does not go through
// compile, which handles vendor-config file entries.
type defaultSource struct {
	prompt       string
	setupPager   string
	sessionKind  SessionKind
	shellPattern string
}

// defaultPromptPattern matches common CLI prompts like "hostname#" or
// "hostname>" for vendors with no more specific entry.
const defaultPromptPattern = `(?m)[\w\-\[\]()]+[#>]\s*$`

// defaultTable is the in-process vendor table seeded from the fleet's
// known device families. A vendor-config file entry with the same name
// always wins over these.
var defaultTable = map[string]defaultSource{
	"huawei": {
		prompt:      `(?m)(<[\w\-]+>|\[[\w\-~]+\])\s*$`,
		setupPager:  "screen-length 0 temporary",
		sessionKind: SessionCLI,
	},
	"vsol": {
		prompt:      `(?m)[\w\-]+[#>]\s*$`,
		setupPager:  "terminal length 0",
		sessionKind: SessionCLI,
	},
	"cdata": {
		prompt:      `(?m)[\w\-]+[#>]\s*$`,
		setupPager:  "terminal length 0",
		sessionKind: SessionCLI,
	},
	"zte": {
		prompt:      `(?m)(<[\w\-]+>|\[[\w\-~]+\])\s*$`,
		setupPager:  "screen-length 0 temporary",
		sessionKind: SessionCLI,
	},
	"cisco": {
		prompt:      `(?m)[\w\-]+[#>]\s*$`,
		setupPager:  "terminal length 0",
		sessionKind: SessionCLI,
	},
	"arista": {
		prompt:      `(?m)[\w\-]+[#>]\s*$`,
		setupPager:  "terminal length 0",
		sessionKind: SessionCLI,
	},
	"juniper": {
		prompt:      `(?m)[\w\-@.]+[#>]\s*$`,
		setupPager:  "set cli screen-length 0",
		sessionKind: SessionCLI,
	},
	"nokia": {
		prompt:      `(?m)[\w\-:]+[#>]\s*$`,
		setupPager:  "environment no more",
		sessionKind: SessionCLI,
	},
}

// netconfVendors lists vendor names that speak ssh-netconf instead of an
// interactive CLI; the fleet may carry either session kind for the same
// physical vendor family depending on the device role, so these are
// registered under a "-netconf" suffixed name rather than overriding the
// CLI entry above.
var netconfVendors = []string{"huawei", "cisco", "juniper"}

func init() {
	for _, v := range netconfVendors {
		defaultTable[v+"-netconf"] = defaultSource{
			sessionKind: SessionNetconf,
		}
	}
}

// buildDefaults compiles the in-process table into Profiles. It never
// fails: every pattern in defaultTable is a compile-time constant.
func buildDefaults() map[string]*Profile {
	out := make(map[string]*Profile, len(defaultTable))
	for name, src := range defaultTable {
		p := &Profile{
			Name:           name,
			SessionKind:    src.sessionKind,
			DefaultTimeout: 30 * time.Second,
			ClearCommand:   append([]byte(nil), defaultClearCommand...),
		}
		if src.sessionKind == SessionNetconf {
			out[name] = p
			continue
		}
		p.PromptRegexes = []*regexp.Regexp{regexp.MustCompile(src.prompt)}
		if src.setupPager != "" {
			p.SetupCommands = []string{src.setupPager}
		}
		out[name] = p
	}
	return out
}
