package smartcfg

import (
	"fmt"
	"strings"
)

// Toggle names a disable/enable command pair that must bracket set
// operations for parameters that cannot be changed while their subsystem
// is active. The enable command is a compensating action: it is always
// sent after the bracketed sets, whatever their outcome.
type Toggle struct {
	Disable string
	Enable  string
}

func sameToggle(a, b *Toggle) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Disable == b.Disable && a.Enable == b.Enable
}

// ParameterSpec describes one supported configuration key: how to query
// it, how to set it, and how to interpret its value.
type ParameterSpec struct {
	// Key is the stable logical name, unique across the registry,
	// e.g. "gnss.fix_frequency".
	Key string
	// Section and Name are the two halves of Key.
	Section string
	Name    string

	// Query is the literal query command.
	Query string
	// Set produces the literal set command from the rendered argument.
	Set func(arg string) string

	// Prefix is the response line prefix carrying the value,
	// e.g. "+QGPSCFG:".
	Prefix string
	// SubKey selects the entry within a keyed listing
	// (+QGPSCFG: "fixfreq",1). Empty for bare responses (+CMEE: 2).
	SubKey string

	Codec  Codec
	Toggle *Toggle

	// AbsentValue, when non-nil, is the current value assumed when the
	// query response has no matching payload line. When nil, a missing
	// line means "currently unset", which never equals any declared
	// value and forces a set attempt.
	AbsentValue *Value
}

// ExtractPayload finds this parameter's value text within a raw query
// response. Returns false when no line matches.
func (s *ParameterSpec) ExtractPayload(response string) (string, bool) {
	for _, line := range strings.Split(response, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), s.Prefix)
		if !ok {
			continue
		}
		rest = strings.TrimSpace(rest)

		if s.SubKey == "" {
			return rest, true
		}
		if after, ok := strings.CutPrefix(rest, `"`+s.SubKey+`",`); ok {
			return strings.TrimSpace(after), true
		}
	}
	return "", false
}

// Registry is the static catalog of supported configuration keys, built
// once at startup and immutable thereafter.
type Registry struct {
	specs     map[string]*ParameterSpec
	sections  []string
	bySection map[string][]*ParameterSpec
}

// NewRegistry builds a registry from the given specs, preserving section
// order as first encountered. Duplicate keys are a programming error.
func NewRegistry(specs ...*ParameterSpec) (*Registry, error) {
	r := &Registry{
		specs:     make(map[string]*ParameterSpec, len(specs)),
		bySection: make(map[string][]*ParameterSpec),
	}
	for _, spec := range specs {
		if _, dup := r.specs[spec.Key]; dup {
			return nil, fmt.Errorf("duplicate parameter key %q", spec.Key)
		}
		r.specs[spec.Key] = spec
		if _, seen := r.bySection[spec.Section]; !seen {
			r.sections = append(r.sections, spec.Section)
		}
		r.bySection[spec.Section] = append(r.bySection[spec.Section], spec)
	}
	return r, nil
}

// Lookup resolves a logical key ("section.name") to its spec.
func (r *Registry) Lookup(key string) (*ParameterSpec, bool) {
	spec, ok := r.specs[key]
	return spec, ok
}

// Sections lists section names in registration order.
func (r *Registry) Sections() []string {
	out := make([]string, len(r.sections))
	copy(out, r.sections)
	return out
}

// Keys lists the specs of a section in registration order. Used for
// --list-commands style introspection.
func (r *Registry) Keys(section string) []*ParameterSpec {
	specs := r.bySection[section]
	out := make([]*ParameterSpec, len(specs))
	copy(out, specs)
	return out
}

// setTemplate returns a Set function appending the rendered argument to a
// fixed command stem.
func setTemplate(stem string) func(string) string {
	return func(arg string) string { return stem + arg }
}

// numericSpec covers plain "AT+X? / AT+X=<n> / +X: <n>" parameters.
func numericSpec(section, name, base string) *ParameterSpec {
	prefix := "+" + strings.TrimPrefix(base, "AT+") + ":"
	return &ParameterSpec{
		Key:     section + "." + name,
		Section: section,
		Name:    name,
		Query:   base + "?",
		Set:     setTemplate(base + "="),
		Prefix:  prefix,
		Codec:   Numeric{},
	}
}

// qopscfgSpec covers AT+QOPSCFG="<param>" operator-scan settings.
func qopscfgSpec(name, param string) *ParameterSpec {
	return &ParameterSpec{
		Key:     "network." + name,
		Section: "network",
		Name:    name,
		Query:   fmt.Sprintf(`AT+QOPSCFG="%s"`, param),
		Set:     setTemplate(fmt.Sprintf(`AT+QOPSCFG="%s",`, param)),
		Prefix:  "+QOPSCFG:",
		SubKey:  param,
		Codec:   Numeric{},
	}
}

// qgpscfgSpec covers AT+QGPSCFG="<param>" GNSS settings, which can only
// be changed while the GNSS engine is powered off.
func qgpscfgSpec(name, param string, codec Codec, toggle *Toggle) *ParameterSpec {
	return &ParameterSpec{
		Key:     "gnss." + name,
		Section: "gnss",
		Name:    name,
		Query:   fmt.Sprintf(`AT+QGPSCFG="%s"`, param),
		Set:     setTemplate(fmt.Sprintf(`AT+QGPSCFG="%s",`, param)),
		Prefix:  "+QGPSCFG:",
		SubKey:  param,
		Codec:   codec,
		Toggle:  toggle,
	}
}

// Quectel builds the parameter catalog for Quectel EG25/EC25-class
// modems. The GNSS sub-parameters share one toggle so the engine brackets
// a whole block of changes with a single power-off/power-on pair.
func Quectel() *Registry {
	gnssToggle := &Toggle{
		Disable: "AT+QGPSEND",
		Enable:  "AT+QGPS=1",
	}
	listEmpty := Bool(true)

	specs := []*ParameterSpec{
		numericSpec("basic", "error_reporting", "AT+CMEE"),
		numericSpec("basic", "time_zone_update", "AT+CTZU"),

		{
			Key:     "network.clear_forbidden_plmn",
			Section: "network",
			Name:    "clear_forbidden_plmn",
			Query:   `AT+QFPLMNCFG="list"`,
			Set: func(string) string {
				return `AT+QFPLMNCFG="Delete","all"`
			},
			Prefix:      "+QFPLMNCFG:",
			Codec:       Presence{},
			AbsentValue: &listEmpty,
		},
		qopscfgSpec("display_rssi_in_scan", "displayrssi"),
		qopscfgSpec("display_bandwidth_in_scan", "displaybw"),

		qgpscfgSpec("output_port", "outport", Quoted{FoldCase: true}, gnssToggle),
		qgpscfgSpec("nmea_source", "nmeasrc", Numeric{}, gnssToggle),
		qgpscfgSpec("gps_nmea_type", "gpsnmeatype", Numeric{}, gnssToggle),
		qgpscfgSpec("glonass_nmea_type", "glonassnmeatype", Numeric{}, gnssToggle),
		qgpscfgSpec("galileo_nmea_type", "galileonmeatype", Numeric{}, gnssToggle),
		qgpscfgSpec("beidou_nmea_type", "beidounmeatype", Numeric{}, gnssToggle),
		qgpscfgSpec("gsv_extended_nmea", "gsvextnmeatype", Numeric{}, gnssToggle),
		qgpscfgSpec("gnss_config", "gnssconfig", Numeric{}, gnssToggle),
		qgpscfgSpec("auto_gps", "autogps", Numeric{}, gnssToggle),
		qgpscfgSpec("agps_position_mode", "agpsposmode", Numeric{}, gnssToggle),
		qgpscfgSpec("fix_frequency", "fixfreq", Numeric{}, gnssToggle),
		qgpscfgSpec("one_pps", "1pps", Numeric{}, gnssToggle),
		qgpscfgSpec("raw_data_config", "gnssrawdata", Opaque{}, gnssToggle),

		{
			Key:     "gnss.enabled",
			Section: "gnss",
			Name:    "enabled",
			Query:   "AT+QGPS?",
			Set: func(arg string) string {
				if arg == "1" {
					return "AT+QGPS=1"
				}
				return "AT+QGPSEND"
			},
			Prefix: "+QGPS:",
			Codec:  Boolean{},
		},
	}

	registry, err := NewRegistry(specs...)
	if err != nil {
		// The catalog above is static; a duplicate key is a bug.
		panic(err)
	}
	return registry
}
