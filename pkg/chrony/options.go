package chrony

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode"
)

// optionKind is the declared type of a pool directive option.
type optionKind int

const (
	optionInt optionKind = iota
	optionFloat
	optionFlag
	optionString
)

// poolOptionKinds is the allow-list of chrony pool directive options.
// See https://chrony-project.org/doc/4.5/chrony.conf.html for their meaning.
var poolOptionKinds = map[string]optionKind{
	"asymmetry":        optionFloat,
	"auto_offline":     optionFlag,
	"burst":            optionFlag,
	"certset":          optionString,
	"extfield":         optionString,
	"filter":           optionInt,
	"iburst":           optionFlag,
	"key":              optionString,
	"maxdelay":         optionFloat,
	"maxdelaydevratio": optionFloat,
	"maxdelayquant":    optionFloat,
	"maxdelayratio":    optionFloat,
	"maxpoll":          optionInt,
	"maxsamples":       optionInt,
	"maxsources":       optionInt,
	"mindelay":         optionFloat,
	"minpoll":          optionInt,
	"minsamples":       optionInt,
	"minstratum":       optionInt,
	"noselect":         optionFlag,
	"nts":              optionFlag,
	"offline":          optionFlag,
	"offset":           optionFloat,
	"polltarget":       optionInt,
	"prefer":           optionFlag,
	"presend":          optionInt,
	"require":          optionFlag,
	"trust":            optionFlag,
	"version":          optionInt,
	"xleave":           optionFlag,
}

var (
	errNotBoolean = errors.New("not a boolean")
	errNotAWord   = errors.New("contains whitespace or control characters")
)

// PoolOptions holds validated pool directive options keyed by option name.
// Values are int, float64, bool or string according to the option's declared kind.
type PoolOptions map[string]any

// parsePoolOptions validates raw query values against the option allow-list.
// Blank values are treated as absent.
func parsePoolOptions(raw map[string]string) (PoolOptions, error) {
	opts := PoolOptions{}
	for name, value := range raw {
		kind, ok := poolOptionKinds[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownOption, name)
		}
		if value == "" {
			continue
		}
		parsed, err := parseOptionValue(kind, value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q: %v", ErrInvalidOptionValue, name, value, err)
		}
		opts[name] = parsed
	}
	return opts, nil
}

func parseOptionValue(kind optionKind, value string) (any, error) {
	switch kind {
	case optionInt:
		return strconv.Atoi(value)
	case optionFloat:
		return strconv.ParseFloat(value, 64)
	case optionFlag:
		switch strings.ToLower(value) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, errNotBoolean
	default:
		// The value is emitted verbatim into a single chrony.conf line.
		if strings.ContainsFunc(value, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) {
			return nil, errNotAWord
		}
		return value, nil
	}
}

// formatOptionValue renders a non-flag option value as chrony expects it.
func formatOptionValue(value any) string {
	switch v := value.(type) {
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// names returns the option names in lexicographic order.
func (o PoolOptions) names() []string {
	names := make([]string, 0, len(o))
	for name := range o {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Render returns the option string of a pool directive. True flags are
// emitted bare, false flags are omitted and every other option is emitted as
// "name value".
func (o PoolOptions) Render() string {
	var parts []string
	for _, name := range o.names() {
		switch v := o[name].(type) {
		case bool:
			if v {
				parts = append(parts, name)
			}
		default:
			parts = append(parts, name, formatOptionValue(v))
		}
	}
	return strings.Join(parts, " ")
}
