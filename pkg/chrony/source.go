package chrony

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/utils/ptr"
)

const (
	// DefaultNTPPort is the NTP port chrony uses when a pool has no port option.
	DefaultNTPPort = 123
	// DefaultNTSPort is the NTS-KE port chrony uses when a pool has no ntsport option.
	DefaultNTSPort = 4460
)

// Mode selects the protocol of a time source.
type Mode string

const (
	// ModeNTP is a plain NTP source, written as ntp://host[:port].
	ModeNTP Mode = "ntp"
	// ModeNTS is an NTS-secured source, written as nts://host[:ntsport].
	ModeNTS Mode = "nts"
)

var (
	// ErrInvalidSourceURL matches every time source parse error.
	ErrInvalidSourceURL = errors.New("invalid time source URL")
	// ErrInvalidSource is returned for an unsupported scheme or a missing host.
	ErrInvalidSource = fmt.Errorf("%w: invalid source", ErrInvalidSourceURL)
	// ErrUnknownOption is returned for a query parameter outside the pool option allow-list.
	ErrUnknownOption = fmt.Errorf("%w: unknown option", ErrInvalidSourceURL)
	// ErrInvalidOptionValue is returned when an option value does not convert to its declared type.
	ErrInvalidOptionValue = fmt.Errorf("%w: invalid option value", ErrInvalidSourceURL)
)

// TimeSource is an upstream time source rendered as a chrony pool directive.
type TimeSource struct {
	Mode Mode
	Host string
	// Port is the NTP port for ModeNTP and the NTS-KE port for ModeNTS.
	Port    *int
	Options PoolOptions
}

// ParseSource parses a time source URL of the form
// ntp://host[:port][?opt=val&...] or nts://host[:ntsport][?opt=val&...].
func ParseSource(raw string) (TimeSource, error) {
	var mode Mode
	switch {
	case strings.HasPrefix(raw, "ntp://"):
		mode = ModeNTP
	case strings.HasPrefix(raw, "nts://"):
		mode = ModeNTS
	default:
		return TimeSource{}, fmt.Errorf("%w: %q: scheme must be ntp or nts", ErrInvalidSource, raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return TimeSource{}, fmt.Errorf("%w: %q: %v", ErrInvalidSource, raw, err)
	}
	if u.Hostname() == "" {
		return TimeSource{}, fmt.Errorf("%w: %q: missing host", ErrInvalidSource, raw)
	}

	source := TimeSource{Mode: mode, Host: strings.ToLower(u.Hostname())}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 0 || port > 65535 {
			return TimeSource{}, fmt.Errorf("%w: %q: invalid port %q", ErrInvalidSource, raw, p)
		}
		source.Port = ptr.To(port)
	}

	query, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return TimeSource{}, fmt.Errorf("%w: %q: %v", ErrInvalidSource, raw, err)
	}
	last := make(map[string]string, len(query))
	for name, values := range query {
		last[name] = values[len(values)-1]
	}
	source.Options, err = parsePoolOptions(last)
	if err != nil {
		return TimeSource{}, err
	}
	return source, nil
}

// ParseSources parses a comma-separated list of time source URLs. Entries are
// trimmed and empty entries are discarded. Errors from all entries are
// aggregated.
func ParseSources(list string) ([]TimeSource, error) {
	var sources []TimeSource
	var errs []error
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		source, err := ParseSource(entry)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sources = append(sources, source)
	}
	if len(errs) > 0 {
		return nil, utilerrors.NewAggregate(errs)
	}
	return sources, nil
}

func (s TimeSource) defaultPort() int {
	if s.Mode == ModeNTS {
		return DefaultNTSPort
	}
	return DefaultNTPPort
}

// Render returns the chrony pool directive for the source, for example
// "pool time.example.com nts ntsport 4461 iburst".
func (s TimeSource) Render() string {
	var b strings.Builder
	b.WriteString("pool ")
	b.WriteString(s.Host)

	customPort := s.Port != nil && *s.Port != s.defaultPort()
	switch s.Mode {
	case ModeNTS:
		b.WriteString(" nts")
		if customPort {
			fmt.Fprintf(&b, " ntsport %d", *s.Port)
		}
	default:
		if customPort {
			fmt.Fprintf(&b, " port %d", *s.Port)
		}
	}

	if opts := s.Options.Render(); opts != "" {
		b.WriteString(" ")
		b.WriteString(opts)
	}
	return b.String()
}

// URL returns the canonical URL form of the source. Parsing the result yields
// a TimeSource equal to s.
func (s TimeSource) URL() string {
	host := s.Host
	if s.Port != nil {
		host = net.JoinHostPort(host, strconv.Itoa(*s.Port))
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	u := url.URL{Scheme: string(s.Mode), Host: host}
	if len(s.Options) > 0 {
		query := url.Values{}
		for _, name := range s.Options.names() {
			query.Set(name, formatOptionValue(s.Options[name]))
		}
		u.RawQuery = query.Encode()
	}
	return u.String()
}
