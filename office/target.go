package office

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

type Protocol string

const (
	// ProtocolSoffice means a local headless LibreOffice binary.
	ProtocolSoffice Protocol = "soffice"
	// ProtocolHTTP and ProtocolHTTPS mean a Gotenberg-compatible conversion service.
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// Target identifies an office service instance. It is comparable and is used as
// the key of the pool registry.
type Target struct {
	Protocol Protocol
	Host     string
	Port     int
	// Path is the binary path for ProtocolSoffice. Empty means "soffice" from $PATH.
	Path string
}

// ParseTarget parses targets of the following forms:
//
//	soffice
//	soffice:/usr/bin/soffice
//	http://localhost:3000
//	https://gotenberg.example.com
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Target{}, fmt.Errorf("target can't be empty")
	}

	if s == string(ProtocolSoffice) {
		return Target{Protocol: ProtocolSoffice}, nil
	}
	if path, ok := strings.CutPrefix(s, string(ProtocolSoffice)+":"); ok {
		if path == "" {
			return Target{}, fmt.Errorf("soffice path can't be empty")
		}
		return Target{Protocol: ProtocolSoffice, Path: path}, nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return Target{}, fmt.Errorf("invalid target %q: %w", s, err)
	}

	t := Target{
		Protocol: Protocol(strings.ToLower(u.Scheme)),
		Host:     u.Hostname(),
	}
	switch t.Protocol {
	case ProtocolHTTP:
		t.Port = 80
	case ProtocolHTTPS:
		t.Port = 443
	default:
		return Target{}, fmt.Errorf("unsupported protocol %q, valid protocols: soffice, http, https", u.Scheme)
	}
	if t.Host == "" {
		return Target{}, fmt.Errorf("host of target %q can't be empty", s)
	}
	if u.Path != "" && u.Path != "/" {
		return Target{}, fmt.Errorf("target %q must not have a path", s)
	}
	if rawPort := u.Port(); rawPort != "" {
		t.Port, err = strconv.Atoi(rawPort)
		if err != nil || t.Port <= 0 || t.Port > 65535 {
			return Target{}, fmt.Errorf("invalid port %q", rawPort)
		}
	}
	return t, nil
}

func (t Target) String() string {
	switch t.Protocol {
	case ProtocolSoffice:
		if t.Path == "" {
			return string(ProtocolSoffice)
		}
		return string(ProtocolSoffice) + ":" + t.Path
	case ProtocolHTTP, ProtocolHTTPS:
		return string(t.Protocol) + "://" + t.Address()
	default:
		return fmt.Sprintf("%s://%s", t.Protocol, t.Address())
	}
}

// Address returns "host:port".
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t Target) MarshalText() (text []byte, err error) {
	return []byte(t.String()), nil
}

func (t *Target) UnmarshalText(text []byte) error {
	v, err := ParseTarget(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
