package protocol

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultMaxPayload is the largest payload a server accepts when it does not
// advertise a limit of its own.
const DefaultMaxPayload = 1024 * 1024

// ServerInfo is the JSON document carried by an INFO operation.
type ServerInfo struct {
	ServerID     string
	ServerName   string
	Version      string
	Host         string
	Port         int
	Proto        int
	MaxPayload   int
	ClientID     uint64
	AuthRequired bool
	TLSRequired  bool
	Headers      bool
}

// ParseServerInfo parses the JSON body of an INFO operation. Unknown fields
// are ignored.
func ParseServerInfo(data []byte) (ServerInfo, error) {
	if !gjson.ValidBytes(data) {
		return ServerInfo{}, fmt.Errorf("Failed to parse INFO '%s': %w",
			string(data), ErrMalformedFrame)
	}

	doc := gjson.ParseBytes(data)

	info := ServerInfo{
		ServerID:     doc.Get("server_id").String(),
		ServerName:   doc.Get("server_name").String(),
		Version:      doc.Get("version").String(),
		Host:         doc.Get("host").String(),
		Port:         int(doc.Get("port").Int()),
		Proto:        int(doc.Get("proto").Int()),
		MaxPayload:   int(doc.Get("max_payload").Int()),
		ClientID:     doc.Get("client_id").Uint(),
		AuthRequired: doc.Get("auth_required").Bool(),
		TLSRequired:  doc.Get("tls_required").Bool(),
		Headers:      doc.Get("headers").Bool(),
	}

	if info.MaxPayload <= 0 {
		info.MaxPayload = DefaultMaxPayload
	}

	return info, nil
}

// Marshal encodes the info as the JSON body of an INFO operation.
func (i ServerInfo) Marshal() ([]byte, error) {
	return setAll([]byte("{}"), []field{
		{"server_id", i.ServerID},
		{"server_name", i.ServerName},
		{"version", i.Version},
		{"host", i.Host},
		{"port", i.Port},
		{"proto", i.Proto},
		{"max_payload", i.MaxPayload},
		{"client_id", i.ClientID},
		{"auth_required", i.AuthRequired},
		{"tls_required", i.TLSRequired},
		{"headers", i.Headers},
	})
}

// ConnectOptions is the JSON document carried by a CONNECT operation.
type ConnectOptions struct {
	Verbose     bool
	Pedantic    bool
	TLSRequired bool
	Echo        bool
	Name        string
	Lang        string
	Version     string
	Protocol    int
	User        string
	Pass        string
	AuthToken   string
}

// Marshal encodes the options as the JSON body of a CONNECT operation.
// Credentials are only included when they are set.
func (o ConnectOptions) Marshal() ([]byte, error) {
	fields := []field{
		{"verbose", o.Verbose},
		{"pedantic", o.Pedantic},
		{"tls_required", o.TLSRequired},
		{"echo", o.Echo},
		{"name", o.Name},
		{"lang", o.Lang},
		{"version", o.Version},
		{"protocol", o.Protocol},
	}

	if o.User != "" {
		fields = append(fields, field{"user", o.User}, field{"pass", o.Pass})
	}

	if o.AuthToken != "" {
		fields = append(fields, field{"auth_token", o.AuthToken})
	}

	return setAll([]byte("{}"), fields)
}

// ParseConnectOptions parses the JSON body of a CONNECT operation. Echo
// defaults to true when it is absent.
func ParseConnectOptions(data []byte) (ConnectOptions, error) {
	if !gjson.ValidBytes(data) {
		return ConnectOptions{}, fmt.Errorf("Failed to parse CONNECT '%s': %w",
			string(data), ErrMalformedFrame)
	}

	doc := gjson.ParseBytes(data)

	echo := doc.Get("echo")

	return ConnectOptions{
		Verbose:     doc.Get("verbose").Bool(),
		Pedantic:    doc.Get("pedantic").Bool(),
		TLSRequired: doc.Get("tls_required").Bool(),
		Echo:        !echo.Exists() || echo.Bool(),
		Name:        doc.Get("name").String(),
		Lang:        doc.Get("lang").String(),
		Version:     doc.Get("version").String(),
		Protocol:    int(doc.Get("protocol").Int()),
		User:        doc.Get("user").String(),
		Pass:        doc.Get("pass").String(),
		AuthToken:   doc.Get("auth_token").String(),
	}, nil
}

type field struct {
	path  string
	value interface{}
}

func setAll(doc []byte, fields []field) (out []byte, err error) {
	out = doc

	for _, f := range fields {
		if out, err = sjson.SetBytes(out, f.path, f.value); err != nil {
			return nil, fmt.Errorf("Failed to set '%s': %w", f.path, err)
		}
	}

	return out, nil
}
