package template

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/wesleyorama2/volley/internal/record"
)

// ParseError reports a capture that cannot become a template.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse request: %s: %v", e.Reason, e.Err)
	}
	return "parse request: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseOption configures Parse.
type ParseOption func(*parseOptions)

type parseOptions struct {
	bodyOverride *Body
}

// WithBodyOverride supplies the body explicitly, replacing whatever the
// capture carries. It also lifts the body requirement for POST, PUT and PATCH.
func WithBodyOverride(b Body) ParseOption {
	return func(o *parseOptions) {
		o.bodyOverride = &b
	}
}

// Long flags that take a value. Values of flags not handled below are
// skipped so they are never taken for the URL.
var longValueFlags = map[string]bool{
	"--request": true, "--url": true, "--header": true,
	"--data": true, "--data-raw": true, "--data-ascii": true, "--data-binary": true,
	"--data-urlencode": true, "--json": true,
	"--user": true, "--user-agent": true, "--cookie": true, "--referer": true,
	"--output": true, "--max-time": true, "--connect-timeout": true,
	"--cacert": true, "--capath": true, "--cert": true, "--key": true, "--cert-type": true,
	"--proxy": true, "--proxy-user": true, "--resolve": true, "--retry": true,
	"--retry-delay": true, "--retry-max-time": true, "--write-out": true,
	"--form": true, "--form-string": true, "--upload-file": true, "--cookie-jar": true,
	"--max-redirs": true, "--limit-rate": true, "--interface": true, "--dump-header": true,
	"--config": true, "--oauth2-bearer": true, "--range": true, "--trace": true,
	"--trace-ascii": true, "--stderr": true, "--unix-socket": true, "--aws-sigv4": true,
}

// Short flags that take a value.
const shortValueFlags = "XHduAbeomwxFTcrEDKUYyzC"

type dataArg struct {
	flag  string
	value string
}

type parser struct {
	method    string
	headers   []Header
	data      []dataArg
	get       bool
	head      bool
	insecure  bool
	user      string
	hasUser   bool
	urlFlag   string
	positions []string
}

// Parse turns one captured curl-style command line into a Template.
func Parse(raw string, opts ...ParseOption) (*Template, error) {
	var o parseOptions
	for _, opt := range opts {
		opt(&o)
	}

	tokens := tokenize(normalizeContinuations(raw))
	if len(tokens) > 0 && (tokens[0] == "curl" || strings.HasSuffix(tokens[0], "/curl") || strings.EqualFold(tokens[0], "curl.exe")) {
		tokens = tokens[1:]
	}

	p := &parser{}
	if err := p.scan(tokens); err != nil {
		return nil, err
	}
	return p.build(o)
}

func (p *parser) scan(tokens []string) error {
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]

		next := func(flag string) (string, error) {
			if i+1 >= len(tokens) {
				return "", &ParseError{Reason: fmt.Sprintf("flag %s is missing its value", flag)}
			}
			i++
			return tokens[i], nil
		}

		switch {
		case tok == "--":
			p.positions = append(p.positions, tokens[i+1:]...)
			return nil
		case strings.HasPrefix(tok, "--"):
			name, value, hasValue := strings.Cut(tok, "=")
			if !longValueFlags[name] {
				p.applySwitch(name)
				continue
			}
			if !hasValue {
				v, err := next(name)
				if err != nil {
					return err
				}
				value = v
			}
			p.applyValue(name, value)
		case strings.HasPrefix(tok, "-") && len(tok) > 1:
			if err := p.scanShortCluster(tok, next); err != nil {
				return err
			}
		default:
			p.positions = append(p.positions, tok)
		}
	}
	return nil
}

// scanShortCluster handles forms like -X POST, -XPOST and -sSk.
func (p *parser) scanShortCluster(tok string, next func(string) (string, error)) error {
	for j := 1; j < len(tok); j++ {
		c := tok[j]
		if strings.IndexByte(shortValueFlags, c) < 0 {
			p.applySwitch("-" + string(c))
			continue
		}
		flag := "-" + string(c)
		value := tok[j+1:]
		if value == "" {
			v, err := next(flag)
			if err != nil {
				return err
			}
			value = v
		}
		p.applyValue(flag, value)
		return nil
	}
	return nil
}

func (p *parser) applySwitch(flag string) {
	switch flag {
	case "-k", "--insecure":
		p.insecure = true
	case "-G", "--get":
		p.get = true
	case "-I", "--head":
		p.head = true
	}
}

func (p *parser) applyValue(flag, value string) {
	switch flag {
	case "-X", "--request":
		p.method = strings.ToUpper(strings.TrimSpace(value))
	case "--url":
		if p.urlFlag == "" {
			p.urlFlag = value
		}
	case "-H", "--header":
		if h, ok := splitHeader(value); ok {
			p.headers = append(p.headers, h)
		}
	case "-d", "--data", "--data-ascii", "--data-raw", "--data-binary", "--json":
		p.data = append(p.data, dataArg{flag: flag, value: value})
	case "--data-urlencode":
		p.data = append(p.data, dataArg{flag: flag, value: urlEncodeData(value)})
	case "-u", "--user":
		p.user = value
		p.hasUser = true
	case "-A", "--user-agent":
		p.headers = append(p.headers, Header{Name: "User-Agent", Value: value})
	case "-b", "--cookie":
		p.headers = append(p.headers, Header{Name: "Cookie", Value: value})
	case "-e", "--referer":
		p.headers = append(p.headers, Header{Name: "Referer", Value: value})
	case "--oauth2-bearer":
		p.headers = append(p.headers, Header{Name: "Authorization", Value: "Bearer " + value})
	}
}

// splitHeader splits on the first colon only. "Name;" declares an empty
// header as curl does.
func splitHeader(line string) (Header, bool) {
	name, value, ok := strings.Cut(line, ":")
	if !ok {
		if strings.HasSuffix(line, ";") {
			return Header{Name: strings.TrimSpace(strings.TrimSuffix(line, ";"))}, true
		}
		return Header{}, false
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Header{}, false
	}
	return Header{Name: name, Value: strings.TrimSpace(value)}, true
}

func urlEncodeData(v string) string {
	escape := func(s string) string {
		return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
	}
	if name, content, ok := strings.Cut(v, "="); ok {
		if name == "" {
			return escape(content)
		}
		return name + "=" + escape(content)
	}
	return escape(v)
}

// pickData returns the effective body argument: --data-raw wins over --json,
// which wins over the plain data flags.
func (p *parser) pickData() (dataArg, bool) {
	for _, want := range []string{"--data-raw", "--json"} {
		for _, d := range p.data {
			if d.flag == want {
				return d, true
			}
		}
	}
	if len(p.data) > 0 {
		return p.data[0], true
	}
	return dataArg{}, false
}

func (p *parser) build(o parseOptions) (*Template, error) {
	t := &Template{Insecure: p.insecure}

	t.URL = p.urlFlag
	if t.URL == "" && len(p.positions) > 0 {
		t.URL = p.positions[0]
	}
	if strings.TrimSpace(t.URL) == "" {
		return nil, &ParseError{Reason: "no URL found in capture"}
	}

	t.Method = p.method
	if t.Method == "" {
		t.Method = "GET"
		if p.head {
			t.Method = "HEAD"
		}
	}

	t.Headers = append(t.Headers, p.headers...)
	if p.hasUser {
		if _, ok := t.Header("Authorization"); !ok {
			t.Headers = append(t.Headers, Header{
				Name:  "Authorization",
				Value: "Basic " + base64.StdEncoding.EncodeToString([]byte(p.user)),
			})
		}
	}

	data, hasData := p.pickData()
	if data.flag == "--json" {
		if _, ok := t.Header("Content-Type"); !ok {
			t.Headers = append(t.Headers, Header{Name: "Content-Type", Value: "application/json"})
		}
		if _, ok := t.Header("Accept"); !ok {
			t.Headers = append(t.Headers, Header{Name: "Accept", Value: "application/json"})
		}
	}

	if hasData && p.get {
		sep := "?"
		if strings.Contains(t.URL, "?") {
			sep = "&"
		}
		t.URL += sep + data.value
		hasData = false
	}

	switch {
	case o.bodyOverride != nil:
		t.Body = *o.bodyOverride
	case hasData:
		body, err := buildBody(data, IsJSONContentType(t.ContentType()))
		if err != nil {
			return nil, err
		}
		t.Body = body
	default:
		switch t.Method {
		case "POST", "PUT", "PATCH":
			return nil, &ParseError{Reason: fmt.Sprintf("%s request has no body", t.Method)}
		}
	}

	return t, nil
}

func buildBody(d dataArg, isJSON bool) (Body, error) {
	binary := d.flag == "--data-binary"
	if !isJSON || strings.TrimSpace(d.value) == "" {
		if binary {
			return Body{Kind: BodyRaw, Raw: d.value, Binary: true}, nil
		}
		return Body{Kind: BodyRaw, Raw: unescapeBody(d.value)}, nil
	}

	v, err := parseJSONBody(d.value, binary)
	if err != nil {
		return Body{}, &ParseError{Reason: "invalid JSON body", Err: err}
	}
	return Body{Kind: BodyJSON, JSON: v, Binary: binary}, nil
}

// parseJSONBody accepts the body as captured when it is already valid JSON.
// Otherwise the unescaped text gets exactly one repair pass that strips
// trailing commas and literal newlines.
func parseJSONBody(text string, verbatim bool) (record.Value, error) {
	if json.Valid([]byte(text)) {
		return record.ParseJSON([]byte(text))
	}
	if !verbatim {
		text = unescapeBody(text)
	}
	v, err := record.ParseJSON([]byte(text))
	if err == nil {
		return v, nil
	}
	repaired := strings.NewReplacer("\r", "", "\n", "").Replace(text)
	return record.ParseJSON([]byte(stripTrailingCommas(repaired)))
}

// stripTrailingCommas drops commas that directly precede a closing brace or
// bracket. Commas inside string literals are left alone.
func stripTrailingCommas(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		switch c {
		case '"':
			inString = true
		case ',':
			j := i + 1
			for j < len(text) && (text[j] == ' ' || text[j] == '\t') {
				j++
			}
			if j < len(text) && (text[j] == '}' || text[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
