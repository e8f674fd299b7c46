package protocol

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Encode renders c as a single command line:
//
//	type=<TYPE>&key1=<escaped>&key2=<escaped>\n
//
// Keys and values are query-escaped. The type comes first and the remaining
// keys are sorted so equal commands encode to equal lines.
func Encode(c Command) string {
	var b strings.Builder
	b.WriteString(FieldType)
	b.WriteByte('=')
	b.WriteString(url.QueryEscape(string(c.typ)))

	keys := make([]string, 0, len(c.fields))
	for k := range c.fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		b.WriteByte('&')
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(c.fields[k]))
	}
	b.WriteByte('\n')
	return b.String()
}

// Decode parses a line produced by Encode. Parts without '=' or with an
// empty key are skipped. Consumers must look fields up by key; order is not
// preserved.
func Decode(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	trimmed := strings.TrimSpace(line)

	fields := map[string]string{}
	var typ string
	var haveType bool
	for _, part := range strings.Split(trimmed, "&") {
		rawKey, rawVal, ok := strings.Cut(part, "=")
		if !ok || rawKey == "" {
			continue
		}
		k, err := url.QueryUnescape(rawKey)
		if err != nil {
			return Command{}, &DecodeError{Line: line, Err: fmt.Errorf("key %q: %w", rawKey, err)}
		}
		v, err := url.QueryUnescape(rawVal)
		if err != nil {
			return Command{}, &DecodeError{Line: line, Err: fmt.Errorf("value of %q: %w", k, err)}
		}
		if k == FieldType {
			typ, haveType = v, true
			continue
		}
		fields[k] = v
	}

	if !haveType || typ == "" {
		return Command{}, &DecodeError{Line: line, Err: ErrMissingType}
	}
	t := CommandType(typ)
	if !t.Valid() {
		return Command{}, &DecodeError{Line: line, Err: fmt.Errorf("%w: %s", ErrUnknownType, typ)}
	}
	return Command{typ: t, fields: fields}, nil
}
