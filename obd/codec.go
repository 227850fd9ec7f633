package obd

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrInvalidData = errors.New("invalid data")

// responsePrefix is the fixed mode-01 reply marker: "41" followed by the
// echoed parameter code.
func responsePrefix(code string) string {
	return "41" + strings.ToUpper(code)
}

// clean strips prompt characters, whitespace and line noise from a raw
// adapter response and uppercases the rest.
func clean(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	for _, r := range raw {
		switch r {
		case '>', '\r', '\n', ' ', '\t', '\x00':
			continue
		}

		b.WriteRune(r)
	}

	return strings.ToUpper(b.String())
}

// ExtractBytes cleans a raw response and returns the data bytes following
// the "41"+code prefix. A missing prefix, a NO DATA marker or unparsable
// hex all yield an empty slice: the caller treats that as "no value", not
// as a failure.
func ExtractBytes(raw, code string) []byte {
	s := clean(raw)

	if s == "" || strings.Contains(s, "NODATA") {
		return nil
	}

	prefix := responsePrefix(code)

	if !strings.HasPrefix(s, prefix) {
		log.Trace().
			Str("Response", s).
			Str("WantPrefix", prefix).
			Msg("obd: response prefix mismatch, dropping")
		return nil
	}

	payload := s[len(prefix):]

	// a trailing half-byte is adapter noise; drop it rather than fail.
	if len(payload)%2 != 0 {
		payload = payload[:len(payload)-1]
	}

	data, err := hex.DecodeString(payload)

	if err != nil {
		log.Trace().
			Err(errors.Wrap(ErrInvalidData, err.Error())).
			Str("Payload", payload).
			Msg("obd: failed to parse response payload")
		return nil
	}

	return data
}

// DecodeSample extracts and decodes one parameter reading. Responses with
// fewer data bytes than the parameter expects yield an invalid Sample,
// identically to no-data.
func DecodeSample(raw string, p PID) Sample {
	data := ExtractBytes(raw, p.Code)

	if len(data) < p.Bytes {
		return Sample{}
	}

	return Sample{
		Value: p.Decode(data[:p.Bytes]),
		Valid: true,
	}
}
