package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const SignatureHeader = "Paymongo-Signature"

var ErrBadSignature = errors.New("invalid webhook signature")

// Sign produces a header value for body at ts. The gateway signs
// "<unix ts>.<raw body>" with HMAC-SHA256.
func Sign(secret string, ts time.Time, body []byte, live bool) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	sig := mac(secret, t, body)
	if live {
		return fmt.Sprintf("t=%s,te=,li=%s", t, sig)
	}
	return fmt.Sprintf("t=%s,te=%s,li=", t, sig)
}

// VerifySignature checks header against body and rejects timestamps older
// than tolerance.
func VerifySignature(secret, header string, body []byte, tolerance time.Duration, now time.Time) error {
	var t, te, li string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			t = v
		case "te":
			te = v
		case "li":
			li = v
		}
	}
	if t == "" || (te == "" && li == "") {
		return fmt.Errorf("%w: malformed header", ErrBadSignature)
	}

	sec, err := strconv.ParseInt(t, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
	}
	if tolerance > 0 && now.Sub(time.Unix(sec, 0)) > tolerance {
		return fmt.Errorf("%w: timestamp too old", ErrBadSignature)
	}

	want := mac(secret, t, body)
	got := li
	if got == "" {
		got = te
	}
	if !hmac.Equal([]byte(want), []byte(got)) {
		return ErrBadSignature
	}
	return nil
}

func mac(secret, ts string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(ts))
	h.Write([]byte("."))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type Event struct {
	Type     string
	SourceID string
}

// ParseEvent extracts the event type and the source it concerns.
func ParseEvent(body []byte) (*Event, error) {
	var payload struct {
		Data struct {
			Attributes struct {
				Type string `json:"type"`
				Data struct {
					ID         string `json:"id"`
					Type       string `json:"type"`
					Attributes struct {
						Source *struct {
							ID string `json:"id"`
						} `json:"source"`
					} `json:"attributes"`
				} `json:"data"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}

	attrs := payload.Data.Attributes
	ev := &Event{Type: attrs.Type}
	switch attrs.Data.Type {
	case "source":
		ev.SourceID = attrs.Data.ID
	case "payment":
		if attrs.Data.Attributes.Source != nil {
			ev.SourceID = attrs.Data.Attributes.Source.ID
		}
	}
	if ev.Type == "" || ev.SourceID == "" {
		return nil, errors.New("webhook carries no source reference")
	}
	return ev, nil
}
