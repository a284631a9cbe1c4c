// Package translate converts bus messages into chat messages.
//
// Translation is a pure function of the message and its route: the same
// inputs always produce the same text.
package translate

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/nerrad567/gray-logic-relay/internal/domain"
)

// Defaults match the Telegram sendMessage text limit.
const (
	DefaultEncoding         = "utf-8"
	DefaultMaxLength        = 4096
	DefaultTruncationMarker = "…"
)

// Template placeholders.
const (
	PlaceholderTopic   = "{topic}"
	PlaceholderPayload = "{payload}"
)

// Options configures a Translator. Zero values select the defaults.
type Options struct {
	// Encoding is a WHATWG encoding label, e.g. "utf-8" or "windows-1252".
	Encoding string

	// MaxLength is the maximum text length in characters, marker included.
	MaxLength int

	TruncationMarker string
}

// Translator maps (BusMessage, TopicRoute) to ChatMessage.
type Translator struct {
	decoder   encoding.Encoding // nil for UTF-8
	encName   string
	maxLength int
	marker    []rune
}

// New validates opts and returns a Translator.
func New(opts Options) (*Translator, error) {
	if opts.Encoding == "" {
		opts.Encoding = DefaultEncoding
	}
	if opts.MaxLength == 0 {
		opts.MaxLength = DefaultMaxLength
	}
	if opts.TruncationMarker == "" {
		opts.TruncationMarker = DefaultTruncationMarker
	}

	enc, err := htmlindex.Get(opts.Encoding)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, opts.Encoding)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, opts.Encoding)
	}

	t := &Translator{
		encName:   name,
		maxLength: opts.MaxLength,
		marker:    []rune(opts.TruncationMarker),
	}
	if name != "utf-8" {
		t.decoder = enc
	}

	if t.maxLength <= len(t.marker) {
		return nil, fmt.Errorf("%w: %d must exceed marker length %d", ErrInvalidMaxLength, t.maxLength, len(t.marker))
	}

	return t, nil
}

// Encoding returns the canonical name of the payload encoding.
func (t *Translator) Encoding() string {
	return t.encName
}

// Translate renders msg for route.
//
// The route template is used when set, otherwise "<topic>: <payload>".
// Text longer than MaxLength is cut and ends with the truncation marker.
// Seq is left zero; the delivery queue assigns it.
func (t *Translator) Translate(msg domain.BusMessage, route domain.TopicRoute) (domain.ChatMessage, error) {
	payload, err := t.decode(msg.Payload)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("%w: topic %s: %w", ErrUndecodablePayload, msg.Topic, err)
	}

	var text string
	if route.Template == "" {
		text = msg.Topic + ": " + payload
	} else {
		// Single pass: placeholders inside the payload are not expanded.
		text = strings.NewReplacer(
			PlaceholderTopic, msg.Topic,
			PlaceholderPayload, payload,
		).Replace(route.Template)
	}

	return domain.ChatMessage{
		ChatID: route.ChatID,
		Text:   t.truncate(text),
		Topic:  msg.Topic,
	}, nil
}

func (t *Translator) decode(payload []byte) (string, error) {
	if t.decoder == nil {
		if !utf8.Valid(payload) {
			return "", errInvalidUTF8
		}
		return string(payload), nil
	}

	out, err := t.decoder.NewDecoder().Bytes(payload)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (t *Translator) truncate(text string) string {
	if utf8.RuneCountInString(text) <= t.maxLength {
		return text
	}

	runes := []rune(text)
	keep := t.maxLength - len(t.marker)
	return string(runes[:keep]) + string(t.marker)
}
