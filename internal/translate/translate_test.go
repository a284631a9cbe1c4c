package translate

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-relay/internal/domain"
)

func newTranslator(t *testing.T, opts Options) *Translator {
	t.Helper()
	tr, err := New(opts)
	require.NoError(t, err)
	return tr
}

func TestTranslate_FreezerStatus(t *testing.T) {
	tr := newTranslator(t, Options{})

	msg := domain.BusMessage{Topic: "freezer/status", Payload: []byte("Door Open")}
	route := domain.TopicRoute{Pattern: "freezer/status", ChatID: "12345"}

	got, err := tr.Translate(msg, route)
	require.NoError(t, err)

	assert.Equal(t, domain.ChatMessage{
		ChatID: "12345",
		Text:   "freezer/status: Door Open",
		Topic:  "freezer/status",
	}, got)
}

func TestTranslate_Deterministic(t *testing.T) {
	tr := newTranslator(t, Options{})

	msg := domain.BusMessage{Topic: "sensors/kitchen", Payload: []byte(`{"temp":21.5}`)}
	route := domain.TopicRoute{Pattern: "sensors/#", ChatID: "@alerts", Template: "🌡 {topic} = {payload}"}

	first, err := tr.Translate(msg, route)
	require.NoError(t, err)
	second, err := tr.Translate(msg, route)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, `🌡 sensors/kitchen = {"temp":21.5}`, first.Text)
}

func TestTranslate_Template(t *testing.T) {
	tr := newTranslator(t, Options{})

	tests := []struct {
		name     string
		template string
		payload  string
		want     string
	}{
		{"both placeholders", "[{topic}] {payload}", "on", "[freezer/door] on"},
		{"repeated placeholder", "{payload}/{payload}", "x", "x/x"},
		{"no placeholders", "static text", "ignored", "static text"},
		{"payload not expanded twice", "{payload}", "{topic}", "{topic}"},
		{"empty payload", "{topic}: {payload}", "", "freezer/door: "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := domain.BusMessage{Topic: "freezer/door", Payload: []byte(tt.payload)}
			got, err := tr.Translate(msg, domain.TopicRoute{ChatID: "1", Template: tt.template})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Text)
		})
	}
}

func TestTranslate_Truncation(t *testing.T) {
	tr := newTranslator(t, Options{MaxLength: 10})

	msg := domain.BusMessage{Topic: "t", Payload: []byte(strings.Repeat("é", 50))}
	got, err := tr.Translate(msg, domain.TopicRoute{ChatID: "1"})
	require.NoError(t, err)

	assert.Equal(t, 10, utf8.RuneCountInString(got.Text))
	assert.Equal(t, "t: éééééé…", got.Text)

	short := domain.BusMessage{Topic: "t", Payload: []byte("1234567")}
	got, err = tr.Translate(short, domain.TopicRoute{ChatID: "1"})
	require.NoError(t, err)
	assert.Equal(t, "t: 1234567", got.Text, "text at the limit is not truncated")
}

func TestTranslate_DefaultLimit(t *testing.T) {
	tr := newTranslator(t, Options{})

	msg := domain.BusMessage{Topic: "big", Payload: []byte(strings.Repeat("a", 10000))}
	got, err := tr.Translate(msg, domain.TopicRoute{ChatID: "1"})
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxLength, utf8.RuneCountInString(got.Text))
	assert.True(t, strings.HasSuffix(got.Text, DefaultTruncationMarker))
}

func TestTranslate_UndecodablePayload(t *testing.T) {
	tr := newTranslator(t, Options{})

	msg := domain.BusMessage{Topic: "bin", Payload: []byte{0xff, 0xfe, 0x00, 0x80}}
	_, err := tr.Translate(msg, domain.TopicRoute{ChatID: "1"})

	require.ErrorIs(t, err, ErrUndecodablePayload)
}

func TestTranslate_LegacyEncoding(t *testing.T) {
	tr := newTranslator(t, Options{Encoding: "latin1"})
	assert.Equal(t, "windows-1252", tr.Encoding())

	msg := domain.BusMessage{Topic: "door", Payload: []byte{'o', 'u', 'v', 'e', 'r', 't', 0xe9}}
	got, err := tr.Translate(msg, domain.TopicRoute{ChatID: "1"})
	require.NoError(t, err)

	assert.Equal(t, "door: ouverté", got.Text)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(Options{Encoding: "klingon"})
	require.ErrorIs(t, err, ErrUnknownEncoding)

	_, err = New(Options{MaxLength: 3, TruncationMarker: "..."})
	require.ErrorIs(t, err, ErrInvalidMaxLength)
}

func TestNew_Defaults(t *testing.T) {
	tr := newTranslator(t, Options{})

	assert.Equal(t, "utf-8", tr.Encoding())
	assert.Equal(t, DefaultMaxLength, tr.maxLength)
	assert.Equal(t, []rune(DefaultTruncationMarker), tr.marker)
}
