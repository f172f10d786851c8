package event

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/wppinbox/internal/identity"
)

// rule names one spelling of a field, as a path into the record.
type rule []string

// Field spellings in priority order: lower-case first, then the
// library-native casing the bridge forwards verbatim.
var (
	presenceRules = []rule{{"Presence"}, {"presence"}}

	receiptIDRules   = []rule{{"IDs"}, {"ids"}, {"MessageIDs"}}
	receiptTypeRules = []rule{{"Type"}, {"type"}}

	chatRules = []rule{
		{"chat"}, {"Chat"},
		{"info", "chat"}, {"Info", "Chat"},
		{"key", "remoteJid"}, {"Key", "RemoteJID"},
	}
	senderRules = []rule{
		{"sender"}, {"Sender"},
		{"info", "sender"}, {"Info", "Sender"},
		{"key", "participant"}, {"Key", "Participant"},
		{"key", "from"},
	}
	idRules = []rule{
		{"info", "id"}, {"Info", "ID"},
		{"key", "id"}, {"Key", "ID"},
		{"message", "key", "id"},
	}
	timestampRules = []rule{
		{"timestamp"}, {"Timestamp"},
		{"info", "timestamp"}, {"Info", "Timestamp"},
	}
	fromMeRules = []rule{
		{"info", "isFromMe"}, {"Info", "IsFromMe"},
		{"key", "fromMe"}, {"Key", "FromMe"},
	}
	bodyRules = []rule{{"message"}, {"Message"}}
	textRules = []rule{
		{"conversation"}, {"Conversation"},
		{"extendedTextMessage", "text"}, {"ExtendedTextMessage", "Text"},
	}
	mimeRules     = []rule{{"mimetype"}, {"Mimetype"}}
	fileNameRules = []rule{{"fileName"}, {"FileName"}}

	mediaRules = []struct {
		kind  MediaKind
		rules []rule
	}{
		{MediaImage, []rule{{"imageMessage"}, {"ImageMessage"}}},
		{MediaVideo, []rule{{"videoMessage"}, {"VideoMessage"}}},
		{MediaAudio, []rule{{"audioMessage"}, {"AudioMessage"}}},
		{MediaDocument, []rule{{"documentMessage"}, {"DocumentMessage"}}},
	}

	// Fields of the gateway's own normalized message shape.
	gwPrimaryRules = []rule{{"chatPrimary"}, {"chatJID"}}
	gwAliasRules   = []rule{{"chatAlias"}, {"chatLID"}}
	gwSenderRules  = []rule{{"from"}, {"senderJID"}, {"senderLID"}}
)

// firstString returns the first rule that yields a non-empty scalar.
func firstString(r Record, rules []rule) string {
	for _, path := range rules {
		if v, ok := r.Lookup(path...); ok {
			if s := stringOf(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// firstTruthy returns the first rule value that coerces to true.
func firstTruthy(r Record, rules []rule) (any, bool) {
	for _, path := range rules {
		if v, ok := r.Lookup(path...); ok && truthy(v) {
			return v, true
		}
	}
	return nil, false
}

// firstPresent returns the first rule whose key exists with a non-null value.
func firstPresent(r Record, rules []rule) (any, bool) {
	for _, path := range rules {
		if v, ok := r.Lookup(path...); ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// firstRecord returns the first rule that yields a nested record.
func firstRecord(r Record, rules []rule) (Record, bool) {
	for _, path := range rules {
		if v, ok := r.Lookup(path...); ok {
			if m, ok := asRecord(v); ok {
				return m, true
			}
		}
	}
	return nil, false
}

// Normalizer converts raw records into canonical events. The zero value uses
// the wall clock.
type Normalizer struct {
	Now func() time.Time
}

// Normalize classifies r using the wall clock for missing timestamps.
func Normalize(r Record) Event {
	return Normalizer{}.Normalize(r)
}

func (n Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

// Normalize classifies r. It never fails: anything it cannot make sense of
// comes back as Unrecognized.
func (n Normalizer) Normalize(r Record) Event {
	if r == nil {
		return Event{Kind: Unrecognized}
	}
	if isPresence(r) {
		return Event{Kind: PresenceKind}
	}
	if rc, ok := parseReceipt(r); ok {
		return Event{Kind: ReceiptKind, Receipt: rc}
	}
	if t, ok := r["type"].(string); ok && t == "message" {
		if m := n.parseGatewayMessage(r); m != nil {
			return Event{Kind: MessageKind, Message: m}
		}
		return Event{Kind: Unrecognized}
	}
	if m := n.parseHeuristicMessage(r); m != nil {
		return Event{Kind: MessageKind, Message: m}
	}
	return Event{Kind: Unrecognized}
}

func isPresence(r Record) bool {
	for _, path := range presenceRules {
		if _, ok := r.Lookup(path...); ok {
			return true
		}
	}
	return false
}

func parseReceipt(r Record) (*Receipt, bool) {
	var ids []any
	found := false
	for _, path := range receiptIDRules {
		if v, ok := r.Lookup(path...); ok {
			if list, ok := v.([]any); ok {
				ids, found = list, true
				break
			}
		}
	}
	if !found {
		return nil, false
	}
	typ, ok := firstPresent(r, receiptTypeRules)
	if !ok {
		return nil, false
	}

	rc := &Receipt{Type: ParseReceiptType(stringOf(typ))}
	for _, v := range ids {
		if s := stringOf(v); s != "" {
			rc.IDs = append(rc.IDs, s)
		}
	}
	return rc, true
}

// ParseReceiptType maps a wire receipt type by case-insensitive substring.
func ParseReceiptType(s string) ReceiptType {
	t := strings.ToLower(s)
	switch {
	case strings.Contains(t, "read"):
		return ReceiptRead
	case strings.Contains(t, "played"):
		return ReceiptPlayed
	case strings.Contains(t, "deliver"):
		return ReceiptDelivered
	default:
		return ReceiptOther
	}
}

func (n Normalizer) parseGatewayMessage(r Record) *Message {
	primary := identity.Normalize(firstString(r, gwPrimaryRules))
	alias := identity.Normalize(firstString(r, gwAliasRules))
	if primary == "" && alias == "" {
		return nil
	}

	m := &Message{
		ID:          stringOf(r["id"]),
		ChatPrimary: primary,
		ChatAlias:   alias,
		Text:        stringOf(r["text"]),
		FromMe:      truthy(r["fromMe"]),
		At:          n.gatewayMillis(r["at"]),
	}
	m.Sender = firstString(r, gwSenderRules)
	if m.Sender == "" {
		m.Sender = identity.PickKey(primary, alias)
	}
	if media, ok := asRecord(r["media"]); ok {
		m.Media = parseGatewayMedia(media)
	}
	return m
}

// gatewayMillis reads the normalized shape's "at", which is already epoch
// millis when numeric.
func (n Normalizer) gatewayMillis(v any) int64 {
	if f, ok := numberOf(v); ok && inRange(f) {
		return int64(f)
	}
	if s, ok := v.(string); ok && s != "" {
		return n.Timestamp(s)
	}
	return n.now().UnixMilli()
}

func parseGatewayMedia(r Record) *Media {
	kind, ok := ParseMediaKind(stringOf(r["kind"]))
	if !ok {
		return nil
	}
	content := stringOf(r["content"])
	if content == "" {
		content = stringOf(r["dataURL"])
	}
	return &Media{
		Kind:     kind,
		Content:  content,
		Mime:     stringOf(r["mime"]),
		Filename: stringOf(r["filename"]),
	}
}

func (n Normalizer) parseHeuristicMessage(r Record) *Message {
	rawChat := identity.Normalize(firstString(r, chatRules))
	if rawChat == "" {
		return nil
	}

	m := &Message{
		ID:     firstString(r, idRules),
		Sender: identity.Normalize(firstString(r, senderRules)),
	}
	switch identity.Classify(rawChat) {
	case identity.Alias:
		m.ChatAlias = rawChat
	default:
		// Groups and untagged keys are stored under the Primary slot so the
		// conversation key stays the raw identifier.
		m.ChatPrimary = rawChat
	}
	if m.Sender == "" {
		m.Sender = rawChat
	}
	if v, ok := firstPresent(r, fromMeRules); ok {
		m.FromMe = truthy(v)
	}
	if ts, ok := firstTruthy(r, timestampRules); ok {
		m.At = n.Timestamp(ts)
	} else {
		m.At = n.now().UnixMilli()
	}
	if body, ok := firstRecord(r, bodyRules); ok {
		m.Text = firstString(body, textRules)
		m.Media = detectMedia(body)
	}

	// Content-less events that are not ours are protocol noise.
	if m.Text == "" && !m.FromMe && m.Media == nil {
		return nil
	}
	return m
}

func detectMedia(body Record) *Media {
	for _, mr := range mediaRules {
		if sub, ok := firstRecord(body, mr.rules); ok {
			return &Media{
				Kind:     mr.kind,
				Mime:     firstString(sub, mimeRules),
				Filename: firstString(sub, fileNameRules),
			}
		}
	}
	return nil
}

// secondsCutoff separates epoch seconds from epoch millis.
const secondsCutoff = 1e12

// maxMillis is 2^63, the first float64 that no longer converts to an int64.
const maxMillis = float64(math.MaxInt64)

// inRange reports whether f is a positive number that converts to int64.
// NaN fails both comparisons.
func inRange(f float64) bool {
	return f > 0 && f < maxMillis
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.DateTime,
	time.DateOnly,
}

// Timestamp normalizes a wire timestamp to epoch millis. Numbers below 10^12
// are seconds; strings are parsed as numbers, then as calendar dates. Anything
// unusable, including values past the int64 range, falls back to the current
// time.
func (n Normalizer) Timestamp(v any) int64 {
	if f, ok := numberOf(v); ok {
		return n.fromNumber(f)
	}
	s, ok := v.(string)
	if !ok {
		return n.now().UnixMilli()
	}
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return n.fromNumber(f)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli()
		}
	}
	return n.now().UnixMilli()
}

func (n Normalizer) fromNumber(f float64) int64 {
	if f > 0 && f < secondsCutoff {
		f *= 1000
	}
	if !inRange(f) {
		return n.now().UnixMilli()
	}
	return int64(f)
}
