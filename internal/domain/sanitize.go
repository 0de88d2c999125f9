package domain

import (
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// Persisted field names, shared by the local snapshot and the remote document.
const (
	FieldName                = "name"
	FieldPartnerName         = "partnerName"
	FieldUsername            = "username"
	FieldEmail               = "email"
	FieldStartDate           = "startDate"
	FieldCompletedMissionIDs = "completedMissionIds"
	FieldStreak              = "streak"
	FieldLastActivityDate    = "lastActivityDate"
	FieldReflections         = "reflections"
	FieldMissionOrder        = "missionOrder"
	FieldMode                = "mode"
	FieldLanguage            = "language"
	FieldIsPremium           = "isPremium"
	FieldSubscriptionID      = "subscriptionId"
	FieldSubscriptionStatus  = "subscriptionStatus"
	FieldCurrentPeriodEnd    = "currentPeriodEnd"
	FieldCancelAtPeriodEnd   = "cancelAtPeriodEnd"
)

// =============================================================================
// Parse or default
// =============================================================================

// ParseRecord builds a record from a loosely-typed persisted document.
//
// Every field is checked on its own. A missing or wrongly-shaped field falls
// back to its default, so a corrupt document degrades one field at a time and
// never fails as a whole. Both stores read through this function.
func ParseRecord(raw map[string]any, now time.Time) Record {
	r := NewRecord(now)
	if raw == nil {
		return r
	}

	if s, ok := trimmedString(raw[FieldName]); ok && s != "" {
		r.Name = s
	}
	if s, ok := trimmedString(raw[FieldPartnerName]); ok {
		r.PartnerName = s
	}
	if s, ok := trimmedString(raw[FieldUsername]); ok {
		r.Username = s
	}
	if s, ok := trimmedString(raw[FieldEmail]); ok {
		r.Email = strings.ToLower(s)
	}

	if t, ok := asTime(raw[FieldStartDate]); ok {
		r.StartDate = t
	}
	if t, ok := asTime(raw[FieldLastActivityDate]); ok {
		r.LastActivityDate = t
	}

	if ids, ok := asIDList(raw[FieldCompletedMissionIDs]); ok {
		slices.Sort(ids)
		r.CompletedMissionIDs = slices.Compact(ids)
	}
	if n, ok := asInt(raw[FieldStreak]); ok && n >= 0 {
		r.Streak = int(n)
	}
	if refl, ok := asReflections(raw[FieldReflections]); ok {
		r.Reflections = refl
	}
	if order, ok := asIDList(raw[FieldMissionOrder]); ok && !hasDuplicates(order) {
		r.MissionOrder = order
	}

	if s, ok := raw[FieldMode].(string); ok && Mode(s).Valid() {
		r.Mode = Mode(s)
	}
	if s, ok := trimmedString(raw[FieldLanguage]); ok && s != "" {
		if tag, valid := normalizeLanguage(s); valid {
			r.Language = tag
		}
	}

	if b, ok := raw[FieldIsPremium].(bool); ok {
		r.IsPremium = b
	}
	if s, ok := trimmedString(raw[FieldSubscriptionID]); ok {
		r.SubscriptionID = s
	}
	if s, ok := trimmedString(raw[FieldSubscriptionStatus]); ok {
		r.SubscriptionStatus = strings.ToLower(s)
	}
	if n, ok := asInt(raw[FieldCurrentPeriodEnd]); ok && n > 0 {
		r.CurrentPeriodEnd = &n
	}
	if b, ok := raw[FieldCancelAtPeriodEnd].(bool); ok {
		r.CancelAtPeriodEnd = b
	}

	return r
}

// DecodeRecord parses a JSON snapshot. Undecodable input yields the default
// record.
func DecodeRecord(data []byte, now time.Time) Record {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return NewRecord(now)
	}
	return ParseRecord(raw, now)
}

// =============================================================================
// Serialization
// =============================================================================

// ToMap renders the record in its persisted layout. Absent optional values
// are written as nil so merge-on-write stores clear them.
func (r Record) ToMap() map[string]any {
	reflections := make(map[string]any, len(r.Reflections))
	for id, text := range r.Reflections {
		reflections[strconv.Itoa(id)] = text
	}

	var periodEnd any
	if r.CurrentPeriodEnd != nil {
		periodEnd = *r.CurrentPeriodEnd
	}
	var lastActivity any
	if !r.LastActivityDate.IsZero() {
		lastActivity = r.LastActivityDate.UTC().Format(time.RFC3339)
	}

	return map[string]any{
		FieldName:                r.Name,
		FieldPartnerName:         r.PartnerName,
		FieldUsername:            r.Username,
		FieldEmail:               r.Email,
		FieldStartDate:           r.StartDate.UTC().Format(time.RFC3339),
		FieldCompletedMissionIDs: intsToAny(r.CompletedMissionIDs),
		FieldStreak:              r.Streak,
		FieldLastActivityDate:    lastActivity,
		FieldReflections:         reflections,
		FieldMissionOrder:        intsToAny(r.MissionOrder),
		FieldMode:                string(r.Mode),
		FieldLanguage:            r.Language,
		FieldIsPremium:           r.IsPremium,
		FieldSubscriptionID:      r.SubscriptionID,
		FieldSubscriptionStatus:  r.SubscriptionStatus,
		FieldCurrentPeriodEnd:    periodEnd,
		FieldCancelAtPeriodEnd:   r.CancelAtPeriodEnd,
	}
}

// EncodeRecord renders the record as a JSON snapshot.
func EncodeRecord(r Record) ([]byte, error) {
	return json.Marshal(r.ToMap())
}

// =============================================================================
// Field helpers
// =============================================================================

func trimmedString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(s), true
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return 0, false
		}
		if n > math.MaxInt64 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return t.UTC(), true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(t))
		if err != nil {
			return time.Time{}, false
		}
		return parsed.UTC(), true
	}
	return time.Time{}, false
}

// asIDList accepts a list of positive integers. Elements of the wrong shape
// are dropped; a non-list value is rejected.
func asIDList(v any) ([]int, bool) {
	var items []any
	switch list := v.(type) {
	case []any:
		items = list
	case []int:
		return slices.DeleteFunc(slices.Clone(list), func(id int) bool { return id <= 0 }), true
	case []int64:
		items = make([]any, len(list))
		for i, id := range list {
			items[i] = id
		}
	default:
		return nil, false
	}

	ids := make([]int, 0, len(items))
	for _, item := range items {
		if n, ok := asInt(item); ok && n > 0 {
			ids = append(ids, int(n))
		}
	}
	return ids, true
}

func asReflections(v any) (map[int]string, bool) {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	out := make(map[int]string, len(raw))
	for key, value := range raw {
		id, err := strconv.Atoi(key)
		if err != nil || id <= 0 {
			continue
		}
		text, ok := trimmedString(value)
		if !ok || text == "" {
			continue
		}
		out[id] = text
	}
	return out, true
}

func hasDuplicates(ids []int) bool {
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return true
		}
		seen[id] = struct{}{}
	}
	return false
}

func intsToAny(ids []int) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func normalizeLanguage(tag string) (string, bool) {
	parsed, err := language.Parse(strings.TrimSpace(tag))
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}
