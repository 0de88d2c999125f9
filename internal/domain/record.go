// Package domain contains core business types and interfaces.
//
// This file defines the canonical user progress record. The record is the
// single shared value that the local snapshot, the remote profile document,
// and every billing synchronization pass read and write.
package domain

import (
	"slices"
	"strings"
	"time"
)

// Mode is the relationship setting the missions are tailored to.
type Mode string

const (
	ModeSolo     Mode = "solo"
	ModeCouple   Mode = "couple"
	ModeDistance Mode = "distance"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeSolo, ModeCouple, ModeDistance:
		return true
	}
	return false
}

// Placeholder values written into a fresh record.
const (
	DefaultName        = "Guest"
	DefaultPartnerName = "Partner"
	DefaultMode        = ModeCouple
)

// Record is the canonical user progress record.
type Record struct {
	// Identity
	Name        string
	PartnerName string
	Username    string
	Email       string

	// Journey
	StartDate           time.Time
	CompletedMissionIDs []int // sorted, no duplicates
	Streak              int
	LastActivityDate    time.Time // zero until the first completion
	Reflections         map[int]string
	MissionOrder        []int
	Mode                Mode
	Language            string

	// Billing
	IsPremium          bool // manual override, sticky
	SubscriptionID     string
	SubscriptionStatus string
	CurrentPeriodEnd   *int64 // epoch seconds
	CancelAtPeriodEnd  bool
}

// NewRecord returns the guest default record stamped with now.
func NewRecord(now time.Time) Record {
	return Record{
		Name:                DefaultName,
		PartnerName:         DefaultPartnerName,
		StartDate:           now.UTC(),
		CompletedMissionIDs: []int{},
		Reflections:         map[int]string{},
		MissionOrder:        []int{},
		Mode:                DefaultMode,
	}
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (r Record) Clone() Record {
	out := r
	out.CompletedMissionIDs = slices.Clone(r.CompletedMissionIDs)
	out.MissionOrder = slices.Clone(r.MissionOrder)
	out.Reflections = make(map[int]string, len(r.Reflections))
	for k, v := range r.Reflections {
		out.Reflections[k] = v
	}
	if r.CurrentPeriodEnd != nil {
		end := *r.CurrentPeriodEnd
		out.CurrentPeriodEnd = &end
	}
	if out.CompletedMissionIDs == nil {
		out.CompletedMissionIDs = []int{}
	}
	if out.MissionOrder == nil {
		out.MissionOrder = []int{}
	}
	return out
}

// IsCompleted reports whether the mission has been completed.
func (r Record) IsCompleted(missionID int) bool {
	_, found := slices.BinarySearch(r.CompletedMissionIDs, missionID)
	return found
}

// =============================================================================
// Mutations
// =============================================================================

// CompleteMission marks a mission as completed.
//
// Completing an already-completed mission is a no-op. A new completion bumps
// the streak by exactly one and stamps the last activity date.
func (r Record) CompleteMission(missionID int, now time.Time) (Record, error) {
	if missionID <= 0 {
		return r, Invalid("record.complete", "mission id must be positive")
	}
	if r.IsCompleted(missionID) {
		return r, nil
	}
	out := r.Clone()
	out.CompletedMissionIDs = insertSorted(out.CompletedMissionIDs, missionID)
	out.Streak++
	out.LastActivityDate = now.UTC()
	return out, nil
}

// SetReflection stores the note for a mission. Empty or whitespace-only text
// removes the note.
func (r Record) SetReflection(missionID int, text string) (Record, error) {
	if missionID <= 0 {
		return r, Invalid("record.reflect", "mission id must be positive")
	}
	out := r.Clone()
	text = strings.TrimSpace(text)
	if text == "" {
		delete(out.Reflections, missionID)
		return out, nil
	}
	out.Reflections[missionID] = text
	return out, nil
}

// PruneReflections drops notes whose mission id fails valid.
func (r Record) PruneReflections(valid func(int) bool) Record {
	out := r.Clone()
	for id := range out.Reflections {
		if !valid(id) {
			delete(out.Reflections, id)
		}
	}
	return out
}

// SetMode switches the relationship mode.
func (r Record) SetMode(mode Mode) (Record, error) {
	if !mode.Valid() {
		return r, Invalid("record.mode", "mode must be one of solo, couple, distance")
	}
	out := r.Clone()
	out.Mode = mode
	return out, nil
}

// SetLanguage changes the display language. An empty tag clears it.
func (r Record) SetLanguage(tag string) (Record, error) {
	out := r.Clone()
	if strings.TrimSpace(tag) == "" {
		out.Language = ""
		return out, nil
	}
	normalized, ok := normalizeLanguage(tag)
	if !ok {
		return r, Invalid("record.language", "unknown language tag")
	}
	out.Language = normalized
	return out, nil
}

// ProfileUpdateParams contains the editable profile fields.
type ProfileUpdateParams struct {
	Name        string
	PartnerName string
	Username    string
	Mode        Mode
}

// Validate checks required profile fields before any I/O.
func (p ProfileUpdateParams) Validate() error {
	fields := map[string]string{}
	if strings.TrimSpace(p.Name) == "" {
		fields["name"] = "Name is required"
	}
	if !p.Mode.Valid() {
		fields["mode"] = "Choose solo, couple or distance"
	} else if p.Mode != ModeSolo && strings.TrimSpace(p.PartnerName) == "" {
		fields["partner_name"] = "Partner name is required"
	}
	if len(fields) > 0 {
		return &ValidationError{Op: "record.profile", Fields: fields}
	}
	return nil
}

// UpdateProfile applies validated profile edits.
func (r Record) UpdateProfile(p ProfileUpdateParams) (Record, error) {
	if err := p.Validate(); err != nil {
		return r, err
	}
	out := r.Clone()
	out.Name = strings.TrimSpace(p.Name)
	out.PartnerName = strings.TrimSpace(p.PartnerName)
	out.Username = strings.TrimSpace(p.Username)
	out.Mode = p.Mode
	return out, nil
}

// Reset clears journey state. Identity, mode, partner name, language and
// billing fields are kept.
func (r Record) Reset(now time.Time) Record {
	out := r.Clone()
	out.StartDate = now.UTC()
	out.CompletedMissionIDs = []int{}
	out.Streak = 0
	out.LastActivityDate = time.Time{}
	out.Reflections = map[int]string{}
	out.MissionOrder = []int{}
	return out
}

func insertSorted(ids []int, id int) []int {
	i, found := slices.BinarySearch(ids, id)
	if found {
		return ids
	}
	return slices.Insert(ids, i, id)
}
