package domain

import (
	"slices"
	"strings"
)

// Merge reconciles the local snapshot with the remote profile document.
//
// The merge never loses a completed mission from either side, never drops a
// real name in favor of the placeholder, and never regresses the streak.
// Local wins reflection collisions since it holds the device's latest edit.
func Merge(local, remote Record) Record {
	out := local.Clone()

	out.Name = preferNamed(local.Name, remote.Name, DefaultName)
	out.PartnerName = preferNamed(local.PartnerName, remote.PartnerName, DefaultPartnerName)
	out.Username = firstNonEmpty(local.Username, remote.Username)
	out.Email = firstNonEmpty(local.Email, remote.Email)
	out.Language = firstNonEmpty(local.Language, remote.Language)

	if local.Mode == DefaultMode && remote.Mode.Valid() {
		out.Mode = remote.Mode
	}

	out.CompletedMissionIDs = unionSorted(local.CompletedMissionIDs, remote.CompletedMissionIDs)
	out.Streak = max(local.Streak, remote.Streak)

	out.Reflections = make(map[int]string, len(local.Reflections)+len(remote.Reflections))
	for id, text := range remote.Reflections {
		out.Reflections[id] = text
	}
	for id, text := range local.Reflections {
		out.Reflections[id] = text
	}

	out.MissionOrder = slices.Clone(mergeOrder(local.MissionOrder, remote.MissionOrder))
	if out.MissionOrder == nil {
		out.MissionOrder = []int{}
	}

	if !remote.StartDate.IsZero() && (local.StartDate.IsZero() || remote.StartDate.Before(local.StartDate)) {
		out.StartDate = remote.StartDate
	}
	if remote.LastActivityDate.After(local.LastActivityDate) {
		out.LastActivityDate = remote.LastActivityDate
	}

	out.IsPremium = local.IsPremium || remote.IsPremium
	if local.SubscriptionID == "" && remote.SubscriptionID != "" {
		out.SubscriptionID = remote.SubscriptionID
		out.SubscriptionStatus = remote.SubscriptionStatus
		out.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
		out.CurrentPeriodEnd = nil
		if remote.CurrentPeriodEnd != nil {
			end := *remote.CurrentPeriodEnd
			out.CurrentPeriodEnd = &end
		}
	}

	return out
}

// preferNamed keeps a real local value over the remote one, falling back to
// the remote value while the local side still shows the placeholder.
func preferNamed(local, remote, placeholder string) string {
	if local != "" && local != placeholder {
		return local
	}
	if strings.TrimSpace(remote) != "" {
		return remote
	}
	if local != "" {
		return local
	}
	return placeholder
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func unionSorted(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	slices.Sort(out)
	return slices.Compact(out)
}

// mergeOrder keeps the local order when it has one. The remote order replaces
// it only when it extends the local order without diverging.
func mergeOrder(local, remote []int) []int {
	if len(local) == 0 {
		return remote
	}
	if len(remote) > len(local) && slices.Equal(remote[:len(local)], local) {
		return remote
	}
	return local
}
