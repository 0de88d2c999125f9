package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/tandem/internal/domain"
)

func TestPrintRecord(t *testing.T) {
	now := time.Date(2026, 6, 3, 9, 0, 0, 0, time.UTC)
	end := now.Add(72 * time.Hour).Unix()

	r := domain.NewRecord(now.Add(-48 * time.Hour))
	r.Name = "Ana"
	r.PartnerName = ""
	r.CompletedMissionIDs = []int{1, 2}
	r.Streak = 2
	r.SubscriptionID = "sub_1"
	r.SubscriptionStatus = "active"
	r.CurrentPeriodEnd = &end
	r.CancelAtPeriodEnd = true

	var buf bytes.Buffer
	printRecord(&buf, r, now)
	out := buf.String()

	assert.Regexp(t, `name\s+Ana`, out)
	assert.Regexp(t, `partner\s+-`, out)
	assert.Regexp(t, `day\s+3`, out)
	assert.Regexp(t, `completed\s+2`, out)
	assert.Regexp(t, `ends\s+2026-06-06`, out)
	assert.Regexp(t, `access\s+granted`, out)
}

func TestPrintRecord_Guest(t *testing.T) {
	now := time.Date(2026, 6, 3, 9, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	printRecord(&buf, domain.NewRecord(now), now)

	assert.Regexp(t, `subscription\s+-`, buf.String())
	assert.Regexp(t, `access\s+denied`, buf.String())
	assert.NotContains(t, buf.String(), "renews")
}

func TestMissionArg(t *testing.T) {
	id, err := missionArg("12")
	require.NoError(t, err)
	assert.Equal(t, 12, id)

	_, err = missionArg("twelve")
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "config initialization failed: boom",
		userMessage(errors.New("config initialization failed: boom")))
	assert.Equal(t, "Unknown mission.",
		userMessage(domain.Invalid("session.complete", "Unknown mission.")))
	assert.Equal(t, "An internal error occurred. Please try again later.",
		userMessage(domain.Internal(errors.New("disk"), "session.signout", "detail")))
}

func TestRootCmd_RegistersCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{
		"load", "today", "complete", "reflect", "mode", "language", "profile", "reset",
		"signin", "signout", "subscribe", "trial", "confirm", "sync", "refresh", "cancel", "access", "watch",
	} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}
