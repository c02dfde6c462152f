package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i64(v int64) *int64 { return &v }

var verifiedDiff = json.RawMessage(`{"verification_status": {"OriginalValue": 2, "NewValue": 4}}`)

func bucket(t EntityType, user *int64, created time.Time, parent *int64, sampleID int64, entities int) Bucket {
	return Bucket{
		EntityType:     t,
		ActionUserID:   user,
		Created:        created,
		ActionType:     ActionUpdated,
		ParentEntityID: parent,
		Count:          entities,
		EntityCount:    entities,
		SampleChanges:  verifiedDiff,
		SampleEntityID: sampleID,
	}
}

func TestAssemble_VerificationCascade(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	user := i64(7)
	root := i64(1)

	// Tournament #1, Matches #10 and #11, Game #100, all verified by user 7.
	events := Assemble([]Bucket{
		bucket(EntityMatch, user, created, root, 11, 2),
		bucket(EntityGame, user, created, root, 100, 1),
		bucket(EntityTournament, user, created, root, 1, 1),
	})

	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, EntityTournament, ev.TopEntityType)
	assert.Equal(t, int64(1), ev.TopEntityID)
	assert.Equal(t, 1, ev.TopEntityCount)
	require.NotNil(t, ev.ChildEntityType)
	assert.Equal(t, EntityMatch, *ev.ChildEntityType)
	require.NotNil(t, ev.ChildAffectedCount)
	assert.Equal(t, 2, *ev.ChildAffectedCount)
	assert.True(t, ev.IsCascade)
	assert.Equal(t, []EntityType{EntityTournament, EntityMatch, EntityGame}, ev.EntityTypes)
	assert.Equal(t, 4, ev.EntryCount)
	assert.Equal(t, KindVerified, ev.Action.Kind)
	assert.Equal(t, OriginAdmin, ev.Action.Origin)
	assert.True(t, ev.Action.Cascade)
	assert.Equal(t, "Admin verification cascade", ev.Action.Label)
	assert.Equal(t, int64(7), *ev.ActionUserID)
	assert.Equal(t, "2 matches affected", ev.ChildSummary)
}

func TestAssemble_SingleTypeIsNotCascade(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	events := Assemble([]Bucket{bucket(EntityMatch, nil, created, i64(3), 42, 1)})

	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, EntityMatch, ev.TopEntityType)
	assert.Equal(t, int64(42), ev.TopEntityID)
	assert.False(t, ev.IsCascade)
	assert.Nil(t, ev.ChildEntityType)
	assert.Nil(t, ev.ChildAffectedCount)
	assert.Equal(t, OriginSystem, ev.Action.Origin)
	assert.Equal(t, "System verification", ev.Action.Label)
}

func TestAssemble_HierarchyOrder(t *testing.T) {
	created := time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC)
	user := i64(9)
	root := i64(1)

	for _, a := range AllEntityTypes {
		for _, b := range AllEntityTypes {
			if !Above(a, b) {
				continue
			}
			events := Assemble([]Bucket{
				bucket(b, user, created, root, 200, 1),
				bucket(a, user, created, root, 100, 1),
			})
			require.Len(t, events, 1)
			assert.Equal(t, a, events[0].TopEntityType, "%s above %s", a, b)
			assert.True(t, events[0].IsCascade)
		}
	}
}

func TestAssemble_OnlyImmediateChildIsCounted(t *testing.T) {
	created := time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC)
	user := i64(2)
	root := i64(5)

	events := Assemble([]Bucket{
		bucket(EntityTournament, user, created, root, 5, 1),
		bucket(EntityGame, user, created, root, 70, 4),
	})
	require.Len(t, events, 1)
	ev := events[0]
	require.NotNil(t, ev.ChildEntityType)
	assert.Equal(t, EntityMatch, *ev.ChildEntityType)
	assert.Nil(t, ev.ChildAffectedCount)
	assert.Empty(t, ev.ChildSummary)
}

func TestAssemble_OrphanReportedSeparately(t *testing.T) {
	created := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	user := i64(4)

	events := Assemble([]Bucket{
		bucket(EntityTournament, user, created, i64(1), 1, 1),
		bucket(EntityMatch, user, created, nil, 99, 1),
	})
	require.Len(t, events, 2)
	assert.Equal(t, EntityTournament, events[0].TopEntityType)
	assert.False(t, events[0].IsCascade)
	assert.Equal(t, EntityMatch, events[1].TopEntityType)
	assert.Equal(t, int64(99), events[1].TopEntityID)
	assert.Nil(t, events[1].ParentEntityID)
	assert.False(t, events[1].IsCascade)
}

func TestAssemble_PartitionsByActorAndTimestamp(t *testing.T) {
	t1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	t0 := t1.Add(-time.Minute)

	events := Assemble([]Bucket{
		bucket(EntityMatch, i64(1), t1, i64(1), 10, 1),
		bucket(EntityMatch, i64(2), t1, i64(1), 11, 1),
		bucket(EntityTournament, nil, t0, i64(1), 1, 1),
		bucket(EntityTournament, i64(1), t1, i64(1), 1, 1),
	})
	require.Len(t, events, 3)

	assert.Equal(t, EntityTournament, events[0].TopEntityType)
	assert.Equal(t, int64(1), *events[0].ActionUserID)
	assert.True(t, events[0].IsCascade)

	assert.Equal(t, EntityMatch, events[1].TopEntityType)
	assert.Equal(t, int64(2), *events[1].ActionUserID)

	assert.Nil(t, events[2].ActionUserID)
	assert.Equal(t, t0, events[2].Created)
}

func TestAssemble_CreatedDescendingOrder(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	events := Assemble([]Bucket{
		bucket(EntityMatch, i64(1), base, i64(1), 1, 1),
		bucket(EntityMatch, i64(1), base.Add(time.Hour), i64(1), 2, 1),
	})
	require.Len(t, events, 2)
	assert.True(t, events[0].Created.After(events[1].Created))
}

func TestClassifyAction(t *testing.T) {
	tests := []struct {
		name    string
		action  ActionType
		diff    string
		user    *int64
		cascade bool
		kind    ActionKind
		label   string
	}{
		{"created", ActionCreated, ``, i64(1), false, KindCreated, "Admin creation"},
		{"deleted", ActionDeleted, ``, nil, false, KindDeleted, "System deletion"},
		{"generic update", ActionUpdated, `{"name": {"originalValue": "a", "newValue": "b"}}`, i64(1), false, KindUpdated, "Admin update"},
		{"rejection by system cascade", ActionUpdated, `{"verification_status": {"originalValue": 2, "newValue": 3}}`, nil, true, KindRejected, "System rejection cascade"},
		{"pre-rejected", ActionUpdated, `{"verificationStatus": {"originalValue": 0, "newValue": 1}}`, nil, false, KindPreRejected, "System pre-rejection"},
		{"pre-verified", ActionUpdated, `{"verificationStatus": {"originalValue": 0, "newValue": 2}}`, nil, false, KindPreVerified, "System pre-verification"},
		{"reset", ActionUpdated, `{"verificationStatus": {"originalValue": 4, "newValue": 0}}`, i64(3), false, KindVerificationReset, "Admin verification reset"},
		{"unknown status", ActionUpdated, `{"verificationStatus": {"originalValue": 4, "newValue": 99}}`, i64(3), false, KindVerificationChanged, "Admin verification change"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := ClassifyAction(tt.action, NormalizeChanges(json.RawMessage(tt.diff)), tt.user, tt.cascade)
			assert.Equal(t, tt.kind, a.Kind)
			assert.Equal(t, tt.label, a.Label)
			assert.Equal(t, tt.cascade, a.Cascade)
		})
	}
}

func TestBuildChildSummary(t *testing.T) {
	match := EntityMatch
	score := EntityScore
	twelve, fortyFive, one := 12, 45, 1

	assert.Equal(t, "12 of 45 matches affected", BuildChildSummary(&match, &twelve, &fortyFive))
	assert.Equal(t, "12 matches affected", BuildChildSummary(&match, &twelve, nil))
	assert.Equal(t, "1 match affected", BuildChildSummary(&match, &one, nil))
	assert.Equal(t, "1 of 1 score affected", BuildChildSummary(&score, &one, &one))
	assert.Empty(t, BuildChildSummary(nil, &one, nil))
	assert.Empty(t, BuildChildSummary(&match, nil, &fortyFive))
}

func TestEvent_SetTotalChildCount(t *testing.T) {
	match := EntityMatch
	affected := 3
	ev := Event{ChildEntityType: &match, ChildAffectedCount: &affected}
	total := 10
	ev.SetTotalChildCount(&total)
	assert.Equal(t, "3 of 10 matches affected", ev.ChildSummary)
}

func TestContextFromEvent(t *testing.T) {
	assert.Nil(t, ContextFromEvent(Event{IsCascade: false}))

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	events := Assemble([]Bucket{
		bucket(EntityTournament, i64(7), created, i64(1), 1, 1),
		bucket(EntityMatch, i64(7), created, i64(1), 10, 3),
	})
	ctx := ContextFromEvent(events[0])
	require.NotNil(t, ctx)
	assert.Equal(t, EntityTournament, ctx.RootEntityType)
	assert.Equal(t, int64(1), ctx.RootEntityID)
	assert.Equal(t, 3, *ctx.ChildAffectedCount)
	assert.Equal(t, KindVerified, ctx.Action.Kind)
}
