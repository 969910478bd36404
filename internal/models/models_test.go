package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassificationValidate(t *testing.T) {
	tests := []struct {
		name    string
		c       Classification
		wantErr bool
	}{
		{
			name: "valid stream read",
			c:    Classification{Destination: DestinationStream, Consumer: ConsumerHuman, Semantics: SemanticsRead, Confidence: 0.9},
		},
		{
			name:    "invalid destination",
			c:       Classification{Destination: "DISK", Consumer: ConsumerHuman, Semantics: SemanticsRead},
			wantErr: true,
		},
		{
			name:    "invalid consumer",
			c:       Classification{Destination: DestinationFile, Consumer: "ROBOT", Semantics: SemanticsRead},
			wantErr: true,
		},
		{
			name:    "confidence above one",
			c:       Classification{Destination: DestinationFile, Consumer: ConsumerHuman, Semantics: SemanticsExecute, Confidence: 1.5},
			wantErr: true,
		},
		{
			name:    "negative confidence",
			c:       Classification{Destination: DestinationFile, Consumer: ConsumerHuman, Semantics: SemanticsExecute, Confidence: -0.1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestClassificationRisk(t *testing.T) {
	lowRisk := &Classification{Destination: DestinationStream, Consumer: ConsumerHuman, Semantics: SemanticsInterpret}
	assert.True(t, lowRisk.IsLowRisk())
	assert.False(t, lowRisk.IsMutating())

	machine := &Classification{Destination: DestinationStream, Consumer: ConsumerMachine, Semantics: SemanticsRead}
	assert.False(t, machine.IsLowRisk())

	for _, dest := range []Destination{DestinationFile, DestinationProcess} {
		c := &Classification{Destination: dest, Consumer: ConsumerHuman, Semantics: SemanticsExecute}
		assert.True(t, c.IsMutating(), dest)
		assert.False(t, c.IsLowRisk(), dest)
	}

	var nilClass *Classification
	assert.False(t, nilClass.IsLowRisk())
	assert.Equal(t, "unclassified", nilClass.Triple())
}

func TestParseAxes(t *testing.T) {
	d, err := ParseDestination(" file ")
	require.NoError(t, err)
	assert.Equal(t, DestinationFile, d)

	c, err := ParseConsumer("machine")
	require.NoError(t, err)
	assert.Equal(t, ConsumerMachine, c)

	s, err := ParseSemantics("Interpret")
	require.NoError(t, err)
	assert.Equal(t, SemanticsInterpret, s)

	_, err = ParseSemantics("write")
	assert.Error(t, err)
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusClassifying, StatusAwaitingVerification, true},
		{StatusClassifying, StatusDecomposed, true},
		{StatusAwaitingVerification, StatusExecuting, true},
		{StatusAwaitingVerification, StatusAwaitingApproval, true},
		{StatusAwaitingApproval, StatusExecuting, true},
		{StatusAwaitingApproval, StatusCancelled, true},
		{StatusExecuting, StatusComplete, true},
		{StatusExecuting, StatusFailed, true},
		{StatusDecomposed, StatusExecuting, false},
		{StatusClassifying, StatusExecuting, false},
		{StatusComplete, StatusExecuting, false},
		{StatusFailed, StatusComplete, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}

	assert.True(t, StatusComplete.IsTerminal())
	assert.False(t, StatusDecomposed.IsTerminal())
	assert.False(t, Status("BOGUS").Valid())
}

func TestReversibilityRoundTrip(t *testing.T) {
	cases := []Reversibility{
		RestoreBackup{Files: map[string]string{"/home/user/a.txt": "/backups/a.txt.01H.bak"}},
		DeleteCreated{Paths: []string{"/tmp/new"}, Commands: []string{"rm -f -- '/tmp/new'"}},
		InverseCommand{Commands: []string{"systemctl stop nginx"}},
		NotReversible{Reason: "No undo method available"},
	}

	for _, r := range cases {
		t.Run(string(r.Method()), func(t *testing.T) {
			method, payload, err := MarshalReversibility(r)
			require.NoError(t, err)

			decoded, err := UnmarshalReversibility(method, payload)
			require.NoError(t, err)
			assert.Equal(t, r, decoded)
			assert.Equal(t, r.Method() != MethodNone, decoded.Reversible())
		})
	}

	_, err := UnmarshalReversibility("teleport", "{}")
	assert.Error(t, err)

	none, err := UnmarshalReversibility("", "")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSnapshotDiffs(t *testing.T) {
	now := time.Now()
	before := NewStateSnapshot(now)
	before.Files["/a"] = FileState{Exists: true, Hash: "h1", Size: 2}
	before.Files["/b"] = FileState{Exists: false}
	before.Files["/c"] = FileState{Exists: true, Hash: "h3", Size: 1}

	after := NewStateSnapshot(now.Add(time.Second))
	after.Files["/a"] = FileState{Exists: true, Hash: "h1", Size: 2}
	after.Files["/b"] = FileState{Exists: true, Hash: "h2", Size: 5}
	after.Files["/c"] = FileState{Exists: false}

	assert.Equal(t, []string{"/b"}, CreatedPaths(before, after))
	assert.Equal(t, []string{"/b", "/c"}, ChangedPaths(before, after))
}

func TestPipelineResultMessage(t *testing.T) {
	r := &PipelineResult{
		Passed:        false,
		BlockingLayer: LayerSafety,
		Layers: []LayerResult{
			{Layer: LayerSyntax, Passed: true},
			{Layer: LayerSafety, Passed: false, Issues: []string{"blocked pattern"}},
		},
	}
	assert.Equal(t, "verification failed at safety layer: blocked pattern", r.Message())

	ok := &PipelineResult{Passed: true, Warnings: []string{"w"}}
	assert.Contains(t, ok.Message(), "1 warning")
}

func TestOperationClone(t *testing.T) {
	op := NewOperation("delete /tmp/x", "u1", "cli", time.Now())
	op.Classification = &Classification{Destination: DestinationFile, Consumer: ConsumerHuman, Semantics: SemanticsExecute}
	op.ChildIDs = []string{"c1"}

	cp := op.Clone()
	cp.Classification.Domain = "changed"
	cp.ChildIDs[0] = "c2"

	assert.Empty(t, op.Classification.Domain)
	assert.Equal(t, "c1", op.ChildIDs[0])
	assert.NoError(t, op.Validate())
}
