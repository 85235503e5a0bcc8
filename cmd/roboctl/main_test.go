package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardEntry() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return logrus.NewEntry(l)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestResolveProgram_PrefersFlagOverFile(t *testing.T) {
	flagProgram, flagProgramFile = "SEL A0; MV 100 50", ""
	defer func() { flagProgram, flagProgramFile = "", "" }()

	got, err := resolveProgram()
	require.NoError(t, err)
	assert.Equal(t, "SEL A0; MV 100 50", got)
}

func TestResolveProgram_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.txt")
	require.NoError(t, os.WriteFile(path, []byte("SEL A0; MV 100 50"), 0o644))

	flagProgram, flagProgramFile = "", path
	defer func() { flagProgram, flagProgramFile = "", "" }()

	got, err := resolveProgram()
	require.NoError(t, err)
	assert.Equal(t, "SEL A0; MV 100 50", got)
}

func TestResolveProgram_NeitherGivenIsUnknownOp(t *testing.T) {
	flagProgram, flagProgramFile = "", ""
	_, err := resolveProgram()
	require.Error(t, err)
	assert.Equal(t, exitUnknownOp, exitCodeFor(err))
}

func TestBuildRig_RegistersActuatorsAndStrips(t *testing.T) {
	hw := hardwareSpec{
		Actuators: map[string]actuatorSpec{
			"arm": {StepsPerRevolution: 200, ScrewLeadMMPerRev: 8, RampAccelMMps2: 50, MinSpeedMMps: 1},
		},
		Strips: map[string]stripSpec{
			"panel": {NumPixels: 4},
		},
	}
	ctrl, strips := buildRig(hw, discardEntry())
	require.NotNil(t, ctrl)
	require.Len(t, strips, 1)

	require.NoError(t, ctrl.Run(context.Background(), "SEL arm; MV 10 5"))
	require.NoError(t, ctrl.Run(context.Background(), "SEL panel; COL 255 0 0 255 !"))
	assert.NotEmpty(t, strips["panel"].Frame())
}
