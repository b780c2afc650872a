package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_Disabled(t *testing.T) {
	reg := Init(false)
	assert.Nil(t, reg)
	assert.False(t, IsEnabled())
	assert.Nil(t, GetRegistry())
}

func TestInit_EnabledRegistersCollectors(t *testing.T) {
	reg := Init(true)
	require.NotNil(t, reg)
	assert.True(t, IsEnabled())
	assert.Same(t, reg, GetRegistry())

	assert.NotPanics(t, func() {
		RecordTransferStarted()
		RecordTransferEnded()
		RecordBytesTransferred("upload", 1024)
		RecordQueueDepth(3)
		RecordCleanup("performed")
		RecordTransferError("timeout")
	})

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, metricFamilies)
}

func TestRecordFunctions_NilSafeBeforeInit(t *testing.T) {
	Init(false)
	assert.NotPanics(t, func() {
		RecordTransferStarted()
		RecordBytesTransferred("download", 10)
		RecordQueueDepth(0)
		RecordCleanup("skipped")
		RecordTransferError("conflict")
	})
}
