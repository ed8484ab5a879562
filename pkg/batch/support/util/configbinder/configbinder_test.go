package configbinder_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/configbinder"
)

type producerProps struct {
	Brokers      []string      `yaml:"brokers"`
	Retries      int           `yaml:"retries"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	Async        bool          `yaml:"async"`
}

func TestBindProperties(t *testing.T) {
	var p producerProps
	err := configbinder.BindProperties(map[string]interface{}{
		"brokers":       "k1:9092,k2:9092",
		"retries":       "5",
		"write_timeout": "3s",
		"async":         "true",
	}, &p)

	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, p.Brokers)
	assert.Equal(t, 5, p.Retries)
	assert.Equal(t, 3*time.Second, p.WriteTimeout)
	assert.True(t, p.Async)
}

func TestBindPropertiesEmptyLeavesTarget(t *testing.T) {
	p := producerProps{Retries: 3}
	require.NoError(t, configbinder.BindProperties(nil, &p))
	assert.Equal(t, 3, p.Retries)
}

func TestBindStringPropertiesRejectsBadNumber(t *testing.T) {
	var p producerProps
	err := configbinder.BindStringProperties(map[string]string{"retries": "many"}, &p)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "producerProps")
}
