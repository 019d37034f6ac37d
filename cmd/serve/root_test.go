package serve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClusterMembers(t *testing.T) {
	members, err := parseClusterMembers("1=localhost:63001, 2=localhost:63002")
	require.NoError(t, err)
	assert.Equal(t, map[uint64]string{1: "localhost:63001", 2: "localhost:63002"}, members)

	members, err = parseClusterMembers("")
	require.NoError(t, err)
	assert.Empty(t, members)

	for _, invalid := range []string{"localhost:63001", "0=localhost:1", "x=localhost:1", "1=a=b"} {
		_, err := parseClusterMembers(invalid)
		assert.Error(t, err, invalid)
	}
}
