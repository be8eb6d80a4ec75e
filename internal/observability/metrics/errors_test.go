package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/errors"
)

func TestErrorHookCountsByCategory(t *testing.T) {
	m, err := NewErrorMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	hook := m.Hook()
	hook(&errors.EnhancedError{Category: errors.CategoryXrun})
	hook(&errors.EnhancedError{Category: errors.CategoryXrun})
	hook(&errors.EnhancedError{Category: errors.CategoryFileIO})

	assert.Equal(t, 2, testutil.CollectAndCount(m.Errors))
}
