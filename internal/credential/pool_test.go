package credential

import (
	"sync"
	"testing"
	"time"

	"github.com/aigateway/aigateway/internal/gatewayerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectPicksLeastRecentlyUsed(t *testing.T) {
	m := NewManager(3)
	older := New("anthropic", "key-a")
	older.Health.LastUsedAt = time.Now().Add(-time.Hour)
	newer := New("anthropic", "key-b")
	newer.Health.LastUsedAt = time.Now()
	m.Add(older)
	m.Add(newer)

	sel, err := m.Select("anthropic", "", SelectOptions{})
	require.NoError(t, err)
	assert.Equal(t, older.ID, sel.Credential.ID)
}

func TestSelectExcludesDisabledAndQuarantined(t *testing.T) {
	m := NewManager(3)
	disabled := New("anthropic", "key-a")
	disabled.Disabled = true
	quarantined := New("anthropic", "key-b")
	quarantined.Health.Quarantined = true
	quarantined.Health.QuarantineUntil = time.Now().Add(time.Minute)
	m.Add(disabled)
	m.Add(quarantined)

	_, err := m.Select("anthropic", "", SelectOptions{})
	assert.ErrorIs(t, err, gatewayerr.ErrNoHealthyCredential)
}

func TestSelectFiltersUnsupportedModel(t *testing.T) {
	m := NewManager(3)
	c := New("anthropic", "key-a")
	c.SupportedModels = map[string]bool{"claude-haiku": true}
	m.Add(c)

	_, err := m.Select("anthropic", "claude-opus", SelectOptions{})
	assert.ErrorIs(t, err, gatewayerr.ErrNoHealthyCredential)

	sel, err := m.Select("anthropic", "claude-haiku", SelectOptions{})
	require.NoError(t, err)
	assert.Equal(t, c.ID, sel.Credential.ID)
}

func TestSelectFallsBackToAlternateProviderKind(t *testing.T) {
	m := NewManager(3)
	alt := New("webchat", "")
	m.Add(alt)
	m.SetFallbacks("anthropic", []FallbackRule{
		{ProviderKind: "webchat", ModelRewrite: func(model string) string { return "grok-" + model }},
	})

	sel, err := m.Select("anthropic", "beta", SelectOptions{})
	require.NoError(t, err)
	assert.True(t, sel.IsFallback)
	assert.Equal(t, Kind("webchat"), sel.ActualProvider)
	assert.Equal(t, "grok-beta", sel.ActualModel)
}

func TestRecordFailureQuarantinesOnShouldSwitch(t *testing.T) {
	m := NewManager(3)
	c := New("anthropic", "key-a")
	m.Add(c)

	m.RecordFailure(c, true)
	assert.True(t, c.Health.Quarantined)

	_, err := m.Select("anthropic", "", SelectOptions{})
	assert.ErrorIs(t, err, gatewayerr.ErrNoHealthyCredential)
}

func TestRecordFailureQuarantinesAtThreshold(t *testing.T) {
	m := NewManager(2)
	c := New("anthropic", "key-a")
	m.Add(c)

	m.RecordFailure(c, false)
	assert.False(t, c.Health.Quarantined)
	m.RecordFailure(c, false)
	assert.True(t, c.Health.Quarantined)
}

func TestRecordSuccessResetsErrorCount(t *testing.T) {
	m := NewManager(3)
	c := New("anthropic", "key-a")
	m.Add(c)

	m.RecordFailure(c, false)
	m.RecordSuccess(c)
	assert.Equal(t, 0, c.Health.ErrorCount)
}

func TestCooldownGrowsExponentiallyCappedAt30s(t *testing.T) {
	assert.Equal(t, 2*time.Second, cooldownFor(0))
	assert.Equal(t, 4*time.Second, cooldownFor(1))
	assert.Equal(t, 30*time.Second, cooldownFor(10))
}

func TestSelectIsSafeUnderConcurrentUse(t *testing.T) {
	m := NewManager(3)
	for i := 0; i < 5; i++ {
		m.Add(New("anthropic", "key"))
	}

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sel, err := m.Select("anthropic", "", SelectOptions{AcquireSlot: true})
			if err != nil {
				return
			}
			m.RecordSuccess(sel.Credential)
			m.ReleaseSlot(sel.Credential)
		}()
	}
	wg.Wait()
}
