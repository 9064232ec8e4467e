package usecase

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
)

func TestHistory_Bounded(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Append(domain.ScreenAnalysis{Status: domain.StatusFocused, Subject: fmt.Sprintf("s%d", i)})
	}

	items := h.Items()
	require.Len(t, items, 3)
	assert.Equal(t, "s2", items[0].Subject)
	assert.Equal(t, "s4", items[2].Subject)
	assert.Equal(t, 3, h.Len())
}

func TestHistory_DefaultSize(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < 20; i++ {
		h.Append(domain.ScreenAnalysis{Subject: fmt.Sprintf("s%d", i)})
	}
	assert.Equal(t, DefaultHistorySize, h.Len())
}

func TestHistory_PromptContextMostRecentFirst(t *testing.T) {
	h := NewHistory(10)
	assert.Empty(t, h.PromptContext())

	h.Append(domain.ScreenAnalysis{Status: domain.StatusFocused, Subject: "old"})
	h.Append(domain.ScreenAnalysis{Status: domain.StatusDistracted, Subject: "new"})

	var decoded []domain.ScreenAnalysis
	require.NoError(t, json.Unmarshal([]byte(h.PromptContext()), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "new", decoded[0].Subject)
	assert.Equal(t, "old", decoded[1].Subject)
}

func TestHistory_ItemsIsCopy(t *testing.T) {
	h := NewHistory(2)
	h.Append(domain.ScreenAnalysis{Subject: "a"})

	items := h.Items()
	items[0].Subject = "changed"
	assert.Equal(t, "a", h.Items()[0].Subject)

	h.Reset()
	assert.Zero(t, h.Len())
}
