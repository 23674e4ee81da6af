package ranks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	table := NewTable(
		Entry{Threshold: 500, Value: "Silver"},
		Entry{Threshold: 100, Value: "Bronze"},
		Entry{Threshold: 1000, Value: "Gold"},
	)

	tests := []struct {
		name string
		xp   int64
		want string
	}{
		{"below first", 99, Unranked},
		{"exactly first", 100, "Bronze"},
		{"between", 499, "Bronze"},
		{"exactly middle", 500, "Silver"},
		{"above last", 1_000_000, "Gold"},
		{"zero", 0, Unranked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(table, tt.xp))
		})
	}

	t.Run("empty table", func(t *testing.T) {
		assert.Equal(t, Unranked, Resolve(Table{}, 5000))
	})

	t.Run("zero threshold", func(t *testing.T) {
		assert.Equal(t, "Newcomer", Resolve(NewTable(Entry{Threshold: 0, Value: "Newcomer"}), 0))
	})
}

func TestTableSetRemove(t *testing.T) {
	var table Table
	table.Set(300, "C")
	table.Set(100, "A")
	table.Set(200, "B")
	table.Set(100, "A2")

	assert.Equal(t, []Entry{{100, "A2"}, {200, "B"}, {300, "C"}}, table.Entries())

	v, ok := table.Get(200)
	assert.True(t, ok)
	assert.Equal(t, "B", v)

	assert.True(t, table.Remove(200))
	assert.False(t, table.Remove(200))
	_, ok = table.Get(200)
	assert.False(t, ok)
	assert.Equal(t, 2, table.Len())
}

func TestTableEntriesIsCopy(t *testing.T) {
	table := NewTable(Entry{Threshold: 1, Value: "one"})
	entries := table.Entries()
	entries[0].Value = "changed"

	v, _ := table.Get(1)
	assert.Equal(t, "one", v)
}

func TestHighest(t *testing.T) {
	table := NewTable(Entry{Threshold: 10, Value: "r10"}, Entry{Threshold: 20, Value: "r20"})

	_, ok := table.Highest(9)
	assert.False(t, ok)

	e, ok := table.Highest(25)
	assert.True(t, ok)
	assert.Equal(t, Entry{Threshold: 20, Value: "r20"}, e)
}

func TestParseBulk(t *testing.T) {
	got := ParseBulk("100:Bronze, 500:Silver, bad:Entry, 1000:Gold")
	assert.Equal(t, []Entry{
		{Threshold: 100, Value: "Bronze"},
		{Threshold: 500, Value: "Silver"},
		{Threshold: 1000, Value: "Gold"},
	}, got)

	t.Run("names keep inner colons", func(t *testing.T) {
		assert.Equal(t, []Entry{{Threshold: 5, Value: "Tier: One"}}, ParseBulk("5:Tier: One"))
	})

	t.Run("skips junk", func(t *testing.T) {
		assert.Empty(t, ParseBulk("nothing here, -5:Negative, 10:, :Name"))
	})
}
