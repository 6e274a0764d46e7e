package dns

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOverTimeID(t *testing.T) {
	require.Equal(t, 0, OverTimeID(0))
	require.Equal(t, 0, OverTimeID(299))
	require.Equal(t, 1, OverTimeID(300))
	require.Equal(t, 5000000, OverTimeID(1500000000))
}

func TestInterning(t *testing.T) {
	m := NewMemoryLog()
	m.Lock()
	defer m.Unlock()

	a := m.FindDomainID("example.com")
	b := m.FindDomainID("example.org")
	require.NotEqual(t, a, b)
	require.Equal(t, a, m.FindDomainID("example.com"))

	c1 := m.FindClientID("10.0.0.1")
	require.Equal(t, c1, m.FindClientID("10.0.0.1"))

	f1 := m.FindForwardID("1.1.1.1:53")
	require.Equal(t, f1, m.FindForwardID("1.1.1.1:53"))
}

func TestCountersFollowStatus(t *testing.T) {
	m := NewMemoryLog()
	m.Lock()

	d := m.FindDomainID("ads.test")
	c := m.FindClientID("10.0.0.1")

	i1 := m.AppendQuery(600, TypeA, d, c, PrivacyShowAll)
	i2 := m.AppendQuery(601, TypeAAAA, d, c, PrivacyShowAll)
	i3 := m.AppendQuery(602, TypeA, d, c, PrivacyShowAll)
	m.Unlock()

	cs := m.CountersSnapshot()
	require.Equal(t, 3, cs.Queries)
	require.Equal(t, 3, cs.Unknown)
	require.Equal(t, 2, cs.QueryType[TypeA-1])
	require.Equal(t, 1, cs.QueryType[TypeAAAA-1])

	m.Lock()
	m.SetStatus(i1, StatusGravity)
	m.SetForward(i2, m.FindForwardID("1.1.1.1:53"))
	m.SetStatus(i2, StatusForwarded)
	m.SetStatus(i3, StatusCache)
	m.Unlock()

	cs = m.CountersSnapshot()
	require.Equal(t, 0, cs.Unknown)
	require.Equal(t, 1, cs.Blocked)
	require.Equal(t, 1, cs.Forwarded)
	require.Equal(t, 1, cs.Cached)

	// 重复设置同一状态不会重复计数
	m.Lock()
	m.SetStatus(i1, StatusGravity)
	m.Unlock()
	require.Equal(t, 1, m.CountersSnapshot().Blocked)
}

func TestClientActivity(t *testing.T) {
	m := NewMemoryLog()
	m.Lock()
	d := m.FindDomainID("a.test")
	c := m.FindClientID("192.168.1.5")
	m.AppendQuery(1000, TypeA, d, c, PrivacyShowAll)
	m.AppendQuery(2000, TypeA, d, c, PrivacyShowAll)
	m.Unlock()

	count, last := m.ClientActivity("192.168.1.5")
	require.Equal(t, 2, count)
	require.EqualValues(t, 2000, last)

	count, last = m.ClientActivity("unknown")
	require.Zero(t, count)
	require.Zero(t, last)
}

func TestBlockedStatusClassification(t *testing.T) {
	blocked := []QueryStatus{
		StatusGravity, StatusWildcard, StatusBlacklist,
		StatusExternalBlockedIP, StatusExternalBlockedNull, StatusExternalBlockedNXRA,
	}
	for _, s := range blocked {
		require.True(t, s.Blocked(), s.String())
	}
	for _, s := range []QueryStatus{StatusUnknown, StatusForwarded, StatusCache} {
		require.False(t, s.Blocked(), s.String())
	}
}

func TestOverTimeSnapshotBuckets(t *testing.T) {
	m := NewMemoryLog()
	m.Lock()
	d := m.FindDomainID("a.test")
	c := m.FindClientID("10.0.0.1")
	m.AppendQuery(0, TypeA, d, c, PrivacyShowAll)
	m.AppendQuery(299, TypeA, d, c, PrivacyShowAll)
	m.AppendQuery(300, TypeA, d, c, PrivacyShowAll)
	m.Unlock()

	buckets := m.OverTimeSnapshot()
	require.Len(t, buckets, 2)
	require.Equal(t, 2, buckets[0].Total)
	require.Equal(t, 1, buckets[300].Total)
}
