package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolver(t *testing.T) {
	naming := Naming{Prefix: "<pppoe-", Suffix: ">"}
	resolver := NewResolver(naming, []Interface{
		{Name: "ether1", RxBytes: 1},
		{Name: "<pppoe-alice>", RxBytes: 100, TxBytes: 50},
		{Name: "alice", RxBytes: 7},
		{Name: "bob", RxBytes: 20, TxBytes: 2},
		{Name: "<pppoe-carol>", RxBytes: 30},
		{Name: "<pppoe-carol>", RxBytes: 31},
	})

	tests := []struct {
		subscriber string
		wantOK     bool
		wantRx     uint64
	}{
		{subscriber: "alice", wantOK: true, wantRx: 100}, // conventional name wins over exact
		{subscriber: "bob", wantOK: true, wantRx: 20},
		{subscriber: "carol", wantOK: true, wantRx: 30}, // first duplicate wins
		{subscriber: "dave", wantOK: false},
		{subscriber: "pppoe-alice", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.subscriber, func(t *testing.T) {
			iface, ok := resolver.Resolve(tt.subscriber)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantRx, iface.RxBytes)
		})
	}
}

func TestNamingInterfaceName(t *testing.T) {
	assert.Equal(t, "<pppoe-alice>", Naming{Prefix: "<pppoe-", Suffix: ">"}.InterfaceName("alice"))
	assert.Equal(t, "pppoe-alice", Naming{Prefix: "pppoe-"}.InterfaceName("alice"))
	assert.Equal(t, "alice", Naming{}.InterfaceName("alice"))
}

func TestPeriodKey(t *testing.T) {
	sydney := time.FixedZone("AEDT", 11*60*60)
	newYork := time.FixedZone("EST", -5*60*60)
	instant := time.Date(2024, time.January, 31, 20, 30, 0, 0, time.UTC)

	assert.Equal(t, "2024-01", PeriodKey(instant, time.UTC))
	assert.Equal(t, "2024-02", PeriodKey(instant, sydney))
	assert.Equal(t, "2024-01", PeriodKey(instant, newYork))
	assert.Equal(t, "2025-01", PeriodKey(time.Date(2024, time.December, 31, 23, 0, 0, 0, newYork), time.UTC))
}

func TestTestClockAdvance(t *testing.T) {
	clock := &TestClock{CurrentTime: time.Date(2024, time.March, 31, 23, 59, 0, 0, time.UTC)}
	clock.Advance(2 * time.Minute)
	assert.Equal(t, "2024-04", PeriodKey(clock.Now(), time.UTC))
}
