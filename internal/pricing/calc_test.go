package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rasesh6/alpaca-trading/internal/domain"
)

func TestTarget(t *testing.T) {
	tests := []struct {
		name       string
		reference  float64
		side       domain.OrderSide
		offsetType domain.OffsetType
		offset     float64
		dir        Direction
		want       float64
	}{
		{
			name:       "long profit target dollar offset",
			reference:  65.00,
			side:       domain.Buy,
			offsetType: domain.OffsetDollar,
			offset:     0.50,
			dir:        WithPosition,
			want:       65.50,
		},
		{
			name:       "short trigger percent offset",
			reference:  20.00,
			side:       domain.Sell,
			offsetType: domain.OffsetPercent,
			offset:     2,
			dir:        WithPosition,
			want:       19.60,
		},
		{
			name:       "long stop dollar offset moves down",
			reference:  100.00,
			side:       domain.Buy,
			offsetType: domain.OffsetDollar,
			offset:     0.25,
			dir:        AgainstPosition,
			want:       99.75,
		},
		{
			name:       "short stop percent offset moves up",
			reference:  50.00,
			side:       domain.Sell,
			offsetType: domain.OffsetPercent,
			offset:     1,
			dir:        AgainstPosition,
			want:       50.50,
		},
		{
			name:       "rounds to cent tick",
			reference:  10.00,
			side:       domain.Buy,
			offsetType: domain.OffsetPercent,
			offset:     0.333,
			dir:        WithPosition,
			want:       10.03,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Target(tt.reference, tt.side, tt.offsetType, tt.offset, tt.dir, DefaultTick)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

// An offset smaller than the tick must still move the price by a full tick;
// rounding may never return the reference price itself.
func TestTarget_SubTickOffsetStillMoves(t *testing.T) {
	tests := []struct {
		name       string
		reference  float64
		side       domain.OrderSide
		offsetType domain.OffsetType
		offset     float64
		dir        Direction
		want       float64
	}{
		{
			name:       "tiny percent of a low price rounds up to one tick",
			reference:  1.00,
			side:       domain.Buy,
			offsetType: domain.OffsetPercent,
			offset:     0.1,
			dir:        WithPosition,
			want:       1.01,
		},
		{
			name:       "short target still undercuts the reference",
			reference:  1.00,
			side:       domain.Sell,
			offsetType: domain.OffsetPercent,
			offset:     0.1,
			dir:        WithPosition,
			want:       0.99,
		},
		{
			name:       "sub-penny stock stop keeps a tick of clearance",
			reference:  0.05,
			side:       domain.Sell,
			offsetType: domain.OffsetPercent,
			offset:     0.1,
			dir:        AgainstPosition,
			want:       0.06,
		},
		{
			name:       "sub-tick dollar offset rounds up",
			reference:  1.00,
			side:       domain.Buy,
			offsetType: domain.OffsetDollar,
			offset:     0.004,
			dir:        WithPosition,
			want:       1.01,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Target(tt.reference, tt.side, tt.offsetType, tt.offset, tt.dir, DefaultTick)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

// A profit target must always improve on the fill price in the direction of
// the position, and a stop must always sit on the losing side, for every
// side/offset-type combination.
func TestTargetDirectionProperties(t *testing.T) {
	fills := []float64{0.05, 1.00, 65.00, 412.37, 9999.99}
	offsets := []struct {
		typ   domain.OffsetType
		value float64
	}{
		{domain.OffsetDollar, 0.01},
		{domain.OffsetDollar, 2.50},
		{domain.OffsetPercent, 0.1},
		{domain.OffsetPercent, 5},
	}

	for _, fill := range fills {
		for _, off := range offsets {
			longTarget := Target(fill, domain.Buy, off.typ, off.value, WithPosition, DefaultTick)
			assert.Greater(t, longTarget, fill, "long profit target must exceed fill %v (%v %v)", fill, off.typ, off.value)

			shortTarget := Target(fill, domain.Sell, off.typ, off.value, WithPosition, DefaultTick)
			assert.Less(t, shortTarget, fill, "short profit target must undercut fill %v (%v %v)", fill, off.typ, off.value)

			longStop := Target(fill, domain.Buy, off.typ, off.value, AgainstPosition, DefaultTick)
			assert.Less(t, longStop, fill, "long stop must sit below fill %v (%v %v)", fill, off.typ, off.value)

			shortStop := Target(fill, domain.Sell, off.typ, off.value, AgainstPosition, DefaultTick)
			assert.Greater(t, shortStop, fill, "short stop must sit above fill %v (%v %v)", fill, off.typ, off.value)
		}
	}
}

func TestStopLimit(t *testing.T) {
	tests := []struct {
		name      string
		stop      float64
		entrySide domain.OrderSide
		want      float64
	}{
		{name: "long exit limit one tick below stop", stop: 99.75, entrySide: domain.Buy, want: 99.74},
		{name: "short exit limit one tick above stop", stop: 19.55, entrySide: domain.Sell, want: 19.56},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StopLimit(tt.stop, tt.entrySide, DefaultTick)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}
