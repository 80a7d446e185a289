package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategyConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		st      StrategyType
		cfg     StrategyConfig
		wantErr bool
	}{
		{
			name: "valid profit target",
			st:   StrategyProfitTarget,
			cfg:  StrategyConfig{ProfitOffsetType: OffsetDollar, ProfitOffset: 0.5},
		},
		{
			name:    "profit target zero offset rejected",
			st:      StrategyProfitTarget,
			cfg:     StrategyConfig{ProfitOffsetType: OffsetDollar, ProfitOffset: 0},
			wantErr: true,
		},
		{
			name:    "profit target negative offset rejected",
			st:      StrategyProfitTarget,
			cfg:     StrategyConfig{ProfitOffsetType: OffsetPercent, ProfitOffset: -1},
			wantErr: true,
		},
		{
			name:    "unknown offset type rejected",
			st:      StrategyProfitTarget,
			cfg:     StrategyConfig{ProfitOffsetType: "ticks", ProfitOffset: 1},
			wantErr: true,
		},
		{
			name: "valid bracket",
			st:   StrategyBracket,
			cfg: StrategyConfig{
				TakeProfitType: OffsetDollar, TakeProfitOffset: 0.5,
				StopLossType: OffsetDollar, StopLossOffset: 0.25,
			},
		},
		{
			name: "bracket missing stop loss rejected",
			st:   StrategyBracket,
			cfg: StrategyConfig{
				TakeProfitType: OffsetDollar, TakeProfitOffset: 0.5,
			},
			wantErr: true,
		},
		{
			name: "valid confirmation stop",
			st:   StrategyConfirmationStop,
			cfg: StrategyConfig{
				TriggerType: OffsetPercent, TriggerOffset: 2,
				StopType: OffsetDollar, StopOffset: 0.25,
			},
		},
		{
			name: "valid trailing stop",
			st:   StrategyTrailingStop,
			cfg: StrategyConfig{
				TriggerType: OffsetDollar, TriggerOffset: 0.5,
				TrailType: OffsetPercent, TrailAmount: 1,
			},
		},
		{
			name: "negative fill timeout rejected",
			st:   StrategyProfitTarget,
			cfg: StrategyConfig{
				ProfitOffsetType: OffsetDollar, ProfitOffset: 0.5,
				FillTimeout: -time.Second,
			},
			wantErr: true,
		},
		{
			name:    "unknown strategy type rejected",
			st:      StrategyType("oco"),
			cfg:     StrategyConfig{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate(tt.st)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestStrategyConfigValidateAppliesDefaults(t *testing.T) {
	cfg := StrategyConfig{TriggerType: OffsetDollar, TriggerOffset: 1, StopType: OffsetDollar, StopOffset: 0.5}
	require.NoError(t, cfg.Validate(StrategyConfirmationStop))
	assert.Equal(t, DefaultFillTimeout, cfg.FillTimeout)
	assert.Equal(t, DefaultTriggerTimeout, cfg.TriggerTimeout)

	cfg = StrategyConfig{ProfitOffsetType: OffsetDollar, ProfitOffset: 1, FillTimeout: 30 * time.Second}
	require.NoError(t, cfg.Validate(StrategyProfitTarget))
	assert.Equal(t, 30*time.Second, cfg.FillTimeout, "explicit timeout must survive validation")
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusWaitingFill.CanTransitionTo(StatusWaitingTrigger))
	assert.True(t, StatusWaitingFill.CanTransitionTo(StatusComplete))
	assert.True(t, StatusWaitingFill.CanTransitionTo(StatusTimeout))
	assert.True(t, StatusWaitingFill.CanTransitionTo(StatusError))
	assert.True(t, StatusWaitingTrigger.CanTransitionTo(StatusComplete))
	assert.True(t, StatusWaitingTrigger.CanTransitionTo(StatusTimeout))
	assert.True(t, StatusWaitingTrigger.CanTransitionTo(StatusError))

	// No path backwards, no path out of a terminal state.
	assert.False(t, StatusWaitingTrigger.CanTransitionTo(StatusWaitingFill))
	for _, terminal := range []StrategyStatus{StatusComplete, StatusTimeout, StatusError} {
		assert.True(t, terminal.IsTerminal())
		for _, next := range []StrategyStatus{StatusWaitingFill, StatusWaitingTrigger, StatusComplete, StatusTimeout, StatusError} {
			assert.False(t, terminal.CanTransitionTo(next), "%s -> %s must be rejected", terminal, next)
		}
	}
}

func TestFillAndTriggerPriceSetOnce(t *testing.T) {
	rec := NewStrategyRecord("ord-1", "AAPL", Buy, 100, StrategyConfirmationStop, StrategyConfig{})
	require.Nil(t, rec.FillPrice)

	rec.SetFillPrice(65.00)
	require.NotNil(t, rec.FillPrice)
	assert.Equal(t, 65.00, *rec.FillPrice)

	rec.SetFillPrice(66.00)
	assert.Equal(t, 65.00, *rec.FillPrice, "fill price is set at most once")

	rec.SetTriggerPrice(65.50)
	rec.SetTriggerPrice(70.00)
	assert.Equal(t, 65.50, *rec.TriggerPrice, "trigger price is immutable once computed")
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
}
