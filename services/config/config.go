// Package config defines the backtest configuration. A Config is loaded
// once, validated, and then passed around by value: engines never share a
// mutable configuration, so independent runs (e.g. a parameter sweep) can
// execute in parallel without interference.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Capital holds account-level capital and risk budget settings.
type Capital struct {
	Initial           float64 `yaml:"initial"`
	RiskPerTrade      float64 `yaml:"risk_per_trade"`
	MaxRiskPercentage float64 `yaml:"max_risk_percentage"`
	MinRequired       float64 `yaml:"min_required"`
}

// TradingHours is a minute-of-day window. Start > End means the window
// wraps past midnight (e.g. 23:00 through 21:00 the next day).
type TradingHours struct {
	StartHour   int `yaml:"start_hour"`
	StartMinute int `yaml:"start_minute"`
	EndHour     int `yaml:"end_hour"`
	EndMinute   int `yaml:"end_minute"`
}

// StopLimits bounds the permitted stop distance in price points.
type StopLimits struct {
	MinDistance float64 `yaml:"min_stop_distance"`
	MaxDistance float64 `yaml:"max_stop_distance"`
}

// Instrument holds the static per-instrument CFD parameters.
type Instrument struct {
	Name              string       `yaml:"name"`
	UnitValue         float64      `yaml:"unit_value"` // currency per price point
	TickSize          float64      `yaml:"tick_size"`
	MinPositionSize   float64      `yaml:"min_position_size"`
	MarginRequirement float64      `yaml:"margin_requirement"`
	Spread            float64      `yaml:"spread"` // fixed, in price points
	TradingHours      TradingHours `yaml:"trading_hours"`
	StopLimits        StopLimits   `yaml:"stop_limits"`
}

// Risk holds position-lifecycle risk management settings.
type Risk struct {
	TrailingStopPercent  float64 `yaml:"trailing_stop_percent"`
	UseTrailingStop      bool    `yaml:"use_trailing_stop"`
	UseFixedTakeProfit   bool    `yaml:"use_fixed_take_profit"`
	TakeProfitRatio      float64 `yaml:"take_profit_ratio"`
	MaxTradesPerDay      int     `yaml:"max_trades_per_day"`
	CooldownMinutes      int     `yaml:"cooldown_minutes"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
}

// Filters holds the entry-filter toggles and thresholds.
type Filters struct {
	UseVolume       bool `yaml:"use_volume_filter"`
	UseRSI          bool `yaml:"use_rsi_filter"`
	UseATR          bool `yaml:"use_atr_filter"`
	UseSpread       bool `yaml:"use_spread_filter"`
	UseTradingHours bool `yaml:"use_trading_hours_filter"`
	UseStopDistance bool `yaml:"use_stop_distance_filter"`

	VolumeThreshold     float64 `yaml:"volume_threshold"`
	ATRThreshold        float64 `yaml:"atr_threshold"`
	RSIOversold         float64 `yaml:"rsi_oversold"`
	RSIOverbought       float64 `yaml:"rsi_overbought"`
	MaxSpreadMultiplier float64 `yaml:"max_spread_multiplier"`
}

// Indicators holds the lookback windows for all computed indicators.
type Indicators struct {
	TenkanPeriods    int `yaml:"tenkan_periods"`
	KijunPeriods     int `yaml:"kijun_periods"`
	SenkouPeriods    int `yaml:"senkou_periods"`
	ATRPeriods       int `yaml:"atr_periods"`
	VolumeSMAPeriods int `yaml:"volume_sma_periods"`
	RSIPeriods       int `yaml:"rsi_periods"`
}

// Config is the complete backtest configuration.
type Config struct {
	Capital    Capital    `yaml:"capital"`
	Risk       Risk       `yaml:"risk"`
	Filters    Filters    `yaml:"filters"`
	Indicators Indicators `yaml:"indicators"`

	// ActiveInstrument selects from Instruments; the resolved parameters
	// are placed in Instrument after Load.
	ActiveInstrument string                `yaml:"active_instrument"`
	Instruments      map[string]Instrument `yaml:"instruments"`
	Instrument       Instrument            `yaml:"-"`
}

// Default returns the UK100 baseline configuration.
func Default() Config {
	return Config{
		Capital: Capital{
			Initial:           1000,
			RiskPerTrade:      10,
			MaxRiskPercentage: 0.02,
			MinRequired:       500,
		},
		Risk: Risk{
			TrailingStopPercent:  0.02,
			UseTrailingStop:      true,
			UseFixedTakeProfit:   false,
			TakeProfitRatio:      2.0,
			MaxTradesPerDay:      3,
			CooldownMinutes:      60,
			MaxConsecutiveLosses: 5,
		},
		Filters: Filters{
			UseVolume:           true,
			UseRSI:              false, // off for indices
			UseATR:              true,
			UseSpread:           true,
			UseTradingHours:     true,
			UseStopDistance:     true,
			VolumeThreshold:     1.3,
			ATRThreshold:        1.1,
			RSIOversold:         30,
			RSIOverbought:       70,
			MaxSpreadMultiplier: 3.0,
		},
		Indicators: Indicators{
			TenkanPeriods:    9,
			KijunPeriods:     26,
			SenkouPeriods:    52,
			ATRPeriods:       14,
			VolumeSMAPeriods: 20,
			RSIPeriods:       14,
		},
		ActiveInstrument: "UK100",
		Instruments:      BuiltinInstruments(),
	}
}

// BuiltinInstruments returns the instrument presets shipped with the engine.
func BuiltinInstruments() map[string]Instrument {
	return map[string]Instrument{
		"UK100": {
			Name:              "UK100 (FTSE 100)",
			UnitValue:         0.50,
			TickSize:          0.5,
			MinPositionSize:   0.5,
			MarginRequirement: 0.05,
			Spread:            1.0,
			TradingHours:      TradingHours{StartHour: 8, EndHour: 16, EndMinute: 30},
			StopLimits:        StopLimits{MinDistance: 15, MaxDistance: 150},
		},
		"WallStreet30": {
			Name:              "WallStreet30 (Dow Jones)",
			UnitValue:         0.50,
			TickSize:          1.0,
			MinPositionSize:   0.5,
			MarginRequirement: 0.05,
			Spread:            2.0,
			TradingHours:      TradingHours{EndHour: 23, EndMinute: 59},
			StopLimits:        StopLimits{MinDistance: 25, MaxDistance: 300},
		},
		"Germany40": {
			Name:              "Germany40 (DAX)",
			UnitValue:         0.50,
			TickSize:          0.5,
			MinPositionSize:   0.5,
			MarginRequirement: 0.05,
			Spread:            1.5,
			TradingHours:      TradingHours{StartHour: 8, EndHour: 22},
			StopLimits:        StopLimits{MinDistance: 20, MaxDistance: 200},
		},
	}
}

// Load reads a YAML config file over the defaults and validates the result.
// A missing file yields the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.Resolve(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Resolve fills Instrument from the active instrument name.
func (c *Config) Resolve() error {
	if len(c.Instruments) == 0 {
		c.Instruments = BuiltinInstruments()
	}
	inst, ok := c.Instruments[c.ActiveInstrument]
	if !ok {
		return fmt.Errorf("instrument %q is not defined", c.ActiveInstrument)
	}
	c.Instrument = inst
	return nil
}

// ValidationError aggregates all configuration consistency problems found
// at startup; none of these are re-checked per bar.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	var problems []string

	if c.Capital.Initial <= 0 {
		problems = append(problems, "initial capital must be positive")
	}
	if c.Capital.RiskPerTrade <= 0 {
		problems = append(problems, "risk_per_trade must be positive")
	}
	if c.Capital.MaxRiskPercentage > 0 && c.Capital.RiskPerTrade > c.Capital.Initial*c.Capital.MaxRiskPercentage {
		problems = append(problems, fmt.Sprintf(
			"risk_per_trade (%.2f) exceeds %.1f%% of initial capital",
			c.Capital.RiskPerTrade, c.Capital.MaxRiskPercentage*100))
	}

	inst := c.Instrument
	if inst.UnitValue <= 0 {
		problems = append(problems, "instrument unit_value must be positive")
	}
	if inst.MinPositionSize <= 0 {
		problems = append(problems, "instrument min_position_size must be positive")
	}
	if inst.Spread < 0 {
		problems = append(problems, "instrument spread must not be negative")
	}
	if inst.StopLimits.MinDistance >= inst.StopLimits.MaxDistance {
		problems = append(problems, fmt.Sprintf(
			"min_stop_distance (%.1f) must be less than max_stop_distance (%.1f)",
			inst.StopLimits.MinDistance, inst.StopLimits.MaxDistance))
	}
	for _, h := range []struct {
		name string
		v    int
		max  int
	}{
		{"start_hour", inst.TradingHours.StartHour, 23},
		{"end_hour", inst.TradingHours.EndHour, 23},
		{"start_minute", inst.TradingHours.StartMinute, 59},
		{"end_minute", inst.TradingHours.EndMinute, 59},
	} {
		if h.v < 0 || h.v > h.max {
			problems = append(problems, fmt.Sprintf("trading_hours %s out of range: %d", h.name, h.v))
		}
	}

	ind := c.Indicators
	for _, w := range []struct {
		name string
		v    int
	}{
		{"tenkan_periods", ind.TenkanPeriods},
		{"kijun_periods", ind.KijunPeriods},
		{"senkou_periods", ind.SenkouPeriods},
		{"atr_periods", ind.ATRPeriods},
		{"volume_sma_periods", ind.VolumeSMAPeriods},
		{"rsi_periods", ind.RSIPeriods},
	} {
		if w.v <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive", w.name))
		}
	}
	if ind.TenkanPeriods >= ind.KijunPeriods {
		problems = append(problems, "tenkan_periods must be less than kijun_periods")
	}

	if c.Risk.UseTrailingStop && (c.Risk.TrailingStopPercent <= 0 || c.Risk.TrailingStopPercent >= 1) {
		problems = append(problems, fmt.Sprintf(
			"trailing_stop_percent out of range (0, 1): %.4f", c.Risk.TrailingStopPercent))
	}
	if c.Risk.MaxTradesPerDay <= 0 {
		problems = append(problems, "max_trades_per_day must be positive")
	}
	if c.Risk.MaxConsecutiveLosses <= 0 {
		problems = append(problems, "max_consecutive_losses must be positive")
	}
	if c.Filters.UseSpread && c.Filters.MaxSpreadMultiplier < 1 {
		problems = append(problems, "max_spread_multiplier must be at least 1")
	}
	if c.Filters.UseRSI && c.Filters.RSIOversold >= c.Filters.RSIOverbought {
		problems = append(problems, "rsi_oversold must be less than rsi_overbought")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
