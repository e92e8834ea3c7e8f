package scheduler

import (
	"context"
	"time"

	"github.com/PiotrGNN/kraken/internal/environment"
)

const (
	CheckEnvironmentSwitch  = "check_environment_switch"
	DefaultEnvCheckInterval = 300 * time.Second
)

// EnvRouter is the router surface the environment check drives.
type EnvRouter interface {
	UpdatePerformanceMetrics(ctx context.Context)
	HandleEnvChange(ctx context.Context, target environment.Environment) bool
}

// PromotionGate decides whether testnet has earned mainnet.
type PromotionGate interface {
	ShouldSwitchToMainnet() bool
}

// EnvSwitchTask refreshes performance figures and promotes to mainnet
// once the gate passes.
func EnvSwitchTask(r EnvRouter, gate PromotionGate) TaskFunc {
	return func(ctx context.Context) error {
		r.UpdatePerformanceMetrics(ctx)
		if !gate.ShouldSwitchToMainnet() {
			return nil
		}
		log.Info("promotion criteria met, switching to mainnet")
		if !r.HandleEnvChange(ctx, environment.Mainnet) {
			log.Warn("switch to mainnet did not complete")
		}
		return nil
	}
}
