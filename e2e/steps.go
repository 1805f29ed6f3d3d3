package e2e

import (
	"github.com/cucumber/godog"

	"soulid/e2e/steps/common"
	"soulid/e2e/steps/identity"
)

// RegisterSteps registers every step package against tc.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Callers, status and field assertions
	common.RegisterSteps(ctx, tc)

	// Minting, naming, burning and lookups
	identity.RegisterSteps(ctx, tc)
}
