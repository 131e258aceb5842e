package compat

// DefaultAliases maps the retired flat pool_* method names onto the
// namespaced methods the facility serves today. The alias layer rewrites
// envelopes in flight so stale SDKs keep working during the sunset.
var DefaultAliases = map[string]string{
	"pool_deposit":            "apx_deposit",
	"pool_requestRedemption":  "apx_requestRedemption",
	"pool_processRedemptions": "apx_processRedemptions",
	"pool_accrueFees":         "apx_accrueFees",
	"pool_getStats":           "apx_getStats",
	"pool_getBreakdown":       "apx_getBreakdown",
	"pool_pendingRedemptions": "apx_pendingRedemptions",
	"pool_getRedemption":      "apx_getRedemption",

	"pool_approveBorrower": "credit_approveBorrower",
	"pool_revokeBorrower":  "credit_revokeBorrower",
	"pool_createLoan":      "credit_createLoan",
	"pool_repayLoan":       "credit_repayLoan",
	"pool_getLoan":         "credit_getLoan",
	"pool_activeLoans":     "credit_activeLoans",
	"pool_creditConfig":    "credit_config",

	"pool_stake":             "staking_stake",
	"pool_unstake":           "staking_unstake",
	"pool_distributeRewards": "staking_distribute",
	"pool_claimRewards":      "staking_claim",
	"pool_stakingPosition":   "staking_position",
}
