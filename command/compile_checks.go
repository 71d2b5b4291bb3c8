package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[RunVaultCommandMessage] = (*RunVaultCommand)(nil)
	_ gocmd.Commander[ReplayDeliveryMessage]  = (*ReplayDeliveryCommand)(nil)
	_ gocmd.Commander[SweepClaimsMessage]     = (*SweepClaimsCommand)(nil)
)
