package command

import (
	"fmt"
	"strings"
)

const (
	TypeRunVaultCommand = "vaultbridge.command.run"
	TypeReplayDelivery  = "vaultbridge.command.replay"
	TypeSweepClaims     = "vaultbridge.command.sweep_claims"
)

// RunVaultCommandMessage submits one vault CLI command through the async
// queue and waits for its result.
type RunVaultCommandMessage struct {
	Command    string
	Attachment []byte
}

func (RunVaultCommandMessage) Type() string { return TypeRunVaultCommand }

func (m RunVaultCommandMessage) Validate() error {
	if strings.TrimSpace(m.Command) == "" {
		return fmt.Errorf("command: vault command is required")
	}
	return nil
}

// ReplayDeliveryMessage re-runs a webhook delivery through the full
// ingestion pipeline. The duplicate claim makes replays safe: an already
// processed event resolves to its existing ticket.
type ReplayDeliveryMessage struct {
	Headers map[string]string
	Body    []byte
}

func (ReplayDeliveryMessage) Type() string { return TypeReplayDelivery }

func (m ReplayDeliveryMessage) Validate() error {
	if len(m.Body) == 0 {
		return fmt.Errorf("command: delivery body is required")
	}
	return nil
}

// SweepClaimsMessage triggers one janitor pass over stale processing
// claims.
type SweepClaimsMessage struct{}

func (SweepClaimsMessage) Type() string { return TypeSweepClaims }

func (SweepClaimsMessage) Validate() error { return nil }
