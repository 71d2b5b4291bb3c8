package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-vault-bridge/webhook"
)

// VaultExecutor is the async vault command surface.
type VaultExecutor interface {
	Execute(ctx context.Context, command string, attachment []byte) (map[string]any, error)
}

// DeliveryProcessor is the webhook ingestion surface.
type DeliveryProcessor interface {
	Process(ctx context.Context, delivery webhook.Delivery) (webhook.Result, error)
}

// ClaimSweeper releases stale processing claims.
type ClaimSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type RunVaultCommand struct {
	executor VaultExecutor
}

func NewRunVaultCommand(executor VaultExecutor) *RunVaultCommand {
	return &RunVaultCommand{executor: executor}
}

func (c *RunVaultCommand) Execute(ctx context.Context, msg RunVaultCommandMessage) error {
	if c == nil || c.executor == nil {
		return commandDependencyError("command: vault executor is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.executor.Execute(ctx, msg.Command, msg.Attachment)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ReplayDeliveryCommand struct {
	processor DeliveryProcessor
}

func NewReplayDeliveryCommand(processor DeliveryProcessor) *ReplayDeliveryCommand {
	return &ReplayDeliveryCommand{processor: processor}
}

func (c *ReplayDeliveryCommand) Execute(ctx context.Context, msg ReplayDeliveryMessage) error {
	if c == nil || c.processor == nil {
		return commandDependencyError("command: delivery processor is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.processor.Process(ctx, webhook.Delivery{
		Headers: msg.Headers,
		Body:    msg.Body,
	})
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SweepClaimsCommand struct {
	sweeper ClaimSweeper
}

func NewSweepClaimsCommand(sweeper ClaimSweeper) *SweepClaimsCommand {
	return &SweepClaimsCommand{sweeper: sweeper}
}

func (c *SweepClaimsCommand) Execute(ctx context.Context, msg SweepClaimsMessage) error {
	if c == nil || c.sweeper == nil {
		return commandDependencyError("command: claim sweeper is required")
	}
	released, err := c.sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, released)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
