package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/wardenhq/warden/internal/incident"
)

// CommandType names an operator- or app-issued mutation.
type CommandType string

const (
	CmdDisarm          CommandType = "disarm"
	CmdSilence         CommandType = "silence"
	CmdAcknowledge     CommandType = "acknowledge"
	CmdResolve         CommandType = "resolve"
	CmdClose           CommandType = "close"
	CmdDispatchRequest CommandType = "dispatch_request"
	CmdDispatchConfirm CommandType = "dispatch_confirm"
	CmdDispatchCancel  CommandType = "dispatch_cancel"
)

// Command is an external mutation request. Commands are part of the
// event log: they are persisted with the sequence number they consumed,
// so a replay can interleave them with signals in the original order.
type Command struct {
	// ID is assigned by the transport at ingest, typically a UUID, and
	// makes redelivered commands idempotent.
	ID   string
	Type CommandType

	// HomeID scopes disarm; the rest target a single incident.
	HomeID     string
	IncidentID string

	// Authenticated marks a verified requester. Resolving a triggered
	// incident requires it.
	Authenticated bool

	// Seq and AtMS are stamped by the core when the command is applied.
	Seq  int64
	AtMS int64
}

// HandleCommand applies one command at the current logical time.
// Commands never advance the clock; only the signal stream does.
func (c *Core) HandleCommand(ctx context.Context, cmd *Command) error {
	cmd.Seq = c.clock.Next()
	cmd.AtMS = c.clock.NowMS()

	stored, err := c.sink.PersistCommand(ctx, cmd)
	if err != nil {
		return fmt.Errorf("persist command %s: %w", cmd.ID, err)
	}
	if !stored {
		// Redelivery of an already-applied command.
		return nil
	}

	if cmd.Type == CmdDisarm {
		return c.disarmHome(ctx, cmd)
	}

	inc, ok := c.incidents[cmd.IncidentID]
	if !ok {
		c.logger.Warn("command for unknown incident",
			"command", cmd.ID, "type", cmd.Type, "incident", cmd.IncidentID)
		return nil
	}

	var eff incident.Effect
	switch cmd.Type {
	case CmdSilence:
		eff, err = c.machine.Silence(inc, cmd.AtMS)
	case CmdAcknowledge:
		eff, err = c.machine.Acknowledge(inc, cmd.AtMS)
	case CmdResolve:
		eff, err = c.machine.Resolve(inc, cmd.Authenticated, cmd.AtMS)
	case CmdClose:
		eff, err = c.machine.Close(inc, cmd.AtMS)
	case CmdDispatchRequest:
		eff, err = c.machine.RequestDispatch(inc, cmd.AtMS)
	case CmdDispatchConfirm:
		eff, err = c.machine.ConfirmDispatch(inc, cmd.AtMS)
	case CmdDispatchCancel:
		eff, err = c.machine.CancelDispatch(inc, cmd.AtMS)
	default:
		c.logger.Warn("unknown command type", "command", cmd.ID, "type", cmd.Type)
		return nil
	}
	if err != nil {
		if refusal(err) {
			c.logger.Warn("command refused",
				"command", cmd.ID, "type", cmd.Type, "incident", inc.ID, "reason", err)
			return nil
		}
		return fmt.Errorf("apply command %s: %w", cmd.ID, err)
	}
	return c.commit(ctx, inc, eff, cmd.AtMS)
}

// disarmHome stands down every open incident in the home that the
// machine allows; triggered incidents refuse and stay up.
func (c *Core) disarmHome(ctx context.Context, cmd *Command) error {
	for _, inc := range c.OpenIncidents(cmd.HomeID) {
		eff, err := c.machine.Disarm(inc, cmd.AtMS)
		if err != nil {
			if refusal(err) {
				c.logger.Warn("disarm refused",
					"command", cmd.ID, "incident", inc.ID, "reason", err)
				continue
			}
			return fmt.Errorf("disarm incident %s: %w", inc.ID, err)
		}
		if err := c.commit(ctx, inc, eff, cmd.AtMS); err != nil {
			return err
		}
	}
	return nil
}

// refusal classifies machine errors that reject the request without
// damaging state: invalid combos and policy refusals.
func refusal(err error) bool {
	var combo *incident.InvalidComboError
	if errors.As(err, &combo) {
		return true
	}
	return errors.Is(err, incident.ErrRefused)
}
