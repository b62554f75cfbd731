package engine

import (
	"context"
	"fmt"
	"time"
)

// CommandKind enumerates the control operations the API can enqueue.
type CommandKind string

const (
	CmdPause       CommandKind = "pause"
	CmdResume      CommandKind = "resume"
	CmdCloseSymbol CommandKind = "close_symbol"
	CmdCloseAll    CommandKind = "close_all"
	CmdKillSwitch  CommandKind = "kill_switch"
	CmdSetParam    CommandKind = "set_param"
)

// Command is one queued control operation. Reply receives exactly one
// CommandResult.
type Command struct {
	Kind   CommandKind
	Symbol string
	Param  string
	Value  float64
	Reason string
	Engage bool
	Reply  chan CommandResult
}

// CommandResult reports a command's outcome to the caller.
type CommandResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Enqueue submits a command and waits for its result. The queue is small
// on purpose; a full queue or a slow engine fails the call rather than
// blocking the API handler.
func (e *Engine) Enqueue(cmd *Command) CommandResult {
	if cmd.Reply == nil {
		cmd.Reply = make(chan CommandResult, 1)
	}
	select {
	case e.commands <- cmd:
	case <-time.After(2 * time.Second):
		return CommandResult{OK: false, Message: "command queue full"}
	}
	select {
	case res := <-cmd.Reply:
		return res
	case <-time.After(10 * time.Second):
		return CommandResult{OK: false, Message: "command timed out"}
	}
}

func (e *Engine) handleCommand(ctx context.Context, cmd *Command) {
	res := e.apply(ctx, cmd)
	if cmd.Reply != nil {
		cmd.Reply <- res
	}
	e.d.Bus.EmitEngine("command", map[string]interface{}{
		"kind":    string(cmd.Kind),
		"symbol":  cmd.Symbol,
		"ok":      res.OK,
		"message": res.Message,
	})
}

func (e *Engine) apply(ctx context.Context, cmd *Command) CommandResult {
	switch cmd.Kind {
	case CmdPause:
		if err := e.d.Store.SetPaused(true, "api"); err != nil {
			return CommandResult{OK: false, Message: err.Error()}
		}
		return CommandResult{OK: true, Message: "new entries paused"}

	case CmdResume:
		if err := e.d.Store.SetPaused(false, "api"); err != nil {
			return CommandResult{OK: false, Message: err.Error()}
		}
		return CommandResult{OK: true, Message: "new entries resumed"}

	case CmdCloseSymbol:
		if cmd.Symbol == "" {
			return CommandResult{OK: false, Message: "symbol required"}
		}
		reason := cmd.Reason
		if reason == "" {
			reason = "manual"
		}
		if err := e.d.Router.Close(ctx, cmd.Symbol, reason); err != nil {
			return CommandResult{OK: false, Message: err.Error()}
		}
		return CommandResult{OK: true, Message: fmt.Sprintf("%s closed", cmd.Symbol)}

	case CmdCloseAll:
		reason := cmd.Reason
		if reason == "" {
			reason = "manual_close_all"
		}
		errs := e.d.Router.CloseAll(ctx, reason)
		if len(errs) > 0 {
			return CommandResult{OK: false, Message: fmt.Sprintf("%d close failures", len(errs))}
		}
		return CommandResult{OK: true, Message: "all positions closed"}

	case CmdKillSwitch:
		e.d.Kill.Set(cmd.Engage, cmd.Reason)
		if cmd.Engage {
			return CommandResult{OK: true, Message: "kill switch engaged"}
		}
		return CommandResult{OK: true, Message: "kill switch released"}

	case CmdSetParam:
		if err := e.d.Store.UpdateParam(cmd.Param, cmd.Value, "api"); err != nil {
			return CommandResult{OK: false, Message: err.Error()}
		}
		return CommandResult{OK: true, Message: fmt.Sprintf("%s = %v", cmd.Param, cmd.Value)}
	}
	return CommandResult{OK: false, Message: fmt.Sprintf("unknown command %q", cmd.Kind)}
}
