package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hrygo/lineai/plugin/ai/event"
	errs "github.com/hrygo/lineai/server/internal/errors"
	"github.com/hrygo/lineai/server/internal/observability"
)

// Built-in commands.
const (
	CommandClear  = "/clear"
	CommandSwitch = "/switch"
)

// Command replies.
const (
	ReplyCleared      = "對話已清除。"
	ReplySwitched     = "已切換至模型 %s。"
	ReplySwitchFailed = "無法切換至模型 %s。"
	ReplySwitchUsage  = "用法：/switch <模型名稱>"
)

type command struct {
	name string
	arg  string
}

// parseCommand recognizes the built-in commands. Anything else, including
// unknown slash words, is ordinary text.
func parseCommand(text string) (command, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return command{}, false
	}
	switch name := strings.ToLower(fields[0]); name {
	case CommandClear, CommandSwitch:
		return command{name: name, arg: strings.Join(fields[1:], " ")}, true
	}
	return command{}, false
}

func (s *Service) runCommand(ctx context.Context, rc *observability.RequestContext, userID string, cmd command) Result {
	sess, release, err := s.sessions.Acquire(ctx, userID)
	if err != nil {
		return s.fail(rc, classify(err))
	}
	defer release()

	rc.Info("command received", slog.String("command", cmd.name))

	switch cmd.name {
	case CommandClear:
		sess.Conversation().ClearContext()
		return Result{Success: true, Response: ReplyCleared, Model: sess.Model()}

	case CommandSwitch:
		if cmd.arg == "" {
			result := s.fail(rc, errs.ValidationFailed("model name is required"))
			result.Response = ReplySwitchUsage
			return result
		}
		previous := sess.Model()
		if err := sess.SwitchModel(cmd.arg); err != nil {
			result := s.fail(rc, errs.ModelSwitchFailed(cmd.arg, err))
			result.Response = fmt.Sprintf(ReplySwitchFailed, cmd.arg)
			result.Model = previous
			return result
		}
		s.notifier.Notify(ctx, event.ModelSwitched, userID, map[string]any{
			"from": previous,
			"to":   cmd.arg,
		})
		return Result{Success: true, Response: fmt.Sprintf(ReplySwitched, cmd.arg), Model: cmd.arg}
	}

	return s.fail(rc, errs.Internal("unhandled command", fmt.Errorf("%s", cmd.name)))
}
