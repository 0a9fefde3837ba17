package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/toolbridge/internal/channel"
	"github.com/haasonsaas/toolbridge/internal/config"
	"github.com/haasonsaas/toolbridge/internal/conversation"
	"github.com/haasonsaas/toolbridge/internal/llm"
	"github.com/haasonsaas/toolbridge/internal/toolexec"
	"github.com/haasonsaas/toolbridge/pkg/models"
)

// Orchestrator is C5: it owns the session table and drives each
// connection's state machine and turn loop, wiring together C1 (via the
// executor's applier), C2, C3, and C4 for every `chat` frame.
type Orchestrator struct {
	Table    *Table
	Manager  *conversation.Manager
	Pipeline *llm.Pipeline
	Executor *toolexec.Executor
	Tools    func() []*models.ToolDescriptor

	SystemPrompt string
	Cfg          config.SessionConfig
	Provider     config.LLMProviderConfig
}

// ServeConn runs one connection end-to-end: it creates a session, sends
// connection_established, and dispatches frames until the connection
// closes, mirroring §4.5's state table.
func (o *Orchestrator) ServeConn(conn *channel.Conn) {
	now := time.Now()
	sess := o.Table.Create(now)
	defer o.Table.Remove(sess.ID)

	if err := conn.Send(channel.ConnectionEstablished(sess.ID, now)); err != nil {
		return
	}

	conn.Run(func(frameType string, raw []byte) error {
		sess.Touch(time.Now())
		return o.dispatch(conn, sess, frameType, raw)
	})

	sess.SetState(models.StateClosed)
}

func (o *Orchestrator) dispatch(conn *channel.Conn, sess *models.Session, frameType string, raw []byte) error {
	switch frameType {
	case "auth":
		return o.handleAuth(conn, sess, raw)
	case "logout":
		return o.handleLogout(conn, sess)
	case "ping":
		return conn.Send(channel.Pong())
	case "chat":
		return o.handleChat(conn, sess, raw)
	default:
		return fmt.Errorf("unknown frame type %q", frameType)
	}
}

func (o *Orchestrator) handleAuth(conn *channel.Conn, sess *models.Session, raw []byte) error {
	var f channel.AuthFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return conn.Send(channel.AuthFailed(err.Error()))
	}
	creds, err := channel.ToCredentials(f)
	if err != nil {
		return conn.Send(channel.AuthFailed(err.Error()))
	}
	sess.SetCredentials(creds)
	if sess.State() == models.StateOpenUnauth {
		sess.SetState(models.StateOpenAuth)
	}
	return conn.Send(channel.AuthConfigured(f.AuthType, time.Now()))
}

func (o *Orchestrator) handleLogout(conn *channel.Conn, sess *models.Session) error {
	sess.ClearCredentials()
	if sess.State() == models.StateOpenAuth {
		sess.SetState(models.StateOpenUnauth)
	}
	return conn.Send(channel.LogoutSuccess("credentials cleared"))
}

// handleChat runs the full turn loop for one `chat` frame, per §4.5: it
// appends the user message, invokes C4, and repeats tool fan-out + C4
// re-invocation until a terminal text reply or a budget is exhausted.
func (o *Orchestrator) handleChat(conn *channel.Conn, sess *models.Session, raw []byte) error {
	var f channel.ChatFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return conn.Send(channel.ErrorFrame(err.Error(), time.Now()))
	}

	if !o.acquireTurn(sess) {
		return conn.Send(channel.BusyFrame("a turn is already in progress", time.Now()))
	}
	defer sess.UnlockTurn()

	sess.SetState(models.StateProcessing)
	defer sess.SetState(models.StateOpenAuth)

	ctx := conn.Context()
	timeout := o.Cfg.TurnTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := conn.Send(channel.Typing(true)); err != nil {
		return err
	}

	o.Manager.Append(sess, &models.Message{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Role:      models.RoleUser,
		CreatedAt: time.Now(),
		Content:   f.Message,
	})

	maxToolCalls := o.Cfg.MaxToolCalls
	if maxToolCalls <= 0 {
		maxToolCalls = 25
	}
	totalToolCalls := 0
	tools := o.Tools()

	for {
		resp, err := o.Pipeline.Invoke(ctx, sess, tools, o.SystemPrompt, o.Provider.Temperature, o.Provider.MaxTokens)
		if err != nil {
			slog.Error("turn failed", "session_id", sess.ID, "error", err)
			_ = conn.Send(channel.Typing(false))
			return conn.Send(channel.ErrorFrame(err.Error(), time.Now()))
		}

		if resp.Assistant != nil {
			o.Manager.Append(sess, resp.Assistant)
		}

		if len(resp.PendingToolCalls) == 0 {
			sess.IncTurnsCompleted()
			if err := conn.Send(channel.Typing(false)); err != nil {
				return err
			}
			return conn.Send(channel.AIResponse(resp.Text, nil, nil, time.Now()))
		}

		totalToolCalls += len(resp.PendingToolCalls)
		if totalToolCalls > maxToolCalls {
			if err := conn.Send(channel.Typing(false)); err != nil {
				return err
			}
			return conn.Send(channel.AIResponse("tool-call budget exhausted", resp.PendingToolCalls, nil, time.Now()))
		}

		results := o.Executor.ExecuteConcurrently(ctx, resp.PendingToolCalls, sess)
		o.Manager.Append(sess, &models.Message{
			ID:          uuid.NewString(),
			SessionID:   sess.ID,
			Role:        models.RoleTool,
			CreatedAt:   time.Now(),
			ToolResults: results,
		})
	}
}

// acquireTurn applies the configured busy_policy: "reject" fails fast if
// a turn is already in flight for this session, "queue" blocks until the
// current turn releases the gate.
func (o *Orchestrator) acquireTurn(sess *models.Session) bool {
	if o.Cfg.BusyPolicy == "queue" {
		sess.LockTurn()
		return true
	}
	return sess.TryLockTurn()
}

