package relay

import (
	"context"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/bulbsync/internal/cloud"
	"github.com/dokzlo13/bulbsync/internal/eventbus"
	"github.com/dokzlo13/bulbsync/internal/ledger"
)

// Sender starts a mode on the cloud.
type Sender interface {
	StartRoomMode(ctx context.Context, cmd cloud.ModeCommand) error
}

// Recorder keeps an audit trail of sent commands.
type Recorder interface {
	Append(eventType ledger.EventType, accessory string, payload map[string]any) error
}

// Uplink sends queued commands to the cloud, rate limited. Failures are
// logged and recorded; local state is never rolled back.
type Uplink struct {
	ctx      context.Context
	sender   Sender
	limiter  *rate.Limiter
	recorder Recorder
}

// NewUplink creates an uplink. ctx bounds every send; recorder may be nil.
func NewUplink(ctx context.Context, sender Sender, rateLimitRPS float64, recorder Recorder) *Uplink {
	if rateLimitRPS <= 0 {
		rateLimitRPS = 5.0
	}
	burst := int(rateLimitRPS)
	if burst < 1 {
		burst = 1
	}

	return &Uplink{
		ctx:      ctx,
		sender:   sender,
		limiter:  rate.NewLimiter(rate.Limit(rateLimitRPS), burst),
		recorder: recorder,
	}
}

// Subscribe registers the uplink as the command handler of bus.
func (u *Uplink) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeCommand, u.Handle)
}

// Handle sends one command event.
func (u *Uplink) Handle(event eventbus.Event) {
	cmd, ok := event.Data["command"].(cloud.ModeCommand)
	if !ok {
		log.Error().Interface("data", event.Data).Msg("Command event without command")
		return
	}
	uuid, _ := event.Data["uuid"].(string)

	if err := u.limiter.Wait(u.ctx); err != nil {
		log.Warn().Err(err).Str("uuid", uuid).Msg("Dropping command")
		u.record(ledger.EventCommandFailed, uuid, cmd, err)
		return
	}

	if err := u.sender.StartRoomMode(u.ctx, cmd); err != nil {
		log.Error().
			Err(err).
			Str("uuid", uuid).
			Str("group", cmd.GroupID).
			Str("mode", cmd.ModeID).
			Msg("Failed to send command to cloud")
		u.record(ledger.EventCommandFailed, uuid, cmd, err)
		return
	}

	u.record(ledger.EventCommandSent, uuid, cmd, nil)
}

func (u *Uplink) record(eventType ledger.EventType, uuid string, cmd cloud.ModeCommand, cause error) {
	if u.recorder == nil {
		return
	}
	payload := map[string]any{
		"groupId":    cmd.GroupID,
		"modeId":     cmd.ModeID,
		"brightness": cmd.Brightness,
	}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	if err := u.recorder.Append(eventType, uuid, payload); err != nil {
		log.Warn().Err(err).Msg("Failed to record command")
	}
}
