package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/bulbsync/internal/accessory"
	"github.com/dokzlo13/bulbsync/internal/clock"
	"github.com/dokzlo13/bulbsync/internal/cloud"
	"github.com/dokzlo13/bulbsync/internal/eventbus"
	"github.com/dokzlo13/bulbsync/internal/ledger"
)

var epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type capturePublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturePublisher) Publish(e eventbus.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *capturePublisher) commands() []cloud.ModeCommand {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []cloud.ModeCommand
	for _, e := range p.events {
		out = append(out, e.Data["command"].(cloud.ModeCommand))
	}
	return out
}

type countingUpdater struct {
	calls int
}

func (u *countingUpdater) UpdateAccessories(accs []*accessory.Accessory) error {
	u.calls++
	return nil
}

func newAccessory(mode string, brightness int) *accessory.Accessory {
	a := accessory.New("Desk", accessory.UUIDFor("b1"))
	a.SetDevice(cloud.Device{
		BulbID:     "b1",
		GroupID:    "g1",
		ModeID:     mode,
		Brightness: brightness,
		Red:        10,
		Green:      20,
		Blue:       30,
		Violet:     40,
		WhiteColor: 50,
	})
	a.Project()
	return a
}

func TestApplyPower_Off(t *testing.T) {
	clk := clock.NewMock(epoch)
	pub := &capturePublisher{}
	upd := &countingUpdater{}
	a := newAccessory("calm5", 70)
	r := New(a, pub, upd, clk, "calm5")

	r.ApplyPower(false)

	cmds := pub.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, cloud.ModeCommand{
		GroupID:    "g1",
		ModeID:     cloud.ModeOff,
		Brightness: OffBrightness,
		Red:        10,
		Green:      20,
		Blue:       30,
		Violet:     40,
		WhiteColor: 50,
	}, cmds[0])

	assert.Equal(t, cloud.ModeOff, a.Device().ModeID)
	assert.Equal(t, OffBrightness, a.Device().Brightness)
	assert.False(t, a.Power.Value())
	assert.Equal(t, epoch, a.LastChanged())
	assert.Equal(t, 1, upd.calls)
}

func TestApplyPower_OnRestoresBrightness(t *testing.T) {
	pub := &capturePublisher{}
	a := newAccessory("calm5", 70)
	r := New(a, pub, nil, clock.NewMock(epoch), "calm5")

	r.ApplyPower(false)
	r.ApplyPower(true)

	cmds := pub.commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, "calm5", cmds[1].ModeID)
	assert.Equal(t, 70, cmds[1].Brightness)
	assert.True(t, a.Power.Value())
	assert.Equal(t, 70, a.Brightness.Value())
}

func TestApplyPower_OnUsesLatestPolledBrightness(t *testing.T) {
	pub := &capturePublisher{}
	a := newAccessory("calm5", 70)
	r := New(a, pub, nil, clock.NewMock(epoch), "calm5")

	r.ApplyPower(false)

	// Switched on and off again from the vendor app, seen through polls
	a.Update(func(d *cloud.Device) { d.ModeID, d.Brightness = "calm5", 40 })
	a.Update(func(d *cloud.Device) { d.ModeID, d.Brightness = cloud.ModeOff, 40 })

	r.ApplyPower(true)

	assert.Equal(t, 40, a.Device().Brightness)
	assert.Equal(t, 40, a.Brightness.Value())
	cmds := pub.commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, 40, cmds[1].Brightness)
}

func TestApplyPower_ChangeTimeIsSetWithTheMutation(t *testing.T) {
	clk := clock.NewMock(epoch)
	a := newAccessory("calm5", 70)
	var seen []time.Time
	upd := updaterFunc(func(accs []*accessory.Accessory) error {
		seen = append(seen, accs[0].LastChanged())
		return nil
	})
	r := New(a, &capturePublisher{}, upd, clk, "calm5")

	clk.Advance(time.Minute)
	r.ApplyBrightness(20)

	require.Len(t, seen, 1)
	assert.Equal(t, epoch.Add(time.Minute), seen[0])
}

type updaterFunc func([]*accessory.Accessory) error

func (f updaterFunc) UpdateAccessories(accs []*accessory.Accessory) error { return f(accs) }

func TestApplyPower_OnKeepsKnownBrightness(t *testing.T) {
	pub := &capturePublisher{}
	a := newAccessory(cloud.ModeOff, 40)
	r := New(a, pub, nil, clock.NewMock(epoch), "sunrise")

	r.ApplyPower(true)

	assert.Equal(t, "sunrise", a.Device().ModeID)
	assert.Equal(t, 40, a.Device().Brightness)
	assert.True(t, a.Power.Value())
}

func TestApplyBrightness_TurnsOn(t *testing.T) {
	clk := clock.NewMock(epoch)
	pub := &capturePublisher{}
	a := newAccessory(cloud.ModeOff, 5)
	r := New(a, pub, nil, clk, "calm5")

	clk.Advance(time.Minute)
	r.ApplyBrightness(30)

	assert.Equal(t, "calm5", a.Device().ModeID)
	assert.Equal(t, 30, a.Device().Brightness)
	assert.True(t, a.Power.Value())
	assert.Equal(t, 30, a.Brightness.Value())
	assert.Equal(t, epoch.Add(time.Minute), a.LastChanged())

	cmds := pub.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, 30, cmds[0].Brightness)
	assert.Equal(t, "calm5", cmds[0].ModeID)
}

func TestBind_CharacteristicSetReachesRelay(t *testing.T) {
	pub := &capturePublisher{}
	a := newAccessory("calm5", 70)
	New(a, pub, nil, clock.NewMock(epoch), "calm5").Bind()

	a.Power.Set(false)
	assert.Equal(t, cloud.ModeOff, a.Device().ModeID)

	a.Brightness.Set(55)
	assert.Equal(t, 55, a.Device().Brightness)
	assert.True(t, a.Power.Value())
	assert.Len(t, pub.commands(), 2)
}

type blockingSender struct {
	release chan struct{}
	err     error

	mu   sync.Mutex
	sent []cloud.ModeCommand
}

func (s *blockingSender) StartRoomMode(ctx context.Context, cmd cloud.ModeCommand) error {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, cmd)
	return s.err
}

func (s *blockingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type memoryRecorder struct {
	mu      sync.Mutex
	entries []ledger.EventType
	last    map[string]any
}

func (m *memoryRecorder) Append(eventType ledger.EventType, acc string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, eventType)
	m.last = payload
	return nil
}

func (m *memoryRecorder) types() []ledger.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.EventType(nil), m.entries...)
}

func TestApplyPower_DoesNotWaitForCloud(t *testing.T) {
	bus := eventbus.NewWithConfig(1, 10)
	sender := &blockingSender{release: make(chan struct{})}
	NewUplink(context.Background(), sender, 100, nil).Subscribe(bus)

	a := newAccessory("calm5", 70)
	r := New(a, bus, nil, clock.NewMock(epoch), "calm5")

	returned := make(chan struct{})
	go func() {
		r.ApplyPower(false)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("ApplyPower blocked on the upstream send")
	}
	assert.False(t, a.Power.Value())
	assert.Equal(t, 0, sender.count())

	close(sender.release)
	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, time.Millisecond)
	bus.Close(context.Background())
}

func TestUplink_FailureIsRecordedWithoutRollback(t *testing.T) {
	bus := eventbus.NewWithConfig(1, 10)
	sender := &blockingSender{err: errors.New("cloud unavailable")}
	rec := &memoryRecorder{}
	NewUplink(context.Background(), sender, 100, rec).Subscribe(bus)

	a := newAccessory("calm5", 70)
	New(a, bus, nil, clock.NewMock(epoch), "calm5").ApplyPower(false)

	require.Eventually(t, func() bool { return len(rec.types()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []ledger.EventType{ledger.EventCommandFailed}, rec.types())
	assert.Equal(t, "cloud unavailable", rec.last["error"])
	assert.Equal(t, cloud.ModeOff, a.Device().ModeID)
	assert.False(t, a.Power.Value())
	bus.Close(context.Background())
}

func TestUplink_SuccessIsRecorded(t *testing.T) {
	sender := &blockingSender{}
	rec := &memoryRecorder{}
	u := NewUplink(context.Background(), sender, 100, rec)

	u.Handle(eventbus.Event{
		Type: eventbus.EventTypeCommand,
		Data: map[string]interface{}{
			"uuid":    "u1",
			"command": cloud.ModeCommand{GroupID: "g1", ModeID: "calm5", Brightness: 30},
		},
	})

	assert.Equal(t, 1, sender.count())
	assert.Equal(t, []ledger.EventType{ledger.EventCommandSent}, rec.types())
	assert.Equal(t, "calm5", rec.last["modeId"])
}

func TestUplink_IgnoresMalformedEvent(t *testing.T) {
	sender := &blockingSender{}
	u := NewUplink(context.Background(), sender, 100, nil)

	u.Handle(eventbus.Event{Type: eventbus.EventTypeCommand, Data: map[string]interface{}{"uuid": "u1"}})
	assert.Equal(t, 0, sender.count())
}
