package main

import (
	"context"
	"log/slog"

	"simhost/events"
	"simhost/host"
	"simhost/logsink"
	"simhost/shared"
)

// attachDomainLog writes domain entries for combat, progression and state
// changes into the host log. The returned function removes them again.
func attachDomainLog(h *host.Host) (func(), error) {
	ctx := context.Background()

	combatCh, err := events.GetChannel[shared.CombatResult](h.Directory, host.CombatChannel)
	if err != nil {
		return nil, err
	}
	levelCh, err := events.GetChannel[shared.LevelUpData](h.Directory, host.LevelUpChannel)
	if err != nil {
		return nil, err
	}

	onCombat := events.NewListener(func(res shared.CombatResult) error {
		logsink.Domain(ctx, h.Log, "combat", "combat resolved",
			slog.String("attacker", res.AttackerID),
			slog.String("defender", res.DefenderID),
			slog.Int("damage", res.Damage),
			slog.Bool("critical", res.Critical),
			slog.Bool("defeated", res.Defeated))
		return nil
	})
	onLevel := events.NewListener(func(up shared.LevelUpData) error {
		logsink.Domain(ctx, h.Log, "progression", "level up",
			slog.String("entity", up.EntityID),
			slog.Int("from", up.PreviousLevel),
			slog.Int("to", up.NewLevel))
		return nil
	})
	combatCh.Register(onCombat)
	levelCh.Register(onLevel)

	sub := events.Subscribe(h.Directory.Registry(), func(rec shared.StateChangeRecord) {
		logsink.Domain(ctx, h.Log, "simulation", "state transition",
			slog.String("from", rec.PreviousState.String()),
			slog.String("to", rec.NewState.String()))
	})

	return func() {
		combatCh.Unregister(onCombat)
		levelCh.Unregister(onLevel)
		sub.Cancel()
	}, nil
}
