package events

import (
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"

	"simhost/apperrors"
)

// Factory builds an empty channel of one payload kind.
type Factory func(name string) Named

// Kinds maps a kind name used in definitions to the factory for that kind.
type Kinds map[string]Factory

// KindOf returns the factory for channels carrying T.
func KindOf[T any]() Factory {
	return func(name string) Named {
		return NewChannel[T](name)
	}
}

// Directory owns the named channels of a process and the generic registry.
type Directory struct {
	log      *slog.Logger
	kinds    Kinds
	registry *Registry

	bootOnce sync.Once
	bootErr  error

	mu       sync.RWMutex
	channels map[string]Named
	booted   bool
}

// NewDirectory creates a directory that builds channels from kinds. A nil
// logger discards directory warnings.
func NewDirectory(log *slog.Logger, kinds Kinds) *Directory {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Directory{
		log:      log,
		kinds:    kinds,
		registry: NewRegistry(),
		channels: make(map[string]Named),
	}
}

// Boot loads every definition from src. Only the first call does any work;
// later calls return the first call's result. Channels are never reloaded.
func (d *Directory) Boot(src Source) error {
	d.bootOnce.Do(func() {
		d.bootErr = d.load(src)
	})
	return d.bootErr
}

func (d *Directory) load(src Source) error {
	if src == nil {
		return apperrors.New(apperrors.CodeInvalidArgument, "event directory: nil definition source")
	}
	defs, err := src.Definitions()
	if err != nil {
		return fmt.Errorf("load channel definitions: %w", err)
	}

	loaded := make(map[string]Named, len(defs))
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			return apperrors.New(apperrors.CodeInvalidArgument, "channel definition without a name")
		}
		factory, ok := d.kinds[def.Kind]
		if !ok {
			return apperrors.WithMetadata(apperrors.CodeInvalidArgument,
				fmt.Sprintf("channel %s: unknown kind %q", name, def.Kind),
				map[string]string{"channel": name, "kind": def.Kind})
		}
		if _, dup := loaded[name]; dup {
			return apperrors.WithMetadata(apperrors.CodeAlreadyExists,
				"channel "+name+" defined twice",
				map[string]string{"channel": name})
		}
		loaded[name] = factory(name)
	}

	d.mu.Lock()
	d.channels = loaded
	d.booted = true
	d.mu.Unlock()

	d.log.Info("event directory booted", slog.Int("channels", len(loaded)))
	return nil
}

// Booted reports whether Boot has completed successfully.
func (d *Directory) Booted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.booted
}

// Lookup returns the channel registered under name, whatever its kind.
func (d *Directory) Lookup(name string) (Named, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ch, ok := d.channels[name]
	return ch, ok
}

// Names returns the loaded channel names in lexical order.
func (d *Directory) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.channels))
	for name := range d.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry returns the generic type-indexed registry hosted by d.
func (d *Directory) Registry() *Registry {
	return d.registry
}

// GetChannel returns the channel called name as a Channel[T]. A missing name
// yields a NotFound error and a channel of another kind a TypeMismatch
// error; both are logged as warnings.
func GetChannel[T any](d *Directory, name string) (*Channel[T], error) {
	named, ok := d.Lookup(name)
	if !ok {
		d.log.Warn("event channel not found", slog.String("channel", name))
		return nil, apperrors.WithMetadata(apperrors.CodeNotFound,
			"channel "+name+" not found",
			map[string]string{"channel": name})
	}
	ch, ok := named.(*Channel[T])
	if !ok {
		want := reflect.TypeFor[T]().String()
		got := named.PayloadType().String()
		d.log.Warn("event channel kind mismatch",
			slog.String("channel", name),
			slog.String("requested", want),
			slog.String("actual", got))
		return nil, apperrors.WithMetadata(apperrors.CodeTypeMismatch,
			fmt.Sprintf("channel %s carries %s, not %s", name, got, want),
			map[string]string{"channel": name, "requested": want, "actual": got})
	}
	return ch, nil
}

// RaiseByName resolves name and raises payload on it. Resolution failures are
// logged by GetChannel and returned so the caller can carry on without the
// notification.
func RaiseByName[T any](d *Directory, name string, payload T) error {
	ch, err := GetChannel[T](d, name)
	if err != nil {
		return err
	}
	return ch.Raise(payload)
}
