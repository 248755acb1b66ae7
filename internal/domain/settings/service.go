package settings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"vision-analyzer-go/internal/domain/eventbus"
	"vision-analyzer-go/internal/domain/settings/store"
	platformerrors "vision-analyzer-go/internal/platform/errors"
	"vision-analyzer-go/internal/platform/logging"
)

const logTag = "设置"

var (
	// ErrUnknownKey is returned for keys outside the known set.
	ErrUnknownKey = errors.New("unknown setting key")
	// ErrNotFound is returned by Get when the key has no stored value.
	ErrNotFound = store.ErrNotFound
)

// Publisher is the subset of the event bus used for change notifications.
type Publisher interface {
	Publish(topic string, args ...interface{})
}

// Entry is a key with its stored value, used for listings.
type Entry struct {
	Definition
	Value string `json:"value"`
	Set   bool   `json:"set"`
}

// Service 设置读写服务，写入和删除后同步发布 settings:changed 事件
type Service struct {
	store  store.Store
	bus    Publisher
	logger *logging.Logger
}

func NewService(st store.Store, bus Publisher, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{store: st, bus: bus, logger: logger}
}

func (s *Service) Get(ctx context.Context, key string) (string, error) {
	if _, ok := Lookup(key); !ok {
		return "", s.unknown("settings.get", key)
	}
	value, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", platformerrors.Annotate(platformerrors.KindSettings, "settings.get", fmt.Sprintf("setting %s not set", key), err)
		}
		return "", platformerrors.Wrap(platformerrors.KindStorage, "settings.get", "failed to read setting", err)
	}
	return value, nil
}

func (s *Service) Set(ctx context.Context, key, value string) error {
	def, ok := Lookup(key)
	if !ok {
		return s.unknown("settings.set", key)
	}
	if def.Boolean {
		value = strconv.FormatBool(ParseBool(value))
	}
	if err := s.store.Set(ctx, key, value); err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "settings.set", "failed to write setting", err)
	}
	if def.Secret {
		s.logger.InfoTag(logTag, "已更新 %s = %s", key, Mask(value))
	} else {
		s.logger.InfoTag(logTag, "已更新 %s = %s", key, value)
	}
	s.publish(eventbus.SettingsChangedData{Key: key})
	return nil
}

func (s *Service) Delete(ctx context.Context, key string) error {
	if _, ok := Lookup(key); !ok {
		return s.unknown("settings.delete", key)
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "settings.delete", "failed to delete setting", err)
	}
	s.logger.InfoTag(logTag, "已删除 %s", key)
	s.publish(eventbus.SettingsChangedData{Key: key, Deleted: true})
	return nil
}

// List returns every known key, set or not, sorted by key.
func (s *Service) List(ctx context.Context) ([]Entry, error) {
	values, err := s.store.List(ctx)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindStorage, "settings.list", "failed to list settings", err)
	}
	defs := Definitions()
	entries := make([]Entry, 0, len(defs))
	for _, def := range defs {
		value, set := values[def.Key]
		entries = append(entries, Entry{Definition: def, Value: value, Set: set})
	}
	return entries, nil
}

func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	values, err := s.store.List(ctx)
	if err != nil {
		return Snapshot{}, platformerrors.Wrap(platformerrors.KindStorage, "settings.snapshot", "failed to read settings", err)
	}
	return FromValues(values), nil
}

// Seed writes the given values for keys that have no stored value yet.
// It returns the number of keys written. Empty values are skipped.
func (s *Service) Seed(ctx context.Context, values map[string]string) (int, error) {
	current, err := s.store.List(ctx)
	if err != nil {
		return 0, platformerrors.Wrap(platformerrors.KindStorage, "settings.seed", "failed to read settings", err)
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	written := 0
	for _, key := range keys {
		value := values[key]
		if _, ok := Lookup(key); !ok || value == "" {
			continue
		}
		if _, exists := current[key]; exists {
			continue
		}
		if err := s.store.Set(ctx, key, value); err != nil {
			return written, platformerrors.Wrap(platformerrors.KindStorage, "settings.seed", "failed to seed setting", err)
		}
		written++
	}
	if written > 0 {
		s.logger.InfoTag(logTag, "从配置文件初始化 %d 项设置", written)
		s.publish(eventbus.SettingsChangedData{Key: "*"})
	}
	return written, nil
}

// Stats exposes the underlying store statistics.
func (s *Service) Stats(ctx context.Context) (map[string]any, error) {
	return s.store.Stats(ctx)
}

func (s *Service) publish(data eventbus.SettingsChangedData) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.EventSettingsChanged, data)
}

func (s *Service) unknown(op, key string) error {
	return platformerrors.Annotate(platformerrors.KindSettings, op, fmt.Sprintf("unknown setting key %q", key), ErrUnknownKey)
}
