// Package redis provides the production implementation of the store ports on
// top of a Redis instance. State transitions run as a Lua script so the
// compare-and-swap is atomic on the server; no process-wide lock exists.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vendhub-io/vendhub/internal/hub/core"
	"github.com/vendhub-io/vendhub/internal/hub/core/model"
)

// casScript swaps the state field only when it still holds the expected
// value, records the result alongside, and drops terminal commands from the
// active set. Returns "ok" on success, "missing" when the key is gone, or
// the current state when the swap lost.
var casScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'state')
if not cur then
  return 'missing'
end
if cur ~= ARGV[1] then
  return cur
end
redis.call('HSET', KEYS[1], 'state', ARGV[2])
if ARGV[3] ~= '' then
  redis.call('HSET', KEYS[1], 'result', ARGV[3])
end
if ARGV[4] ~= '' then
  redis.call('HSET', KEYS[1], 'resultAt', ARGV[4])
end
if ARGV[5] == '1' then
  redis.call('SREM', KEYS[2], ARGV[6])
end
return 'ok'
`)

// Store implements core.Repository backed by Redis hashes.
type Store struct {
	rdb    *redis.Client
	prefix string
}

var _ core.Repository = (*Store)(nil)

// New wraps an established Redis client. Keys are namespaced under prefix.
func New(rdb *redis.Client, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

// Commands returns the command store port.
func (s *Store) Commands() core.CommandStore { return &commandStore{s} }

// Devices returns the device repository port.
func (s *Store) Devices() core.DeviceRepository { return &deviceStore{s} }

func (s *Store) commandKey(id string) string { return s.prefix + ":cmd:" + id }
func (s *Store) activeKey() string           { return s.prefix + ":cmd:active" }
func (s *Store) deviceKey(id string) string  { return s.prefix + ":device:" + id }
func (s *Store) channelKey(id string) string { return s.prefix + ":channel:" + id }

type commandStore struct{ s *Store }

var _ core.CommandStore = (*commandStore)(nil)

func (r *commandStore) Create(ctx context.Context, cmd *model.Command) error {
	key := r.s.commandKey(cmd.ID)

	set, err := r.s.rdb.HSetNX(ctx, key, "id", cmd.ID).Result()
	if err != nil {
		return fmt.Errorf("create %s: %w", cmd.ID, err)
	}
	if !set {
		return fmt.Errorf("command %s already exists", cmd.ID)
	}

	pipe := r.s.rdb.TxPipeline()
	pipe.HSet(ctx, key, encodeCommand(cmd))
	pipe.SAdd(ctx, r.s.activeKey(), cmd.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create %s: %w", cmd.ID, err)
	}
	return nil
}

func (r *commandStore) Get(ctx context.Context, tenantID, commandID string) (*model.Command, error) {
	cmd, err := r.Lookup(ctx, commandID)
	if err != nil {
		return nil, err
	}
	if cmd.TenantID != tenantID {
		return nil, fmt.Errorf("get %s: %w", commandID, core.ErrForbidden)
	}
	return cmd, nil
}

func (r *commandStore) Lookup(ctx context.Context, commandID string) (*model.Command, error) {
	fields, err := r.s.rdb.HGetAll(ctx, r.s.commandKey(commandID)).Result()
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", commandID, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("lookup %s: %w", commandID, core.ErrNotFound)
	}
	return decodeCommand(fields)
}

func (r *commandStore) Transition(ctx context.Context, commandID string, from, to model.CommandState, result json.RawMessage, resultAt *time.Time) (*model.Command, error) {
	if !model.CanTransition(from, to) {
		return nil, fmt.Errorf("transition %s: %s -> %s is not a legal edge: %w",
			commandID, from, to, core.ErrStaleTransition)
	}

	var resultArg, resultAtArg string
	if result != nil {
		resultArg = string(result)
	}
	if resultAt != nil {
		resultAtArg = resultAt.UTC().Format(time.RFC3339Nano)
	}
	terminal := "0"
	if to.Terminal() {
		terminal = "1"
	}

	keys := []string{r.s.commandKey(commandID), r.s.activeKey()}
	args := []interface{}{string(from), string(to), resultArg, resultAtArg, terminal, commandID}

	res, err := casScript.Run(ctx, r.s.rdb, keys, args...).Text()
	if err != nil {
		return nil, fmt.Errorf("transition %s: %w", commandID, err)
	}
	switch res {
	case "ok":
		return r.Lookup(ctx, commandID)
	case "missing":
		return nil, fmt.Errorf("transition %s: %w", commandID, core.ErrNotFound)
	default:
		return nil, fmt.Errorf("transition %s: state is %s, expected %s: %w",
			commandID, res, from, core.ErrStaleTransition)
	}
}

func (r *commandStore) IncrementAttempts(ctx context.Context, commandID string) error {
	key := r.s.commandKey(commandID)

	exists, err := r.s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("increment attempts %s: %w", commandID, err)
	}
	if exists == 0 {
		return fmt.Errorf("increment attempts %s: %w", commandID, core.ErrNotFound)
	}
	if err := r.s.rdb.HIncrBy(ctx, key, "attempts", 1).Err(); err != nil {
		return fmt.Errorf("increment attempts %s: %w", commandID, err)
	}
	return nil
}

func (r *commandStore) ListActive(ctx context.Context) ([]*model.Command, error) {
	ids, err := r.s.rdb.SMembers(ctx, r.s.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}

	var out []*model.Command
	for _, id := range ids {
		cmd, err := r.Lookup(ctx, id)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				// Stale index entry; self-heal.
				r.s.rdb.SRem(ctx, r.s.activeKey(), id)
				continue
			}
			return nil, err
		}
		if cmd.State.Terminal() {
			r.s.rdb.SRem(ctx, r.s.activeKey(), id)
			continue
		}
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type deviceStore struct{ s *Store }

var _ core.DeviceRepository = (*deviceStore)(nil)

func (r *deviceStore) Register(ctx context.Context, device *model.Device) error {
	key := r.s.deviceKey(device.ID)

	set, err := r.s.rdb.HSetNX(ctx, key, "id", device.ID).Result()
	if err != nil {
		return fmt.Errorf("register %s: %w", device.ID, err)
	}
	if !set {
		return nil
	}
	err = r.s.rdb.HSet(ctx, key, map[string]interface{}{
		"tenantId":     device.TenantID,
		"registeredAt": device.RegisteredAt.UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("register %s: %w", device.ID, err)
	}
	return nil
}

func (r *deviceStore) Get(ctx context.Context, tenantID, deviceID string) (*model.Device, error) {
	fields, err := r.s.rdb.HGetAll(ctx, r.s.deviceKey(deviceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", deviceID, err)
	}
	if len(fields) == 0 || fields["tenantId"] != tenantID {
		return nil, fmt.Errorf("device %s: %w", deviceID, core.ErrInvalidTarget)
	}

	device := &model.Device{ID: deviceID, TenantID: fields["tenantId"]}
	if v := fields["registeredAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			device.RegisteredAt = t
		}
	}
	return device, nil
}

func (r *deviceStore) UpdateChannelState(ctx context.Context, deviceID string, ch model.Channel, seenAt time.Time) error {
	err := r.s.rdb.HSet(ctx, r.s.channelKey(deviceID), map[string]interface{}{
		"channel":  string(ch),
		"lastSeen": seenAt.UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("update channel state %s: %w", deviceID, err)
	}
	return nil
}

func (r *deviceStore) ChannelState(ctx context.Context, deviceID string) (model.DeviceChannelState, error) {
	st := model.DeviceChannelState{DeviceID: deviceID, LastChannel: model.ChannelUnknown}

	fields, err := r.s.rdb.HGetAll(ctx, r.s.channelKey(deviceID)).Result()
	if err != nil {
		return st, fmt.Errorf("channel state %s: %w", deviceID, err)
	}
	if len(fields) == 0 {
		return st, nil
	}
	st.LastChannel = model.Channel(fields["channel"])
	if v := fields["lastSeen"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.LastSeen = t
		}
	}
	return st, nil
}

// encodeCommand flattens a command into hash fields. Timestamps are stored as
// RFC 3339 with nanoseconds so ordering survives the round trip.
func encodeCommand(cmd *model.Command) map[string]interface{} {
	fields := map[string]interface{}{
		"deviceId":  cmd.DeviceID,
		"tenantId":  cmd.TenantID,
		"kind":      string(cmd.Kind),
		"state":     string(cmd.State),
		"createdAt": cmd.CreatedAt.UTC().Format(time.RFC3339Nano),
		"deadline":  cmd.Deadline.UTC().Format(time.RFC3339Nano),
		"attempts":  cmd.Attempts,
	}
	if cmd.Payload != nil {
		fields["payload"] = string(cmd.Payload)
	}
	if cmd.Result != nil {
		fields["result"] = string(cmd.Result)
	}
	if cmd.ResultAt != nil {
		fields["resultAt"] = cmd.ResultAt.UTC().Format(time.RFC3339Nano)
	}
	return fields
}

func decodeCommand(fields map[string]string) (*model.Command, error) {
	cmd := &model.Command{
		ID:       fields["id"],
		DeviceID: fields["deviceId"],
		TenantID: fields["tenantId"],
		Kind:     model.CommandKind(fields["kind"]),
		State:    model.CommandState(fields["state"]),
	}

	var err error
	if cmd.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["createdAt"]); err != nil {
		return nil, fmt.Errorf("decode %s: createdAt: %w", cmd.ID, err)
	}
	if cmd.Deadline, err = time.Parse(time.RFC3339Nano, fields["deadline"]); err != nil {
		return nil, fmt.Errorf("decode %s: deadline: %w", cmd.ID, err)
	}
	if v := fields["payload"]; v != "" {
		cmd.Payload = json.RawMessage(v)
	}
	if v := fields["result"]; v != "" {
		cmd.Result = json.RawMessage(v)
	}
	if v := fields["resultAt"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("decode %s: resultAt: %w", cmd.ID, err)
		}
		cmd.ResultAt = &t
	}
	if v := fields["attempts"]; v != "" {
		if cmd.Attempts, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("decode %s: attempts: %w", cmd.ID, err)
		}
	}
	return cmd, nil
}
