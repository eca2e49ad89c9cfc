package hostcall

import (
	"context"
	"time"

	"github.com/lunatic-solutions/lunatic/id"
	"github.com/lunatic-solutions/lunatic/message"
	"github.com/lunatic-solutions/lunatic/process"
	"github.com/lunatic-solutions/lunatic/runtimeglue"
	"github.com/lunatic-solutions/lunatic/signal"
)

// spawnArgRecordSize is the byte width of one encoded spawn argument: a
// 1-byte type tag followed by a 16-byte little-endian value, wide enough
// to hold a v128 (spec §4.5 "[type_tag:1|value_le:16]").
const spawnArgRecordSize = 17

// CompileModule compiles wasm bytes and stores the result in Modules,
// returning its process-local id (spec §6 compile_module). Traps if
// canCompile is false.
func (c *Caller) CompileModule(ctx context.Context, wasm []byte, canCompile bool) (int64, error) {
	if !canCompile {
		return 0, trap("compile_module: capability not granted")
	}
	mod, err := c.Exec.Compile(ctx, wasm)
	if err != nil {
		return 0, trap("compile_module: %v", err)
	}
	return int64(c.Modules.Put(mod)), nil
}

// DropModule discards a compiled module (spec §6 drop_module).
func (c *Caller) DropModule(moduleID int64) error {
	if _, ok := c.Modules.Take(uint64(moduleID)); !ok {
		return trap("drop_module: no module %d", moduleID)
	}
	return nil
}

// CreateConfig allocates a default ProcessConfig and returns its id, −1 if
// the caller's own config lacks can_create_configs (spec §6 create_config,
// §7 "capability denial... return a distinguished code (−1)").
func (c *Caller) CreateConfig(maxMemory uint64) int64 {
	if !c.Proc.Config().CanCreateConfigs {
		return -1
	}
	return int64(c.Configs.Put(&runtimeglue.ProcessConfig{MaxMemoryBytes: maxMemory}))
}

// DropConfig discards a config (spec §6 drop_config).
func (c *Caller) DropConfig(configID int64) error {
	if _, ok := c.Configs.Take(uint64(configID)); !ok {
		return trap("drop_config: no config %d", configID)
	}
	return nil
}

func (c *Caller) config(configID int64) (*runtimeglue.ProcessConfig, error) {
	cfg, ok := c.Configs.Get(uint64(configID))
	if !ok {
		return nil, trap("config: no config %d", configID)
	}
	return cfg, nil
}

func (c *Caller) ConfigSetMaxMemory(configID int64, v uint64) error {
	cfg, err := c.config(configID)
	if err != nil {
		return err
	}
	cfg.MaxMemoryBytes = v
	return nil
}

func (c *Caller) ConfigGetMaxMemory(configID int64) (uint64, error) {
	cfg, err := c.config(configID)
	if err != nil {
		return 0, err
	}
	return cfg.MaxMemoryBytes, nil
}

// ConfigSetMaxFuel sets the config's fuel limit; 0 means unlimited (spec §6
// config_set_max_fuel).
func (c *Caller) ConfigSetMaxFuel(configID int64, v uint64) error {
	cfg, err := c.config(configID)
	if err != nil {
		return err
	}
	if v == 0 {
		cfg.MaxFuel = nil
		return nil
	}
	cfg.MaxFuel = &v
	return nil
}

// ConfigGetMaxFuel returns the config's fuel limit, 0 for unlimited (spec §6
// config_get_max_fuel).
func (c *Caller) ConfigGetMaxFuel(configID int64) (uint64, error) {
	cfg, err := c.config(configID)
	if err != nil {
		return 0, err
	}
	if cfg.MaxFuel == nil {
		return 0, nil
	}
	return *cfg.MaxFuel, nil
}

func (c *Caller) ConfigSetCanCompileModules(configID int64, v bool) error {
	cfg, err := c.config(configID)
	if err != nil {
		return err
	}
	cfg.CanCompileModules = v
	return nil
}

func (c *Caller) ConfigGetCanCompileModules(configID int64) (bool, error) {
	cfg, err := c.config(configID)
	if err != nil {
		return false, err
	}
	return cfg.CanCompileModules, nil
}

func (c *Caller) ConfigSetCanCreateConfigs(configID int64, v bool) error {
	cfg, err := c.config(configID)
	if err != nil {
		return err
	}
	cfg.CanCreateConfigs = v
	return nil
}

func (c *Caller) ConfigGetCanCreateConfigs(configID int64) (bool, error) {
	cfg, err := c.config(configID)
	if err != nil {
		return false, err
	}
	return cfg.CanCreateConfigs, nil
}

func (c *Caller) ConfigSetCanSpawnProcesses(configID int64, v bool) error {
	cfg, err := c.config(configID)
	if err != nil {
		return err
	}
	cfg.CanSpawnProcesses = v
	return nil
}

func (c *Caller) ConfigGetCanSpawnProcesses(configID int64) (bool, error) {
	cfg, err := c.config(configID)
	if err != nil {
		return false, err
	}
	return cfg.CanSpawnProcesses, nil
}

// Spawn decodes paramsPtr as a sequence of spawnArgRecordSize-byte records
// (spec §4.5) and starts a new process from moduleID/configID, optionally
// linked back to the caller (spec §6 spawn). Returns −1, doing no work at
// all, if the caller's own config lacks can_spawn_processes (spec §4.5
// "spawn requires can_spawn_processes", §7 capability denial).
func (c *Caller) Spawn(ctx context.Context, moduleID, configID int64, entry string, paramsPtr int64, paramCount int32, link bool, linkTag int64) (int64, error) {
	if !c.Proc.Config().CanSpawnProcesses {
		return -1, nil
	}
	mod, ok := c.Modules.Get(uint64(moduleID))
	if !ok {
		return 0, trap("spawn: no module %d", moduleID)
	}
	cfg, err := c.config(configID)
	if err != nil {
		return 0, err
	}
	params, err := c.decodeSpawnParams(paramsPtr, paramCount)
	if err != nil {
		return 0, err
	}

	var linkReq *process.LinkRequest
	if link {
		linkReq = &process.LinkRequest{Parent: c.Proc, Tag: message.NewTagFromABI(linkTag)}
	}

	child, _, err := process.SpawnCompiled(ctx, c.Env, c.Exec, mod, *cfg, entry, params, linkReq)
	if err != nil {
		return 0, trap("spawn: %v", err)
	}
	return int64(child.ID()), nil
}

func (c *Caller) decodeSpawnParams(ptr int64, count int32) ([]runtimeglue.Value, error) {
	if count == 0 {
		return nil, nil
	}
	if count < 0 {
		return nil, trap("spawn: negative param count %d", count)
	}
	buf, err := c.readGuestBytes(ptr, int64(count)*spawnArgRecordSize)
	if err != nil {
		return nil, err
	}
	out := make([]runtimeglue.Value, count)
	for i := 0; i < int(count); i++ {
		rec := buf[i*spawnArgRecordSize : (i+1)*spawnArgRecordSize]
		switch rec[0] {
		case byte(runtimeglue.ValueI32):
			out[i] = runtimeglue.Value{Kind: runtimeglue.ValueI32, I32: int32(getLE64(rec[1:9]))}
		case byte(runtimeglue.ValueI64):
			out[i] = runtimeglue.Value{Kind: runtimeglue.ValueI64, I64: int64(getLE64(rec[1:9]))}
		case byte(runtimeglue.ValueV128):
			var v [16]byte
			copy(v[:], rec[1:17])
			out[i] = runtimeglue.Value{Kind: runtimeglue.ValueV128, V128: v}
		default:
			return nil, trap("spawn: unknown value type tag %d", rec[0])
		}
	}
	return out, nil
}

// SleepMs parks the calling goroutine for ms milliseconds, returning early
// with ctx's error if ctx is done first (spec §6 sleep_ms). A Kill signal
// stops the process's driver loop but does not cut the sleep short.
func (c *Caller) SleepMs(ctx context.Context, ms int64) error {
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DieWhenLinkDies sets the caller's own flag (spec §6 die_when_link_dies).
func (c *Caller) DieWhenLinkDies(v bool) {
	c.Proc.Handle().Send(signal.DieWhenLinkDies(v))
}

// ProcessID returns the caller's own id (spec §6 process_id).
func (c *Caller) ProcessID() int64 { return int64(c.Proc.ID()) }

// EnvironmentID returns the caller's environment id (spec §6 environment_id).
func (c *Caller) EnvironmentID() int64 { return int64(c.Env.ID()) }

// Link establishes a bidirectional link between the caller and peerPID
// (spec §6 link): both processes record each other, stamped with tag on
// the caller's side.
func (c *Caller) Link(peerPID int64, tag int64) error {
	peer, ok := c.Env.Lookup(id.ProcessId(peerPID))
	if !ok {
		return trap("link: no process %d", peerPID)
	}
	c.Proc.Handle().Send(signal.Link(message.NewTagFromABI(tag), peer))
	peer.Send(signal.Link(message.NoTag, c.Proc.Handle()))
	return nil
}

// Unlink removes any link between the caller and peerPID (spec §6 unlink).
func (c *Caller) Unlink(peerPID int64) {
	pid := id.ProcessId(peerPID)
	c.Proc.Handle().Send(signal.UnLink(pid))
	if peer, ok := c.Env.Lookup(pid); ok {
		peer.Send(signal.UnLink(c.Proc.ID()))
	}
}

// Kill requests peerPID terminate (spec §6 kill). A no-op if peerPID is not
// live, matching the at-most-once signal delivery policy.
func (c *Caller) Kill(peerPID int64) {
	if peer, ok := c.Env.Lookup(id.ProcessId(peerPID)); ok {
		peer.Send(signal.Kill())
	}
}

// Exists reports whether peerPID is currently live (spec §6 exists).
func (c *Caller) Exists(peerPID int64) bool {
	return c.Env.Exists(id.ProcessId(peerPID))
}
