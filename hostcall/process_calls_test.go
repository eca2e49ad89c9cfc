package hostcall

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunatic-solutions/lunatic/environment"
	"github.com/lunatic-solutions/lunatic/id"
	"github.com/lunatic-solutions/lunatic/process"
	"github.com/lunatic-solutions/lunatic/runtimeglue"
	"github.com/lunatic-solutions/lunatic/runtimeglue/runtimegluetest"
)

// newRestrictedCaller builds a Caller whose own process runs under cfg,
// unlike newTestCaller's all-capabilities default, for exercising capability
// denial on the *caller's* side rather than a config it merely holds a
// handle to.
func newRestrictedCaller(t *testing.T, env *environment.Environment, cfg runtimeglue.ProcessConfig) *Caller {
	t.Helper()
	pid := env.NextProcessID()
	p := process.New(pid, env, cfg)
	env.Insert(pid, p.Handle())
	mem := runtimegluetest.NewStandaloneMemory(1 << 16)
	return NewCaller(p, env, runtimegluetest.Executor{}, mem)
}

func init() {
	runtimegluetest.Register("ok", func(ctx context.Context, inst *runtimegluetest.Instance, params []runtimeglue.Value) runtimeglue.ExecResult {
		return runtimeglue.ExecResult{}
	})
	runtimegluetest.Register("block", func(ctx context.Context, inst *runtimegluetest.Instance, params []runtimeglue.Value) runtimeglue.ExecResult {
		<-ctx.Done()
		return runtimeglue.ExecResult{}
	})
}

func TestConfigCreateSetGetRoundTrip(t *testing.T) {
	env := environment.New(1)
	c := newTestCaller(t, env)

	cfgID := c.CreateConfig(4096)
	require.NoError(t, c.ConfigSetMaxMemory(cfgID, 8192))
	v, err := c.ConfigGetMaxMemory(cfgID)
	require.NoError(t, err)
	assert.Equal(t, uint64(8192), v)

	require.NoError(t, c.ConfigSetMaxFuel(cfgID, 100))
	fuel, err := c.ConfigGetMaxFuel(cfgID)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), fuel)

	require.NoError(t, c.ConfigSetMaxFuel(cfgID, 0))
	fuel, err = c.ConfigGetMaxFuel(cfgID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), fuel, "0 means unlimited")

	require.NoError(t, c.ConfigSetCanSpawnProcesses(cfgID, true))
	canSpawn, err := c.ConfigGetCanSpawnProcesses(cfgID)
	require.NoError(t, err)
	assert.True(t, canSpawn)

	require.NoError(t, c.DropConfig(cfgID))
	_, err = c.ConfigGetMaxMemory(cfgID)
	assert.True(t, IsTrap(err))
}

func TestCompileModuleRequiresCapability(t *testing.T) {
	env := environment.New(1)
	c := newTestCaller(t, env)
	_, err := c.CompileModule(context.Background(), []byte("ok"), false)
	assert.True(t, IsTrap(err))
}

func TestCompileModuleDropModule(t *testing.T) {
	env := environment.New(1)
	c := newTestCaller(t, env)
	modID, err := c.CompileModule(context.Background(), []byte("ok"), true)
	require.NoError(t, err)
	require.NoError(t, c.DropModule(modID))
	assert.Error(t, c.DropModule(modID))
}

func TestProcessIDAndExists(t *testing.T) {
	env := environment.New(1)
	c := newTestCaller(t, env)
	assert.Equal(t, int64(c.Proc.ID()), c.ProcessID())
	assert.True(t, c.Exists(c.ProcessID()))
	assert.False(t, c.Exists(99999))
}

func TestSpawnDecodesParamsAndLinks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := environment.New(1)
	c := newTestCaller(t, env)

	modID, err := c.CompileModule(ctx, []byte("block"), true)
	require.NoError(t, err)
	cfgID := c.CreateConfig(0)
	require.NoError(t, c.ConfigSetCanSpawnProcesses(cfgID, true))

	childPID, err := c.Spawn(ctx, modID, cfgID, "_start", 0, 0, true, 7)
	require.NoError(t, err)
	assert.NotZero(t, childPID)
	assert.True(t, env.Exists(id.ProcessId(childPID)))
}

func TestCreateConfigRequiresCallersOwnCapability(t *testing.T) {
	env := environment.New(1)
	c := newRestrictedCaller(t, env, runtimeglue.ProcessConfig{CanCreateConfigs: false})
	assert.Equal(t, int64(-1), c.CreateConfig(0))
}

func TestSpawnRequiresCallersOwnCapability(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := environment.New(1)
	// The caller itself cannot spawn, even though the child's own config
	// grants it every capability: the gate is the caller's, not the
	// child-to-be's (spec §4.5 "spawn requires can_spawn_processes").
	c := newRestrictedCaller(t, env, runtimeglue.ProcessConfig{CanSpawnProcesses: false})

	modID, err := c.CompileModule(ctx, []byte("block"), true)
	require.NoError(t, err)
	cfgID := c.CreateConfig(0)
	require.NoError(t, c.ConfigSetCanSpawnProcesses(cfgID, true))

	childPID, err := c.Spawn(ctx, modID, cfgID, "_start", 0, 0, true, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), childPID)
}

func TestKillUnlinkAreNoOpOnDeadTarget(t *testing.T) {
	env := environment.New(1)
	c := newTestCaller(t, env)
	c.Kill(99999)
	c.Unlink(99999)
}
